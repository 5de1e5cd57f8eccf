package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// The fake's whole reason to exist is skip-locked emulation: a row claimed
// by one open transaction must be invisible to every other transaction's
// claims until the first commits or rolls back.

func TestClaimPendingTask_HeldRowInvisibleToSecondTx(t *testing.T) {
	s := New()
	s.SeedTask(taskorder.TaskOrder{TaskID: "task-1", Status: taskorder.StatusPending, CreatedAt: time.Now()})
	ctx := context.Background()

	tx1, _ := s.Begin(ctx)
	tx2, _ := s.Begin(ctx)

	_, ok, err := tx1.ClaimPendingTask(ctx)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	_, ok, err = tx2.ClaimPendingTask(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("second transaction claimed a task already held by the first")
	}

	_ = tx1.Rollback(ctx)
	_ = tx2.Rollback(ctx)
}

func TestClaimReadyAssets_HeldRowInvisibleToSecondTx(t *testing.T) {
	s := New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady})
	ctx := context.Background()
	hint := taskorder.ResourceHint{SKUCategory: "RAW_NET", MinCount: 1}

	tx1, _ := s.Begin(ctx)
	tx2, _ := s.Begin(ctx)

	got1, err := tx1.ClaimReadyAssets(ctx, hint, 1)
	if err != nil || len(got1) != 1 {
		t.Fatalf("first claim: got %d err=%v", len(got1), err)
	}

	got2, err := tx2.ClaimReadyAssets(ctx, hint, 1)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(got2) != 0 {
		t.Fatal("second transaction claimed an asset already held by the first")
	}

	_ = tx1.Rollback(ctx)
	_ = tx2.Rollback(ctx)
}

func TestRollback_ReleasesHeldRowsUnchanged(t *testing.T) {
	s := New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady})
	ctx := context.Background()
	hint := taskorder.ResourceHint{SKUCategory: "RAW_NET", MinCount: 1}

	tx1, _ := s.Begin(ctx)
	if _, err := tx1.ClaimReadyAssets(ctx, hint, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := tx1.LockAssets(ctx, []string{"asset-1"}, "lock-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx1.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	a, _ := s.Asset("asset-1")
	if a.Status != asset.StatusReady || a.LockID != nil {
		t.Fatalf("asset after rollback = %+v, want untouched READY", a)
	}

	// The row must be claimable again once released.
	tx2, _ := s.Begin(ctx)
	got, err := tx2.ClaimReadyAssets(ctx, hint, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("reclaim after rollback: got %d err=%v", len(got), err)
	}
	_ = tx2.Rollback(ctx)
}

func TestCommit_PublishesStagedWrites(t *testing.T) {
	s := New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady})
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	if err := tx.LockAssets(ctx, []string{"asset-1"}, "lock-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Staged writes are invisible outside the transaction until commit.
	a, _ := s.Asset("asset-1")
	if a.Status != asset.StatusReady {
		t.Fatalf("asset before commit = %s, want READY", a.Status)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	a, _ = s.Asset("asset-1")
	if a.Status != asset.StatusLocked {
		t.Fatalf("asset after commit = %s, want LOCKED", a.Status)
	}
}
