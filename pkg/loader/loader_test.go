package loader

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ridgeline-systems/creep/internal/storetest"
	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/janitor"
	"github.com/ridgeline-systems/creep/pkg/queue"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

type fakeQueue struct {
	pushed [][]byte
	err    error
}

func (q *fakeQueue) Push(ctx context.Context, name string, payloads ...[]byte) error {
	if q.err != nil {
		return q.err
	}
	q.pushed = append(q.pushed, payloads...)
	return nil
}

func (q *fakeQueue) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	panic("not used by loader tests")
}

var _ queue.Queue = (*fakeQueue)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSync_MatchAndLease(t *testing.T) {
	s := storetest.New()
	s.SeedAsset(asset.Asset{ID: "asset-us", SKUCategory: "RAW_NET", Status: asset.StatusReady, MetaSpec: map[string]any{"geo": "US"}})
	s.SeedAsset(asset.Asset{ID: "asset-uk", SKUCategory: "RAW_NET", Status: asset.StatusReady, MetaSpec: map[string]any{"geo": "UK"}})
	s.SeedTask(taskorder.TaskOrder{
		TaskID:    "task-uk",
		TenantID:  "tenant-1",
		Status:    taskorder.StatusPending,
		CreatedAt: time.Now(),
		TimeoutMS: 5000,
		ResourceHints: []taskorder.ResourceHint{
			{SKUCategory: "RAW_NET", MinCount: 1, Attributes: map[string]string{"geo": "UK"}},
		},
	})

	q := &fakeQueue{}
	l := New(s, q, "worker-queue", discardLogger())

	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !published {
		t.Fatal("expected published=true")
	}
	if len(q.pushed) != 1 {
		t.Fatalf("expected 1 push, got %d", len(q.pushed))
	}

	var payload workerPayload
	if err := json.Unmarshal(q.pushed[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TaskID != "task-uk" || len(payload.LeaseIDs) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	uk, _ := s.Asset("asset-uk")
	if uk.Status != asset.StatusLocked {
		t.Fatalf("asset-uk status = %s, want LOCKED", uk.Status)
	}
	us, _ := s.Asset("asset-us")
	if us.Status != asset.StatusReady {
		t.Fatalf("asset-us status = %s, want untouched READY", us.Status)
	}

	task, _ := s.Task("task-uk")
	if task.Status != taskorder.StatusQueued {
		t.Fatalf("task-uk status = %s, want QUEUED", task.Status)
	}
}

func TestSync_InsufficientInventory(t *testing.T) {
	s := storetest.New()
	s.SeedAsset(asset.Asset{ID: "asset-us", SKUCategory: "RAW_NET", Status: asset.StatusReady, MetaSpec: map[string]any{"geo": "US"}})
	s.SeedTask(taskorder.TaskOrder{
		TaskID:    "task-uk",
		TenantID:  "tenant-1",
		Status:    taskorder.StatusPending,
		CreatedAt: time.Now(),
		TimeoutMS: 5000,
		ResourceHints: []taskorder.ResourceHint{
			{SKUCategory: "RAW_NET", MinCount: 1, Attributes: map[string]string{"geo": "UK"}},
		},
	})

	q := &fakeQueue{}
	l := New(s, q, "worker-queue", discardLogger())

	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if published {
		t.Fatal("expected published=false")
	}
	if len(q.pushed) != 0 {
		t.Fatalf("expected no push, got %d", len(q.pushed))
	}

	us, _ := s.Asset("asset-us")
	if us.Status != asset.StatusReady {
		t.Fatalf("asset-us status = %s, want unchanged READY", us.Status)
	}
	task, _ := s.Task("task-uk")
	if task.Status != taskorder.StatusPending {
		t.Fatalf("task-uk status = %s, want unchanged PENDING", task.Status)
	}
}

func TestSync_EmptyPendingSet(t *testing.T) {
	s := storetest.New()
	q := &fakeQueue{}
	l := New(s, q, "worker-queue", discardLogger())

	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if published {
		t.Fatal("expected published=false on empty pending set")
	}
	if len(q.pushed) != 0 {
		t.Fatalf("expected no push, got %d", len(q.pushed))
	}
}

func TestSync_PriorityOrdering(t *testing.T) {
	s := storetest.New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady})
	now := time.Now()
	s.SeedTask(taskorder.TaskOrder{
		TaskID: "low-priority-older", TenantID: "t", Status: taskorder.StatusPending,
		Priority: 1, CreatedAt: now.Add(-time.Hour), TimeoutMS: 1000,
		ResourceHints: []taskorder.ResourceHint{{SKUCategory: "RAW_NET", MinCount: 1}},
	})
	s.SeedTask(taskorder.TaskOrder{
		TaskID: "high-priority-newer", TenantID: "t", Status: taskorder.StatusPending,
		Priority: 10, CreatedAt: now, TimeoutMS: 1000,
		ResourceHints: []taskorder.ResourceHint{{SKUCategory: "RAW_NET", MinCount: 1}},
	})

	q := &fakeQueue{}
	l := New(s, q, "worker-queue", discardLogger())

	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !published {
		t.Fatal("expected published=true")
	}

	var payload workerPayload
	if err := json.Unmarshal(q.pushed[0], &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.TaskID != "high-priority-newer" {
		t.Fatalf("claimed task = %s, want high-priority-newer", payload.TaskID)
	}
}

func TestSync_PublishFailureStillCommits(t *testing.T) {
	s := storetest.New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady})
	s.SeedTask(taskorder.TaskOrder{
		TaskID: "task-1", TenantID: "t", Status: taskorder.StatusPending,
		CreatedAt: time.Now(), TimeoutMS: 1000,
		ResourceHints: []taskorder.ResourceHint{{SKUCategory: "RAW_NET", MinCount: 1}},
	})

	q := &fakeQueue{err: io.ErrClosedPipe}
	l := New(s, q, "worker-queue", discardLogger())

	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !published {
		t.Fatal("expected published=true: commit happens before publish is attempted")
	}

	task, _ := s.Task("task-1")
	if task.Status != taskorder.StatusQueued {
		t.Fatalf("task-1 status = %s, want QUEUED despite publish failure", task.Status)
	}
	asset1, _ := s.Asset("asset-1")
	if asset1.Status != asset.StatusLocked {
		t.Fatalf("asset-1 status = %s, want LOCKED despite publish failure", asset1.Status)
	}
}

func TestSync_ZeroTimeoutLeaseRecoveredByNextSweep(t *testing.T) {
	s := storetest.New()
	s.SeedAsset(asset.Asset{ID: "asset-1", SKUCategory: "RAW_NET", Status: asset.StatusReady, TenantID: "t"})
	s.SeedTask(taskorder.TaskOrder{
		TaskID: "task-1", TenantID: "t", Status: taskorder.StatusPending,
		CreatedAt: time.Now(), TimeoutMS: 0,
		ResourceHints: []taskorder.ResourceHint{{SKUCategory: "RAW_NET", MinCount: 1}},
	})

	l := New(s, &fakeQueue{}, "worker-queue", discardLogger())
	published, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !published {
		t.Fatal("expected published=true")
	}

	a, _ := s.Asset("asset-1")
	if a.Status != asset.StatusLocked {
		t.Fatalf("asset-1 status = %s, want LOCKED", a.Status)
	}

	// The lock expired the instant it was written, so the very next sweep
	// returns the asset to the pool.
	j := janitor.New(s, janitor.DefaultConfig(), discardLogger(), func() string { return "event-1" })
	if err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	a, _ = s.Asset("asset-1")
	if a.Status != asset.StatusReady {
		t.Fatalf("asset-1 status = %s, want READY after sweep", a.Status)
	}
	if a.FailCount != 1 {
		t.Fatalf("fail_count = %d, want 1", a.FailCount)
	}
}

