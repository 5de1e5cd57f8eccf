// Package storetest provides an in-memory Store fake for exercising the
// Loader, Janitor, and Worker without a live Postgres instance. It emulates
// skip-locked visibility with a per-row held-set: a row claimed by an open
// transaction is invisible to every other transaction's claim queries until
// that transaction commits or rolls back.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/event"
	"github.com/ridgeline-systems/creep/pkg/ledger"
	"github.com/ridgeline-systems/creep/pkg/lease"
	"github.com/ridgeline-systems/creep/pkg/matcher"
	"github.com/ridgeline-systems/creep/pkg/store"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// FakeStore is a goroutine-safe, in-memory implementation of store.Store.
type FakeStore struct {
	mu sync.Mutex

	assets map[string]asset.Asset
	tasks  map[string]taskorder.TaskOrder
	leases map[string]lease.Lease
	Events []event.AssetEvent
	Ledger []ledger.Entry

	heldAssets map[string]bool
	heldTasks  map[string]bool
}

// New returns an empty FakeStore.
func New() *FakeStore {
	return &FakeStore{
		assets:     make(map[string]asset.Asset),
		tasks:      make(map[string]taskorder.TaskOrder),
		leases:     make(map[string]lease.Lease),
		heldAssets: make(map[string]bool),
		heldTasks:  make(map[string]bool),
	}
}

// SeedAsset inserts or replaces an asset, for test setup.
func (s *FakeStore) SeedAsset(a asset.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a
}

// SeedTask inserts or replaces a task, for test setup.
func (s *FakeStore) SeedTask(t taskorder.TaskOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = t
}

// SeedLease inserts or replaces a lease, for test setup.
func (s *FakeStore) SeedLease(l lease.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[l.LeaseID] = l
}

// Asset returns a snapshot of an asset by ID, for assertions.
func (s *FakeStore) Asset(id string) (asset.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	return a, ok
}

// Task returns a snapshot of a task by ID, for assertions.
func (s *FakeStore) Task(id string) (taskorder.TaskOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Lease returns a snapshot of a lease by ID, for assertions.
func (s *FakeStore) Lease(id string) (lease.Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	return l, ok
}

func (s *FakeStore) Begin(ctx context.Context) (store.Tx, error) {
	return &fakeTx{
		store:        s,
		assetUpdates: make(map[string]asset.Asset),
		taskUpdates:  make(map[string]taskorder.TaskOrder),
		leaseUpdates: make(map[string]lease.Lease),
	}, nil
}

type fakeTx struct {
	store *FakeStore

	heldAssetIDs []string
	heldTaskIDs  []string

	assetUpdates map[string]asset.Asset
	taskUpdates  map[string]taskorder.TaskOrder
	newLeases    []lease.Lease
	leaseUpdates map[string]lease.Lease
	newEvents    []event.AssetEvent
	newLedger    []ledger.Entry

	ended bool
}

func (t *fakeTx) viewAsset(id string) (asset.Asset, bool) {
	if a, ok := t.assetUpdates[id]; ok {
		return a, true
	}
	a, ok := t.store.assets[id]
	return a, ok
}

func (t *fakeTx) viewTask(id string) (taskorder.TaskOrder, bool) {
	if tk, ok := t.taskUpdates[id]; ok {
		return tk, true
	}
	tk, ok := t.store.tasks[id]
	return tk, ok
}

func (t *fakeTx) viewLease(id string) (lease.Lease, bool) {
	if l, ok := t.leaseUpdates[id]; ok {
		return l, true
	}
	l, ok := t.store.leases[id]
	return l, ok
}

func (t *fakeTx) ClaimPendingTask(ctx context.Context) (taskorder.TaskOrder, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var candidates []taskorder.TaskOrder
	for id, task := range t.store.tasks {
		if t.store.heldTasks[id] {
			continue
		}
		if task.Status != taskorder.StatusPending {
			continue
		}
		candidates = append(candidates, task)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) == 0 {
		return taskorder.TaskOrder{}, false, nil
	}

	claimed := candidates[0]
	t.store.heldTasks[claimed.TaskID] = true
	t.heldTaskIDs = append(t.heldTaskIDs, claimed.TaskID)
	return claimed, true, nil
}

func (t *fakeTx) ClaimReadyAssets(ctx context.Context, hint taskorder.ResourceHint, limit int) ([]asset.Asset, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var ids []string
	for id, a := range t.store.assets {
		if t.store.heldAssets[id] || a.Status != asset.StatusReady {
			continue
		}
		if !matcher.Match(hint, a) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []asset.Asset
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		t.store.heldAssets[id] = true
		t.heldAssetIDs = append(t.heldAssetIDs, id)
		out = append(out, t.store.assets[id])
	}
	return out, nil
}

func (t *fakeTx) LockAssets(ctx context.Context, ids []string, lockID string, expiresAt time.Time) error {
	for _, id := range ids {
		a, ok := t.viewAsset(id)
		if !ok {
			return fmt.Errorf("storetest: lock asset %s: not found", id)
		}
		a.Status = asset.StatusLocked
		lockIDCopy := lockID
		expiresAtCopy := expiresAt
		a.LockID = &lockIDCopy
		a.LockExpiresAt = &expiresAtCopy
		t.assetUpdates[id] = a
	}
	return nil
}

func (t *fakeTx) InsertLease(ctx context.Context, l lease.Lease) error {
	t.newLeases = append(t.newLeases, l)
	return nil
}

func (t *fakeTx) SetTaskQueued(ctx context.Context, taskID string) error {
	task, ok := t.viewTask(taskID)
	if !ok || task.Status != taskorder.StatusPending {
		return nil
	}
	task.Status = taskorder.StatusQueued
	t.taskUpdates[taskID] = task
	return nil
}

func (t *fakeTx) ClaimExpiredLocks(ctx context.Context, batchSize int) ([]asset.Asset, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	now := time.Now()
	var ids []string
	for id, a := range t.store.assets {
		if t.store.heldAssets[id] || a.Status != asset.StatusLocked {
			continue
		}
		if a.LockExpiresAt == nil || !a.LockExpiresAt.Before(now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []asset.Asset
	for _, id := range ids {
		if len(out) >= batchSize {
			break
		}
		t.store.heldAssets[id] = true
		t.heldAssetIDs = append(t.heldAssetIDs, id)
		out = append(out, t.store.assets[id])
	}
	return out, nil
}

func (t *fakeTx) RecoverLocks(ctx context.Context, ids []string) error {
	for _, id := range ids {
		a, ok := t.viewAsset(id)
		if !ok {
			continue
		}
		a.Status = asset.StatusReady
		a.LockID = nil
		a.LockExpiresAt = nil
		a.FailCount++
		t.assetUpdates[id] = a
	}
	return nil
}

func (t *fakeTx) ClaimExpiredCooling(ctx context.Context, batchSize int) ([]asset.Asset, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	now := time.Now()
	var ids []string
	for id, a := range t.store.assets {
		if t.store.heldAssets[id] || a.Status != asset.StatusCooling {
			continue
		}
		if a.CoolDownUntil == nil || !a.CoolDownUntil.Before(now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []asset.Asset
	for _, id := range ids {
		if len(out) >= batchSize {
			break
		}
		t.store.heldAssets[id] = true
		t.heldAssetIDs = append(t.heldAssetIDs, id)
		out = append(out, t.store.assets[id])
	}
	return out, nil
}

func (t *fakeTx) RecoverCooling(ctx context.Context, ids []string) error {
	for _, id := range ids {
		a, ok := t.viewAsset(id)
		if !ok {
			continue
		}
		a.Status = asset.StatusReady
		a.CoolDownUntil = nil
		t.assetUpdates[id] = a
	}
	return nil
}

func (t *fakeTx) GetTask(ctx context.Context, taskID string) (taskorder.TaskOrder, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	task, ok := t.viewTask(taskID)
	return task, ok, nil
}

func (t *fakeTx) GetLeasesWithAssets(ctx context.Context, leaseIDs []string) ([]store.HydratedLease, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var out []store.HydratedLease
	for _, id := range leaseIDs {
		l, ok := t.viewLease(id)
		if !ok {
			continue
		}
		a, ok := t.viewAsset(l.AssetID)
		if !ok {
			continue
		}
		out = append(out, store.HydratedLease{
			LeaseID:   l.LeaseID,
			TaskID:    l.TaskID,
			AssetID:   l.AssetID,
			TenantID:  a.TenantID,
			ProjectID: a.ProjectID,
			MetaSpec:  a.MetaSpec,
		})
	}
	return out, nil
}

func (t *fakeTx) SettleSuccess(ctx context.Context, taskID string, leases []store.HydratedLease, coolDownUntil time.Time) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	task, ok := t.viewTask(taskID)
	if !ok || task.Status != taskorder.StatusQueued {
		return false, nil
	}

	now := time.Now()
	task.Status = taskorder.StatusSuccess
	task.FinishedAt = &now
	task.ResultCode = nil
	t.taskUpdates[taskID] = task

	for _, hl := range leases {
		l, ok := t.viewLease(hl.LeaseID)
		if !ok {
			continue
		}
		l.Status = lease.StatusReleased
		t.leaseUpdates[hl.LeaseID] = l

		a, ok := t.viewAsset(hl.AssetID)
		if !ok {
			continue
		}
		a.Status = asset.StatusCooling
		until := coolDownUntil
		a.CoolDownUntil = &until
		a.LockID = nil
		a.LockExpiresAt = nil
		t.assetUpdates[hl.AssetID] = a
	}
	return true, nil
}

func (t *fakeTx) SettleFailure(ctx context.Context, taskID string, resultCode string, leases []store.HydratedLease, requestedLeaseIDs []string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	task, ok := t.viewTask(taskID)
	if !ok || task.Status != taskorder.StatusQueued {
		return false, nil
	}

	now := time.Now()
	task.Status = taskorder.StatusFailed
	task.FinishedAt = &now
	code := resultCode
	task.ResultCode = &code
	t.taskUpdates[taskID] = task

	for _, id := range requestedLeaseIDs {
		l, ok := t.viewLease(id)
		if !ok {
			continue
		}
		l.Status = lease.StatusRevoked
		t.leaseUpdates[id] = l
	}

	for _, hl := range leases {
		a, ok := t.viewAsset(hl.AssetID)
		if !ok {
			continue
		}
		a.Status = asset.StatusBanned
		a.LockID = nil
		a.LockExpiresAt = nil
		t.assetUpdates[hl.AssetID] = a
	}
	return true, nil
}

func (t *fakeTx) InsertEvent(ctx context.Context, e event.AssetEvent) error {
	t.newEvents = append(t.newEvents, e)
	return nil
}

func (t *fakeTx) InsertLedgerRow(ctx context.Context, l ledger.Entry) error {
	t.newLedger = append(t.newLedger, l)
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.ended {
		return fmt.Errorf("storetest: commit after transaction end")
	}
	t.ended = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, a := range t.assetUpdates {
		t.store.assets[id] = a
	}
	for id, tk := range t.taskUpdates {
		t.store.tasks[id] = tk
	}
	for id, l := range t.leaseUpdates {
		t.store.leases[id] = l
	}
	for _, l := range t.newLeases {
		t.store.leases[l.LeaseID] = l
	}
	t.store.Events = append(t.store.Events, t.newEvents...)
	t.store.Ledger = append(t.store.Ledger, t.newLedger...)

	t.release()
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.ended {
		return nil
	}
	t.ended = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.release()
	return nil
}

// release drops this transaction's held rows. Must be called with store.mu held.
func (t *fakeTx) release() {
	for _, id := range t.heldAssetIDs {
		delete(t.store.heldAssets, id)
	}
	for _, id := range t.heldTaskIDs {
		delete(t.store.heldTasks, id)
	}
}
