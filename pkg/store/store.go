// Package store defines the transactional capability the scheduler core
// needs from its backing database: skip-locked claims, status-guarded
// updates, and all-or-nothing commits, as an explicit Go interface rather
// than a loosely-typed database handle.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/event"
	"github.com/ridgeline-systems/creep/pkg/ledger"
	"github.com/ridgeline-systems/creep/pkg/lease"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// ErrTransient marks a Store error as transient: the caller should roll
// back and let the next tick retry.
var ErrTransient = errors.New("store: transient error")

// HydratedLease is a Lease joined to the tenant/project/meta_spec of the
// asset it binds, as the Worker needs for both Adapter execution and
// settlement.
type HydratedLease struct {
	LeaseID   string
	TaskID    string
	AssetID   string
	TenantID  string
	ProjectID string
	MetaSpec  map[string]any
}

// Store opens transactional sessions against the persistent state: assets,
// task orders, leases, events, and ledger rows.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single transactional session. Every method either succeeds as
// part of the eventual Commit, or the whole transaction is rolled back —
// partial writes never surface.
type Tx interface {
	// ClaimPendingTask claims the single highest-priority, oldest PENDING
	// task under skip-locked ordering (priority DESC, created_at ASC). ok
	// is false when no PENDING task is claimable.
	ClaimPendingTask(ctx context.Context) (task taskorder.TaskOrder, ok bool, err error)

	// ClaimReadyAssets claims up to limit READY assets matching hint under
	// skip-locked. Returning fewer than limit assets is not an error; the
	// caller (Loader) decides whether that is a shortfall.
	ClaimReadyAssets(ctx context.Context, hint taskorder.ResourceHint, limit int) ([]asset.Asset, error)

	// LockAssets flips the given assets to LOCKED with the given lock ID and
	// expiry. Assets must already be held by this transaction (i.e. just
	// returned by ClaimReadyAssets).
	LockAssets(ctx context.Context, ids []string, lockID string, expiresAt time.Time) error

	// InsertLease writes a new ACTIVE lease row.
	InsertLease(ctx context.Context, l lease.Lease) error

	// SetTaskQueued flips a task from PENDING to QUEUED.
	SetTaskQueued(ctx context.Context, taskID string) error

	// ClaimExpiredLocks claims up to batchSize LOCKED assets whose lock has
	// expired, under skip-locked.
	ClaimExpiredLocks(ctx context.Context, batchSize int) ([]asset.Asset, error)

	// RecoverLocks flips the given assets back to READY, clearing lock
	// fields and incrementing fail_count.
	RecoverLocks(ctx context.Context, ids []string) error

	// ClaimExpiredCooling claims up to batchSize COOLING assets whose
	// cool-down has elapsed, under skip-locked.
	ClaimExpiredCooling(ctx context.Context, batchSize int) ([]asset.Asset, error)

	// RecoverCooling flips the given assets back to READY, clearing
	// cool_down_until.
	RecoverCooling(ctx context.Context, ids []string) error

	// GetTask fetches a task by ID. ok is false when absent.
	GetTask(ctx context.Context, taskID string) (task taskorder.TaskOrder, ok bool, err error)

	// GetLeasesWithAssets fetches the given leases joined to their asset's
	// tenant/project/meta_spec. Missing lease IDs are simply absent from the
	// result — the caller detects that by comparing lengths/IDs.
	GetLeasesWithAssets(ctx context.Context, leaseIDs []string) ([]HydratedLease, error)

	// SettleSuccess settles task+leases+assets for a successful execution:
	// task → SUCCESS, leases → RELEASED, assets → COOLING. settled is false
	// (with no rows touched) when the task was not currently QUEUED, which
	// guards against duplicate delivery of the same payload — the caller
	// must skip event/ledger emission in that case.
	SettleSuccess(ctx context.Context, taskID string, leases []HydratedLease, coolDownUntil time.Time) (settled bool, err error)

	// SettleFailure settles task+leases+assets for a failed execution:
	// task → FAILED with resultCode, leases → REVOKED, assets → BANNED.
	// requestedLeaseIDs is the full set of lease IDs the payload named
	// (including any that turned out to be missing); every one of them is
	// revoked, a no-op if absent. Same idempotency guard as SettleSuccess.
	SettleFailure(ctx context.Context, taskID string, resultCode string, leases []HydratedLease, requestedLeaseIDs []string) (settled bool, err error)

	// InsertEvent appends an audit row.
	InsertEvent(ctx context.Context, e event.AssetEvent) error

	// InsertLedgerRow appends an accounting row.
	InsertLedgerRow(ctx context.Context, l ledger.Entry) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
