// Package loader implements the single-pass task-to-asset matching and
// publish step: claim one pending task, lock matching assets, write leases,
// flip the task to QUEUED, commit, then publish. The publish always happens
// after the commit, never before.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ridgeline-systems/creep/internal/telemetry"
	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/lease"
	"github.com/ridgeline-systems/creep/pkg/queue"
	"github.com/ridgeline-systems/creep/pkg/store"
)

// workerPayload is the exact JSON shape the Worker consumes.
type workerPayload struct {
	TaskID   string   `json:"task_id"`
	LeaseIDs []string `json:"lease_ids"`
}

// Loader matches one PENDING task to READY assets per sync call.
type Loader struct {
	store     store.Store
	queue     queue.Queue
	queueName string
	validate  *validator.Validate
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// New builds a Loader publishing to the named queue.
func New(s store.Store, q queue.Queue, queueName string, logger *slog.Logger) *Loader {
	return &Loader{
		store:     s,
		queue:     q,
		queueName: queueName,
		validate:  validator.New(),
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

// Sync runs one Loader pass. published is false whenever nothing was
// committed (no PENDING task, or insufficient inventory for some hint) —
// both are normal outcomes, not errors.
func (l *Loader) Sync(ctx context.Context) (published bool, err error) {
	start := l.now()
	defer func() { telemetry.LoaderSyncDuration.Observe(l.now().Sub(start).Seconds()) }()

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("loader: begin: %w", err)
	}

	payload, ok, err := l.run(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}
	if !ok {
		return false, tx.Rollback(ctx)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("loader: commit: %w", err)
	}

	l.publish(ctx, payload)
	return true, nil
}

// run claims a pending task and its assets inside the open transaction,
// returning the payload to publish and ok=true only when every hint was
// fully satisfied and the task was flipped to QUEUED.
func (l *Loader) run(ctx context.Context, tx store.Tx) (workerPayload, bool, error) {
	task, ok, err := tx.ClaimPendingTask(ctx)
	if err != nil {
		return workerPayload{}, false, fmt.Errorf("loader: claim pending task: %w", err)
	}
	if !ok {
		return workerPayload{}, false, nil
	}

	var claimed []asset.Asset
	for _, hint := range task.ResourceHints {
		if err := l.validate.Struct(hint); err != nil {
			return workerPayload{}, false, fmt.Errorf("loader: invalid resource hint for task %s: %w", task.TaskID, err)
		}

		assets, err := tx.ClaimReadyAssets(ctx, hint, hint.MinCount)
		if err != nil {
			return workerPayload{}, false, fmt.Errorf("loader: claim ready assets for task %s: %w", task.TaskID, err)
		}
		if len(assets) < hint.MinCount {
			l.logger.DebugContext(ctx, "loader: insufficient inventory, rolling back",
				slog.String("task_id", task.TaskID),
				slog.String("sku_category", hint.SKUCategory),
				slog.Int("wanted", hint.MinCount),
				slog.Int("got", len(assets)))
			return workerPayload{}, false, nil
		}
		claimed = append(claimed, assets...)
	}

	ids := make([]string, len(claimed))
	for i, a := range claimed {
		ids[i] = a.ID
	}

	lockID := l.newID()
	lockExpiresAt := l.now().Add(time.Duration(task.TimeoutMS) * time.Millisecond)
	if err := tx.LockAssets(ctx, ids, lockID, lockExpiresAt); err != nil {
		return workerPayload{}, false, fmt.Errorf("loader: lock assets for task %s: %w", task.TaskID, err)
	}

	leaseIDs := make([]string, len(claimed))
	for i, a := range claimed {
		leaseID := l.newID()
		leaseIDs[i] = leaseID
		if err := tx.InsertLease(ctx, lease.Lease{
			LeaseID:   leaseID,
			TenantID:  task.TenantID,
			TaskID:    task.TaskID,
			AssetID:   a.ID,
			ExpiresAt: lockExpiresAt,
			Status:    lease.StatusActive,
		}); err != nil {
			return workerPayload{}, false, fmt.Errorf("loader: insert lease for task %s: %w", task.TaskID, err)
		}
		telemetry.LeasesIssuedTotal.WithLabelValues(a.SKUCategory).Inc()
	}

	if err := tx.SetTaskQueued(ctx, task.TaskID); err != nil {
		return workerPayload{}, false, fmt.Errorf("loader: queue task %s: %w", task.TaskID, err)
	}

	return workerPayload{TaskID: task.TaskID, LeaseIDs: leaseIDs}, true, nil
}

// publish pushes the payload after commit, with a short bounded retry before
// falling back to logging CRITICAL and relying on the Janitor's lock-timeout
// sweep to recover the locked assets. This never re-attempts the commit, so
// a publish failure leaves the task QUEUED with no payload on the queue; the
// sweep returns the assets to READY but does not touch the task or its
// leases.
func (l *Loader) publish(ctx context.Context, payload workerPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		l.logger.ErrorContext(ctx, "loader: marshal payload", slog.String("task_id", payload.TaskID), slog.Any("error", err))
		return
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, l.queue.Push(ctx, l.queueName, body)
	}, backoff.WithMaxTries(3))
	if err != nil {
		l.logger.ErrorContext(ctx, "CRITICAL: loader failed to publish after commit; relying on janitor lock-timeout recovery",
			slog.String("task_id", payload.TaskID), slog.Any("error", err))
		return
	}
}
