// Package worker implements the dequeue → execute → settle pipeline: pop
// one payload, hydrate its task and leases, invoke the vendor Adapter, and
// atomically settle task + leases + assets.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ridgeline-systems/creep/internal/telemetry"
	"github.com/ridgeline-systems/creep/pkg/adapter"
	"github.com/ridgeline-systems/creep/pkg/dispenser"
	"github.com/ridgeline-systems/creep/pkg/event"
	"github.com/ridgeline-systems/creep/pkg/ledger"
	"github.com/ridgeline-systems/creep/pkg/store"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// CoolDownWindow is the fixed post-success quiescent period, default 10s.
const CoolDownWindow = 10 * time.Second

// taskBurnAmount is the fixed accounting charge recorded per asset at every
// settlement. It is independent of the adapter's self-reported cost model.
const taskBurnAmount = 0.01

// Notifier is a fire-and-forget ops notification hook, invoked after a
// settlement transaction with result_code set. Errors are logged, never
// propagated — a notification failure must never affect settlement.
type Notifier interface {
	NotifyTaskFailed(ctx context.Context, taskID, resultCode string) error
}

type payload struct {
	TaskID   string   `json:"task_id"`
	LeaseIDs []string `json:"lease_ids"`
}

// Worker consumes one Dispenser and executes against one Adapter instance.
// Parallelism comes from running multiple Worker instances, not from
// concurrency inside a single one.
type Worker struct {
	dispenser    *dispenser.Dispenser
	store        store.Store
	adapter      adapter.Adapter
	breaker      *gobreaker.CircuitBreaker
	notifier     Notifier
	pollInterval time.Duration
	logger       *slog.Logger
	newID        func() string
	now          func() time.Time
}

// New builds a Worker. notifier may be nil to disable ops notification.
func New(d *dispenser.Dispenser, s store.Store, a adapter.Adapter, notifier Notifier, pollInterval time.Duration, logger *slog.Logger, newID func() string) *Worker {
	return &Worker{
		dispenser:    d,
		store:        s,
		adapter:      a,
		breaker:      newBreaker(),
		notifier:     notifier,
		pollInterval: pollInterval,
		logger:       logger,
		newID:        newID,
		now:          time.Now,
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "adapter",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// RunForever loops dispenser.Acquire → sleep on empty → ProcessOne, until
// ctx is cancelled or Acquire or ProcessOne returns an error.
func (w *Worker) RunForever(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		raw, ok, err := w.dispenser.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("worker: acquire: %w", err)
		}
		if !ok {
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := w.ProcessOne(ctx, raw); err != nil {
			return fmt.Errorf("worker: process one: %w", err)
		}
	}
}

// ProcessOne parses the payload, hydrates and validates its leases, executes
// against the Adapter, and settles. A parse failure is logged and dropped
// (not an error); a missing task is logged CRITICAL and dropped.
// Every other failure path settles the task as FAILED rather than
// propagating — only Store errors return a non-nil error, which the caller
// treats as fatal to this Worker's loop.
func (w *Worker) ProcessOne(ctx context.Context, raw string) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		w.logger.ErrorContext(ctx, "worker: malformed payload, dropping", slog.String("raw", raw), slog.Any("error", err))
		return nil
	}

	task, leases, resultCode, err := w.hydrate(ctx, p)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if resultCode != "" {
		return w.settle(ctx, p.TaskID, resultCode, leases, p.LeaseIDs)
	}

	acquiredAssetIDs, execResultCode := w.execute(ctx, leases)
	defer w.releaseAll(ctx, acquiredAssetIDs)

	if execResultCode != "" {
		return w.settle(ctx, p.TaskID, execResultCode, leases, p.LeaseIDs)
	}
	return w.settle(ctx, p.TaskID, "", leases, p.LeaseIDs)
}

// hydrate fetches the task and its leases. resultCode is non-empty when
// lease validation already determined the outcome without needing to touch
// the Adapter.
func (w *Worker) hydrate(ctx context.Context, p payload) (task *taskorder.TaskOrder, leases []store.HydratedLease, resultCode string, err error) {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("worker: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, ok, err := tx.GetTask(ctx, p.TaskID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("worker: get task %s: %w", p.TaskID, err)
	}
	if !ok {
		w.logger.ErrorContext(ctx, "CRITICAL: worker payload references unknown task, dropping", slog.String("task_id", p.TaskID))
		return nil, nil, "", nil
	}

	hydrated, err := tx.GetLeasesWithAssets(ctx, p.LeaseIDs)
	if err != nil {
		return nil, nil, "", fmt.Errorf("worker: get leases for task %s: %w", p.TaskID, err)
	}

	if code := validateLeases(p, hydrated); code != "" {
		return &t, hydrated, code, nil
	}
	return &t, hydrated, "", nil
}

// validateLeases checks that every requested lease ID was hydrated, belongs
// to the payload's task, and references an asset — otherwise it returns the
// result code the task should settle with. Lease status and expiry are not
// checked.
func validateLeases(p payload, hydrated []store.HydratedLease) string {
	if len(hydrated) == 0 {
		return taskorder.ResultResourceError
	}

	byID := make(map[string]store.HydratedLease, len(hydrated))
	for _, l := range hydrated {
		byID[l.LeaseID] = l
	}

	for _, id := range p.LeaseIDs {
		l, ok := byID[id]
		if !ok {
			return taskorder.ResultDataInconsistent
		}
		if l.TaskID != p.TaskID {
			return taskorder.ResultDataInconsistent
		}
		if l.AssetID == "" {
			return taskorder.ResultDataInconsistent
		}
	}
	return ""
}

// execute acquires, health-checks, and tracks every lease's asset against
// the Adapter. It never returns an error directly — any AdapterError
// becomes EXECUTION_FAILED.
func (w *Worker) execute(ctx context.Context, leases []store.HydratedLease) (acquiredAssetIDs []string, resultCode string) {
	failed := false

	for _, l := range leases {
		specs := map[string]any{"asset_id": l.AssetID}
		for k, v := range l.MetaSpec {
			specs[k] = v
		}

		result, err := w.breaker.Execute(func() (any, error) {
			return w.adapter.Acquire(ctx, specs)
		})
		if err != nil {
			telemetry.AdapterCallsTotal.WithLabelValues("acquire", adapterOutcome(err)).Inc()
			w.logger.ErrorContext(ctx, "worker: adapter acquire failed", slog.String("asset_id", l.AssetID), slog.Any("error", err))
			failed = true
			continue
		}
		telemetry.AdapterCallsTotal.WithLabelValues("acquire", "ok").Inc()
		acquired := result.(adapter.ResourcePayload)
		acquiredAssetIDs = append(acquiredAssetIDs, acquired.AssetID)
	}

	if !failed {
		for _, assetID := range acquiredAssetIDs {
			result, err := w.breaker.Execute(func() (any, error) {
				return w.adapter.CheckHealth(ctx, assetID)
			})
			if err != nil {
				telemetry.AdapterCallsTotal.WithLabelValues("check_health", adapterOutcome(err)).Inc()
				w.logger.ErrorContext(ctx, "worker: adapter check_health failed", slog.String("asset_id", assetID), slog.Any("error", err))
				failed = true
				continue
			}
			telemetry.AdapterCallsTotal.WithLabelValues("check_health", "ok").Inc()
			health := result.(adapter.HealthStatus)
			if health.Status == adapter.HealthUnhealthy {
				failed = true
			}
		}
	}

	if failed {
		return acquiredAssetIDs, taskorder.ResultExecutionFailed
	}
	return acquiredAssetIDs, ""
}

// releaseAll attempts Release for every acquired asset, unconditionally,
// in a finally-like block run regardless of how execute finished. A
// release failure is logged but never flips success back to failure.
func (w *Worker) releaseAll(ctx context.Context, assetIDs []string) {
	for _, assetID := range assetIDs {
		if _, err := w.breaker.Execute(func() (any, error) {
			return w.adapter.Release(ctx, assetID)
		}); err != nil {
			telemetry.AdapterCallsTotal.WithLabelValues("release", adapterOutcome(err)).Inc()
			w.logger.WarnContext(ctx, "worker: adapter release failed", slog.String("asset_id", assetID), slog.Any("error", err))
			continue
		}
		telemetry.AdapterCallsTotal.WithLabelValues("release", "ok").Inc()
	}
}

// settle commits the terminal transition for task+leases+assets. An empty
// resultCode means success. The failure notice is sent only when settleTx
// reports that this call actually performed a transition, not when it
// no-op'd because the task was already settled by a prior delivery of the
// same payload.
func (w *Worker) settle(ctx context.Context, taskID, resultCode string, leases []store.HydratedLease, requestedLeaseIDs []string) error {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("worker: begin settlement: %w", err)
	}

	settled, err := w.settleTx(ctx, tx, taskID, resultCode, leases, requestedLeaseIDs)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("worker: commit settlement: %w", err)
	}

	if settled && resultCode != "" {
		w.notify(ctx, taskID, resultCode)
	}
	return nil
}

func (w *Worker) settleTx(ctx context.Context, tx store.Tx, taskID, resultCode string, leases []store.HydratedLease, requestedLeaseIDs []string) (bool, error) {
	now := w.now()

	if resultCode == "" {
		settled, err := tx.SettleSuccess(ctx, taskID, leases, now.Add(CoolDownWindow))
		if err != nil {
			return false, fmt.Errorf("worker: settle success for task %s: %w", taskID, err)
		}
		if !settled {
			return false, nil
		}
		if err := w.emitSettlement(ctx, tx, taskID, leases, event.TypeTaskSuccess); err != nil {
			return false, err
		}
		telemetry.TasksSettledTotal.WithLabelValues("success").Inc()
		return true, nil
	}

	settled, err := tx.SettleFailure(ctx, taskID, resultCode, leases, requestedLeaseIDs)
	if err != nil {
		return false, fmt.Errorf("worker: settle failure for task %s: %w", taskID, err)
	}
	if !settled {
		return false, nil
	}
	if err := w.emitSettlement(ctx, tx, taskID, leases, event.TypeTaskFail); err != nil {
		return false, err
	}
	telemetry.TasksSettledTotal.WithLabelValues(strings.ToLower(resultCode)).Inc()
	return true, nil
}

func (w *Worker) emitSettlement(ctx context.Context, tx store.Tx, taskID string, leases []store.HydratedLease, eventType event.Type) error {
	now := w.now()

	for _, l := range leases {
		if err := tx.InsertEvent(ctx, event.AssetEvent{
			EventID:    w.newID(),
			TenantID:   l.TenantID,
			AssetID:    l.AssetID,
			EventType:  eventType,
			OccurredAt: now,
			RecordedAt: now,
			Version:    1,
		}); err != nil {
			return fmt.Errorf("worker: insert event for task %s: %w", taskID, err)
		}
		if err := tx.InsertLedgerRow(ctx, ledger.Entry{
			AssetID:   l.AssetID,
			TenantID:  l.TenantID,
			ProjectID: l.ProjectID,
			Direction: ledger.DirectionOut,
			Reason:    ledger.ReasonTaskBurn,
			Amount:    taskBurnAmount,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("worker: insert ledger row for task %s: %w", taskID, err)
		}
	}
	return nil
}

func (w *Worker) notify(ctx context.Context, taskID, resultCode string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyTaskFailed(ctx, taskID, resultCode); err != nil {
		w.logger.WarnContext(ctx, "worker: ops notification failed", slog.String("task_id", taskID), slog.Any("error", err))
	}
}

// adapterOutcome labels a failed adapter call for AdapterCallsTotal: an
// open breaker is distinguished from an underlying AdapterError so
// operators can tell "vendor is failing" apart from "we backed off".
func adapterOutcome(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "breaker_open"
	}
	return "error"
}

