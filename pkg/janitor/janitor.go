// Package janitor reconciles drift back into the asset pool: expired
// locks and elapsed cooling periods, in bounded batches. It never touches
// TaskOrders or Leases — that is Worker's job.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ridgeline-systems/creep/internal/telemetry"
	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/event"
	"github.com/ridgeline-systems/creep/pkg/store"
)

// Config tunes the bounded sweeps.
type Config struct {
	BatchSize       int // rows claimed per iteration, default 100
	MaxProcessLimit int // total rows per sweep, default 1000
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 100, MaxProcessLimit: 1000}
}

// Janitor runs the two bounded reconciliation sweeps.
type Janitor struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New builds a Janitor. newID generates AssetEvent IDs.
func New(s store.Store, cfg Config, logger *slog.Logger, newID func() string) *Janitor {
	return &Janitor{store: s, cfg: cfg, logger: logger, newID: newID, now: time.Now}
}

// RunOnce runs the lock-timeout recovery sweep followed by the cooling
// expiry sweep.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if err := j.sweep(ctx, "lock_timeout_recovery", j.recoverLocksBatch); err != nil {
		return fmt.Errorf("janitor: lock-timeout recovery: %w", err)
	}
	if err := j.sweep(ctx, "cooling_expiry", j.recoverCoolingBatch); err != nil {
		return fmt.Errorf("janitor: cooling expiry: %w", err)
	}
	return nil
}

// batchFn claims and recovers up to batchSize rows in one committed
// transaction, returning how many rows it processed.
type batchFn func(ctx context.Context, batchSize int) (processed int, err error)

// sweep loops batchFn until either a batch returns fewer than BatchSize
// rows or MaxProcessLimit total rows have been processed, committing every
// batch independently so earlier progress survives a later failure.
func (j *Janitor) sweep(ctx context.Context, name string, fn batchFn) error {
	total := 0
	for total < j.cfg.MaxProcessLimit {
		remaining := j.cfg.MaxProcessLimit - total
		batchSize := j.cfg.BatchSize
		if remaining < batchSize {
			batchSize = remaining
		}

		processed, err := fn(ctx, batchSize)
		if err != nil {
			return err
		}
		total += processed
		if processed == 0 {
			break
		}
		j.logger.DebugContext(ctx, "janitor: sweep batch committed", slog.String("sweep", name), slog.Int("processed", processed))
		if processed < batchSize {
			break
		}
	}
	return nil
}

func (j *Janitor) recoverLocksBatch(ctx context.Context, batchSize int) (int, error) {
	tx, err := j.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	assets, err := tx.ClaimExpiredLocks(ctx, batchSize)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("claim expired locks: %w", err)
	}
	if len(assets) == 0 {
		return 0, tx.Rollback(ctx)
	}

	ids := assetIDs(assets)
	if err := tx.RecoverLocks(ctx, ids); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("recover locks: %w", err)
	}
	if err := j.emitEvents(ctx, tx, assets, event.TypeLockTimeoutRecovery); err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	telemetry.JanitorAssetsRecoveredTotal.WithLabelValues("lock_timeout_recovery").Add(float64(len(assets)))
	return len(assets), nil
}

func (j *Janitor) recoverCoolingBatch(ctx context.Context, batchSize int) (int, error) {
	tx, err := j.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	assets, err := tx.ClaimExpiredCooling(ctx, batchSize)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("claim expired cooling: %w", err)
	}
	if len(assets) == 0 {
		return 0, tx.Rollback(ctx)
	}

	ids := assetIDs(assets)
	if err := tx.RecoverCooling(ctx, ids); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("recover cooling: %w", err)
	}
	if err := j.emitEvents(ctx, tx, assets, event.TypeCoolingEnded); err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	telemetry.JanitorAssetsRecoveredTotal.WithLabelValues("cooling_expiry").Add(float64(len(assets)))
	return len(assets), nil
}

func (j *Janitor) emitEvents(ctx context.Context, tx store.Tx, assets []asset.Asset, eventType event.Type) error {
	now := j.now()
	for _, a := range assets {
		if err := tx.InsertEvent(ctx, event.AssetEvent{
			EventID:    j.newID(),
			TenantID:   a.TenantID,
			AssetID:    a.ID,
			EventType:  eventType,
			OccurredAt: now,
			RecordedAt: now,
			Version:    1,
		}); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func assetIDs(assets []asset.Asset) []string {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}
