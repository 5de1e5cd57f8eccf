package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/event"
	"github.com/ridgeline-systems/creep/pkg/ledger"
	"github.com/ridgeline-systems/creep/pkg/lease"
	"github.com/ridgeline-systems/creep/pkg/matcher"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// PostgresStore is the production Store, backed by jackc/pgx/v5. Every
// claim method below issues "FOR UPDATE SKIP LOCKED": rows already held by
// another in-flight transaction are invisible rather than blocking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning transaction: %v", ErrTransient, err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("%w: rollback: %v", ErrTransient, err)
	}
	return nil
}

const taskColumns = `task_id, tenant_id, priority, created_at, status, task_type, resource_hints, timeout_ms, finished_at, result_code`

func scanTask(row pgx.Row) (taskorder.TaskOrder, error) {
	var t taskorder.TaskOrder
	var hintsRaw []byte
	if err := row.Scan(
		&t.TaskID, &t.TenantID, &t.Priority, &t.CreatedAt, &t.Status, &t.TaskType,
		&hintsRaw, &t.TimeoutMS, &t.FinishedAt, &t.ResultCode,
	); err != nil {
		return taskorder.TaskOrder{}, err
	}
	hints, err := taskorder.ParseResourceHints(hintsRaw)
	if err != nil {
		return taskorder.TaskOrder{}, fmt.Errorf("parsing resource_hints for task %s: %w", t.TaskID, err)
	}
	t.ResourceHints = hints
	return t, nil
}

func (t *pgTx) ClaimPendingTask(ctx context.Context) (taskorder.TaskOrder, bool, error) {
	query := `SELECT ` + taskColumns + ` FROM task_orders
		WHERE status = 'PENDING'
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	row := t.tx.QueryRow(ctx, query)
	task, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return taskorder.TaskOrder{}, false, nil
	}
	if err != nil {
		return taskorder.TaskOrder{}, false, fmt.Errorf("%w: claiming pending task: %v", ErrTransient, err)
	}
	return task, true, nil
}

const assetColumns = `id, sku_category, sku_code, meta_spec, status, lock_id, lock_expires_at, cool_down_until, fail_count, health_score, tenant_id, project_id`

func scanAsset(row pgx.Row) (asset.Asset, error) {
	var a asset.Asset
	var metaRaw []byte
	if err := row.Scan(
		&a.ID, &a.SKUCategory, &a.SKUCode, &metaRaw, &a.Status, &a.LockID,
		&a.LockExpiresAt, &a.CoolDownUntil, &a.FailCount, &a.HealthScore,
		&a.TenantID, &a.ProjectID,
	); err != nil {
		return asset.Asset{}, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &a.MetaSpec); err != nil {
			return asset.Asset{}, fmt.Errorf("parsing meta_spec for asset %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func scanAssetRows(rows pgx.Rows) ([]asset.Asset, error) {
	defer rows.Close()
	var out []asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) ClaimReadyAssets(ctx context.Context, hint taskorder.ResourceHint, limit int) ([]asset.Asset, error) {
	conds := []string{"status = 'READY'", "sku_category = $1"}
	args := []any{hint.SKUCategory}

	if hint.SKUCode != nil {
		args = append(args, matcher.GlobToLike(*hint.SKUCode))
		conds = append(conds, fmt.Sprintf("sku_code LIKE $%d", len(args)))
	}
	for k, v := range hint.Attributes {
		args = append(args, map[string]string{k: v})
		conds = append(conds, fmt.Sprintf("meta_spec @> $%d::jsonb", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM creep_assets WHERE %s FOR UPDATE SKIP LOCKED LIMIT $%d`,
		assetColumns, strings.Join(conds, " AND "), len(args),
	)
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: claiming ready assets: %v", ErrTransient, err)
	}
	assets, err := scanAssetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning ready assets: %v", ErrTransient, err)
	}
	return assets, nil
}

func (t *pgTx) LockAssets(ctx context.Context, ids []string, lockID string, expiresAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE creep_assets SET status = 'LOCKED', lock_id = $2, lock_expires_at = $3 WHERE id = ANY($1)`,
		ids, lockID, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: locking assets: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) InsertLease(ctx context.Context, l lease.Lease) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO leases (lease_id, tenant_id, task_id, asset_id, expires_at, status) VALUES ($1,$2,$3,$4,$5,$6)`,
		l.LeaseID, l.TenantID, l.TaskID, l.AssetID, l.ExpiresAt, l.Status)
	if err != nil {
		return fmt.Errorf("%w: inserting lease: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) SetTaskQueued(ctx context.Context, taskID string) error {
	_, err := t.tx.Exec(ctx, `UPDATE task_orders SET status = 'QUEUED' WHERE task_id = $1 AND status = 'PENDING'`, taskID)
	if err != nil {
		return fmt.Errorf("%w: flipping task to queued: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) ClaimExpiredLocks(ctx context.Context, batchSize int) ([]asset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM creep_assets
		WHERE status = 'LOCKED' AND lock_expires_at < now()
		FOR UPDATE SKIP LOCKED LIMIT $1`
	rows, err := t.tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: claiming expired locks: %v", ErrTransient, err)
	}
	assets, err := scanAssetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning expired locks: %v", ErrTransient, err)
	}
	return assets, nil
}

func (t *pgTx) RecoverLocks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE creep_assets SET status = 'READY', lock_id = NULL, lock_expires_at = NULL, fail_count = fail_count + 1 WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return fmt.Errorf("%w: recovering locks: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) ClaimExpiredCooling(ctx context.Context, batchSize int) ([]asset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM creep_assets
		WHERE status = 'COOLING' AND cool_down_until < now()
		FOR UPDATE SKIP LOCKED LIMIT $1`
	rows, err := t.tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: claiming expired cooling: %v", ErrTransient, err)
	}
	assets, err := scanAssetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning expired cooling: %v", ErrTransient, err)
	}
	return assets, nil
}

func (t *pgTx) RecoverCooling(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE creep_assets SET status = 'READY', cool_down_until = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("%w: recovering cooling assets: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) GetTask(ctx context.Context, taskID string) (taskorder.TaskOrder, bool, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM task_orders WHERE task_id = $1`, taskID)
	task, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return taskorder.TaskOrder{}, false, nil
	}
	if err != nil {
		return taskorder.TaskOrder{}, false, fmt.Errorf("%w: fetching task: %v", ErrTransient, err)
	}
	return task, true, nil
}

func (t *pgTx) GetLeasesWithAssets(ctx context.Context, leaseIDs []string) ([]HydratedLease, error) {
	if len(leaseIDs) == 0 {
		return nil, nil
	}
	query := `SELECT l.lease_id, l.task_id, l.asset_id, a.tenant_id, a.project_id, a.meta_spec
		FROM leases l JOIN creep_assets a ON l.asset_id = a.id
		WHERE l.lease_id = ANY($1)`
	rows, err := t.tx.Query(ctx, query, leaseIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching leases with assets: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []HydratedLease
	for rows.Next() {
		var hl HydratedLease
		var metaRaw []byte
		if err := rows.Scan(&hl.LeaseID, &hl.TaskID, &hl.AssetID, &hl.TenantID, &hl.ProjectID, &metaRaw); err != nil {
			return nil, fmt.Errorf("%w: scanning hydrated lease: %v", ErrTransient, err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &hl.MetaSpec); err != nil {
				return nil, fmt.Errorf("parsing meta_spec for lease %s: %w", hl.LeaseID, err)
			}
		}
		out = append(out, hl)
	}
	return out, rows.Err()
}

func (t *pgTx) SettleSuccess(ctx context.Context, taskID string, leases []HydratedLease, coolDownUntil time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE task_orders SET status = 'SUCCESS', finished_at = now(), result_code = NULL WHERE task_id = $1 AND status = 'QUEUED'`,
		taskID)
	if err != nil {
		return false, fmt.Errorf("%w: settling success: %v", ErrTransient, err)
	}
	if tag.RowsAffected() == 0 {
		// Task was not QUEUED — either already settled by a prior delivery of
		// this payload, or absent. Idempotent no-op.
		return false, nil
	}

	leaseIDs := make([]string, len(leases))
	assetIDs := make([]string, len(leases))
	for i, l := range leases {
		leaseIDs[i] = l.LeaseID
		assetIDs[i] = l.AssetID
	}
	if len(leaseIDs) > 0 {
		if _, err := t.tx.Exec(ctx, `UPDATE leases SET status = 'RELEASED' WHERE lease_id = ANY($1)`, leaseIDs); err != nil {
			return false, fmt.Errorf("%w: releasing leases: %v", ErrTransient, err)
		}
	}
	if len(assetIDs) > 0 {
		if _, err := t.tx.Exec(ctx, `UPDATE creep_assets SET status = 'COOLING', cool_down_until = $2 WHERE id = ANY($1)`,
			assetIDs, coolDownUntil); err != nil {
			return false, fmt.Errorf("%w: cooling assets: %v", ErrTransient, err)
		}
	}
	return true, nil
}

func (t *pgTx) SettleFailure(ctx context.Context, taskID string, resultCode string, leases []HydratedLease, requestedLeaseIDs []string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE task_orders SET status = 'FAILED', finished_at = now(), result_code = $2 WHERE task_id = $1 AND status = 'QUEUED'`,
		taskID, resultCode)
	if err != nil {
		return false, fmt.Errorf("%w: settling failure: %v", ErrTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if len(requestedLeaseIDs) > 0 {
		if _, err := t.tx.Exec(ctx, `UPDATE leases SET status = 'REVOKED' WHERE lease_id = ANY($1)`, requestedLeaseIDs); err != nil {
			return false, fmt.Errorf("%w: revoking leases: %v", ErrTransient, err)
		}
	}

	assetIDs := make([]string, len(leases))
	for i, l := range leases {
		assetIDs[i] = l.AssetID
	}
	if len(assetIDs) > 0 {
		if _, err := t.tx.Exec(ctx, `UPDATE creep_assets SET status = 'BANNED' WHERE id = ANY($1)`, assetIDs); err != nil {
			return false, fmt.Errorf("%w: banning assets: %v", ErrTransient, err)
		}
	}
	return true, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e event.AssetEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO asset_events (event_id, tenant_id, asset_id, event_type, severity, error_code, occurred_at, recorded_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.EventID, e.TenantID, e.AssetID, e.EventType, e.Severity, e.ErrorCode, e.OccurredAt, e.RecordedAt, e.Version)
	if err != nil {
		return fmt.Errorf("%w: inserting asset event: %v", ErrTransient, err)
	}
	return nil
}

func (t *pgTx) InsertLedgerRow(ctx context.Context, l ledger.Entry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO asset_ledger (asset_id, tenant_id, project_id, direction, reason, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.AssetID, l.TenantID, l.ProjectID, l.Direction, l.Reason, l.Amount, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: inserting ledger row: %v", ErrTransient, err)
	}
	return nil
}
