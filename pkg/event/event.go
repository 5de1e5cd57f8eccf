// Package event defines the append-only asset audit trail (asset_events).
package event

import "time"

// Type enumerates the asset_events event_type values emitted by the core.
type Type string

const (
	TypeLockTimeoutRecovery Type = "LOCK_TIMEOUT_RECOVERY"
	TypeCoolingEnded        Type = "COOLING_ENDED"
	TypeTaskSuccess         Type = "TASK_SUCCESS"
	TypeTaskFail            Type = "TASK_FAIL"
)

// AssetEvent is an append-only audit row. Never mutated after insert.
type AssetEvent struct {
	EventID    string
	TenantID   string
	AssetID    string
	EventType  Type
	Severity   *string
	ErrorCode  *string
	OccurredAt time.Time
	RecordedAt time.Time
	Version    int
}
