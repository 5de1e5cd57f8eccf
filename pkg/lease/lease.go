// Package lease defines the time-bounded binding between a TaskOrder and an
// Asset.
package lease

import "time"

// Status is the lifecycle state of a Lease.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReleased Status = "RELEASED"
	StatusRevoked  Status = "REVOKED"
)

// Lease binds a task to an asset for a bounded wall-clock window.
type Lease struct {
	LeaseID   string
	TenantID  string
	TaskID    string
	AssetID   string
	ExpiresAt time.Time
	Status    Status
}
