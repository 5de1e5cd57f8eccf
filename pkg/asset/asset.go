// Package asset defines the leasable resource unit (creep_assets).
package asset

import "time"

// Status is the lifecycle state of an Asset.
type Status string

const (
	StatusReady   Status = "READY"
	StatusLocked  Status = "LOCKED"
	StatusCooling Status = "COOLING"
	StatusBanned  Status = "BANNED"
)

// Asset is a unit of leasable capacity (e.g. a provider account, IP slot, or
// credential). MetaSpec holds structured attributes used for containment
// matching against resource hints.
type Asset struct {
	ID            string
	SKUCategory   string
	SKUCode       *string
	MetaSpec      map[string]any
	Status        Status
	LockID        *string
	LockExpiresAt *time.Time
	CoolDownUntil *time.Time
	FailCount     int
	HealthScore   float64
	TenantID      string
	ProjectID     string
}
