// Package taskorder defines the pending-work entity (task_orders) and the
// resource hints it carries.
package taskorder

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a TaskOrder. Terminal states never revert.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusQueued  Status = "QUEUED"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result codes a Worker may settle a failed task with.
const (
	ResultExecutionFailed  = "EXECUTION_FAILED"
	ResultResourceError    = "RESOURCE_ERROR"
	ResultDataInconsistent = "DATA_INCONSISTENCY"
)

// ResourceHint is a declarative match over category, sku_code glob, and
// attribute containment, normalized from a TaskOrder's resource_hints.
type ResourceHint struct {
	SKUCategory string            `json:"sku_category" validate:"required"`
	SKUCode     *string           `json:"sku_code,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MinCount    int               `json:"min_count" validate:"gte=1"`
}

// TaskOrder is a unit of work requesting one or more assets matching hints.
type TaskOrder struct {
	TaskID        string
	TenantID      string
	Priority      int
	CreatedAt     time.Time
	Status        Status
	TaskType      string
	ResourceHints []ResourceHint
	TimeoutMS     int64
	FinishedAt    *time.Time
	ResultCode    *string
}

// ParseResourceHints normalizes a TaskOrder's resource_hints column, which
// the producer side may have written as either a structured JSON array or a
// JSON-encoded string containing that array.
func ParseResourceHints(raw any) ([]ResourceHint, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling resource_hints: %w", err)
		}
		data = encoded
	}

	// A JSON string column holds the array re-encoded as a string; unwrap
	// one extra layer of quoting before the real decode.
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		data = []byte(asString)
	}

	var hints []ResourceHint
	if err := json.Unmarshal(data, &hints); err != nil {
		return nil, fmt.Errorf("decoding resource_hints: %w", err)
	}
	for i := range hints {
		if hints[i].MinCount == 0 {
			hints[i].MinCount = 1
		}
	}
	return hints, nil
}
