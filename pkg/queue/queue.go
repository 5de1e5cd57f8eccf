// Package queue defines the ordered, blocking multi-consumer FIFO that
// carries opaque payloads from the Loader to the Worker pool.
package queue

import (
	"context"
	"time"
)

// Queue is a named, blocking FIFO of opaque byte payloads. Implementations
// must guarantee a payload pushed inside a caller's database transaction is
// never visible to Pop before that transaction commits — the core only ever
// calls Push after commit, so this is purely a property implementations must
// not violate, not one they need to enforce themselves.
type Queue interface {
	// Push appends payloads at the tail of name, preserving argument order.
	Push(ctx context.Context, name string, payloads ...[]byte) error

	// BlockingPop dequeues the head of name, waiting up to timeout. It
	// returns (nil, nil) on timeout, never an error for that case.
	BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}
