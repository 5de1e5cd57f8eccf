// Package dispenser provides the blocking read side of the worker queue.
package dispenser

import (
	"context"
	"time"

	"github.com/ridgeline-systems/creep/pkg/queue"
)

// Dispenser is a thin wrapper around Queue.BlockingPop with a fixed poll
// timeout. An ("", false, nil) return signals the caller should let the poll
// interval elapse before retrying; back-off is the caller's responsibility.
type Dispenser struct {
	q       queue.Queue
	name    string
	timeout time.Duration
}

// New creates a Dispenser for the given queue name.
func New(q queue.Queue, name string, timeout time.Duration) *Dispenser {
	return &Dispenser{q: q, name: name, timeout: timeout}
}

// Acquire blocks for up to the configured timeout and returns the decoded
// payload, or ("", false) if nothing arrived in time.
func (d *Dispenser) Acquire(ctx context.Context) (string, bool, error) {
	payload, err := d.q.BlockingPop(ctx, d.name, d.timeout)
	if err != nil {
		return "", false, err
	}
	if payload == nil {
		return "", false, nil
	}
	return string(payload), true, nil
}
