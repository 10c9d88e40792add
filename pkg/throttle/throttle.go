// Package throttle provides cooperative per-tenant pacing of outbound sends.
//
// This is process-local politeness toward the messaging provider, not a
// distributed rate limiter: each worker process applies its own spacing and
// correctness never depends on it.
package throttle

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between two sends for one tenant.
const DefaultInterval = 200 * time.Millisecond

// Throttle enforces a minimum inter-call interval per tenant.
type Throttle struct {
	interval time.Duration
	mu       sync.Mutex
	next     map[string]time.Time
}

// New creates a throttle with the given minimum interval. A non-positive
// interval disables pacing.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		next:     make(map[string]time.Time),
	}
}

// Wait blocks until the tenant's next send slot, or until the context is
// done. Concurrent callers for the same tenant are serialized by slot
// reservation: each caller claims the slot after the previously claimed one.
func (t *Throttle) Wait(ctx context.Context, tenantID string) error {
	if t.interval <= 0 {
		return nil
	}

	now := time.Now()

	t.mu.Lock()
	slot := t.next[tenantID]
	if slot.Before(now) {
		slot = now
	}
	t.next[tenantID] = slot.Add(t.interval)
	t.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
