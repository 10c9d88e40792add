// Package scheduler defines the delayed-job port the engine schedules
// escalation steps on.
//
// Delivery is at-least-once: a job may be handed to the handler more than
// once, and a cancelled job may still fire if it was already dequeued. The
// engine's state guards make both safe; cancellation is an optimization,
// never a correctness mechanism.
package scheduler

import (
	"context"
	"time"
)

// Job is one scheduled step callback.
type Job struct {
	// Key identifies the job. Scheduling with an existing key replaces the
	// prior schedule.
	Key string `json:"key"`

	// InstanceID and StepIndex route the callback to the engine's step
	// handler.
	InstanceID string `json:"instance_id"`
	StepIndex  int    `json:"step_index"`

	// NotBefore is the earliest time the job may fire.
	NotBefore time.Time `json:"not_before"`
}

// Handler processes a due job. A returned error leaves the job queued for
// redelivery.
type Handler func(ctx context.Context, job Job) error

// Scheduler is the delayed-job port.
type Scheduler interface {
	// Schedule enqueues a job to fire no earlier than job.NotBefore.
	// Re-scheduling the same key before it fires replaces the prior schedule.
	Schedule(ctx context.Context, job Job) error

	// Cancel removes a pending job by key. Best-effort: a job already
	// dequeued may still be delivered.
	Cancel(ctx context.Context, key string) error

	// Start begins delivering due jobs to the handler until Stop or context
	// cancellation.
	Start(ctx context.Context, handler Handler) error

	// Stop shuts down delivery and waits for in-flight handlers.
	Stop(ctx context.Context) error
}
