// Package memory provides a timer-based in-process scheduler for tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/relancehq/relance/pkg/scheduler"
)

// Scheduler delivers jobs from in-process timers. Pending jobs do not
// survive a restart; production deployments use the Redis scheduler.
type Scheduler struct {
	mu      sync.Mutex
	handler scheduler.Handler
	timers  map[string]*time.Timer
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates an empty in-memory scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule enqueues a job, replacing any pending timer with the same key.
func (s *Scheduler) Schedule(ctx context.Context, job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[job.Key]; ok {
		if existing.Stop() {
			s.wg.Done()
		}
	}

	delay := time.Until(job.NotBefore)
	if delay < 0 {
		delay = 0
	}

	s.wg.Add(1)
	s.timers[job.Key] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.fire(ctx, job)
	})

	return nil
}

// Cancel stops a pending timer. Best-effort: an already-fired timer is not
// recalled.
func (s *Scheduler) Cancel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[key]; ok {
		if timer.Stop() {
			s.wg.Done()
		}

		delete(s.timers, key)
	}

	return nil
}

// Start registers the handler. Timers fire independently of Start, so jobs
// scheduled before Start are delivered once a handler exists.
func (s *Scheduler) Start(_ context.Context, handler scheduler.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
	s.started = true

	return nil
}

// Stop waits for in-flight timers and clears pending ones.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	for key, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}

		delete(s.timers, key)
	}
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}

func (s *Scheduler) fire(ctx context.Context, job scheduler.Job) {
	s.mu.Lock()
	handler := s.handler
	delete(s.timers, job.Key)
	s.mu.Unlock()

	if handler == nil {
		return
	}

	// Handler errors are swallowed here; the in-memory scheduler has no
	// durable retry. Tests drive redelivery explicitly.
	_ = handler(ctx, job)
}
