// Package campaign starts the periodic workflow kinds (photo and post
// requests) on per-tenant cron cadences.
//
// A central poller checks all schedules once a minute regardless of their
// individual cron expressions; each schedule carries a precomputed next due
// time. The period-derived dedup key makes a double poll of the same period
// an idempotent duplicate, not a second outreach.
package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relancehq/relance/pkg/engine"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

const pollInterval = time.Minute

// Starter is the slice of the engine the runner needs.
type Starter interface {
	Start(ctx context.Context, req models.StartRequest) (*models.Instance, error)
}

// Runner polls campaign schedules and starts due instances.
type Runner struct {
	store   store.Store
	starter Starter
	logger  *slog.Logger
	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// NewRunner creates a campaign runner.
func NewRunner(logger *slog.Logger, scheduleStore store.Store, starter Starter) *Runner {
	return &Runner{
		store:   scheduleStore,
		starter: starter,
		logger:  logger.With("module", "campaign_runner"),
	}
}

// Start begins the minute poll loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.ticker = time.NewTicker(pollInterval)
	r.done = make(chan bool)
	r.started = true

	go r.poll(ctx)

	r.logger.InfoContext(ctx, "Campaign runner started")

	return nil
}

// Stop shuts down the poll loop.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	if r.ticker != nil {
		r.ticker.Stop()
	}

	select {
	case r.done <- true:
	default:
	}

	r.started = false
	r.logger.InfoContext(ctx, "Campaign runner stopped")

	return nil
}

func (r *Runner) poll(ctx context.Context) {
	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-r.ticker.C:
			r.ProcessDue(ctx, time.Now().UTC())
		}
	}
}

// ProcessDue starts an instance for every schedule due at the given time
// and advances the schedules' next due times. Exported so one-shot tooling
// and tests can drive it directly.
func (r *Runner) ProcessDue(ctx context.Context, now time.Time) {
	schedules, err := r.store.CampaignSchedules(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load campaign schedules", "error", err)

		return
	}

	for _, schedule := range schedules {
		if !schedule.IsDue(now) {
			continue
		}

		r.runSchedule(ctx, schedule)
	}
}

func (r *Runner) runSchedule(ctx context.Context, schedule *models.CampaignSchedule) {
	// The key derives from the due tick being served, not the poll time: a
	// double poll of the same tick is a duplicate, the next tick is not.
	due := schedule.NextDueAt

	_, err := r.starter.Start(ctx, models.StartRequest{
		TenantID: schedule.TenantID,
		Kind:     schedule.Kind,
		DedupKey: schedule.PeriodKey(due),
		Payload:  schedule.Payload,
	})
	if err != nil && !errors.Is(err, engine.ErrDuplicateActive) {
		r.logger.ErrorContext(ctx, "Failed to start campaign instance",
			"schedule_id", schedule.ID,
			"tenant_id", schedule.TenantID,
			"kind", schedule.Kind,
			"error", err)

		// Leave NextDueAt untouched, the next poll retries.
		return
	}

	err = schedule.UpdateNextDueAt()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to advance schedule",
			"schedule_id", schedule.ID,
			"error", err)

		return
	}

	err = r.store.SaveCampaignSchedule(ctx, schedule)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save schedule",
			"schedule_id", schedule.ID,
			"error", err)
	}
}
