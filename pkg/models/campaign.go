package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

// CampaignSchedule drives recurring starts of the periodic kinds (photo and
// post requests). The next execution time is precomputed so a central poller
// can query due schedules without evaluating every cron expression per tick.
type CampaignSchedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// TenantID owns the campaign
	TenantID string `json:"tenant_id" validate:"required"`

	// Kind is the workflow kind started on each due period
	Kind Kind `json:"kind" validate:"required"`

	// CronExpression defines the cadence, standard 5-field format
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next execution time
	NextDueAt time.Time `json:"next_due_at"`

	// Payload is copied into each started instance
	Payload map[string]any `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewCampaignSchedule creates a schedule and precomputes its first due time.
func NewCampaignSchedule(id, tenantID string, kind Kind, cronExpression string, payload map[string]any) (*CampaignSchedule, error) {
	schedule := &CampaignSchedule{
		ID:             id,
		TenantID:       tenantID,
		Kind:           kind,
		CronExpression: cronExpression,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}

	err := schedule.UpdateNextDueAt()
	if err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt recomputes NextDueAt from the cron expression.
func (s *CampaignSchedule) UpdateNextDueAt() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	spec, err := parser.Parse(s.CronExpression)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCronExpression, s.CronExpression, err)
	}

	s.NextDueAt = spec.Next(time.Now().UTC())

	return nil
}

// IsDue reports whether the schedule should start an instance at the given time.
func (s *CampaignSchedule) IsDue(now time.Time) bool {
	return !s.NextDueAt.IsZero() && !s.NextDueAt.After(now)
}

// PeriodKey derives the dedup key for the period that fired at the given
// due time. Keying on the due instant keeps duplicate polls of the same tick
// idempotent while giving every period of the cadence its own key, however
// fine the cron expression.
func (s *CampaignSchedule) PeriodKey(due time.Time) string {
	return s.ID + ":" + due.UTC().Format(time.RFC3339)
}
