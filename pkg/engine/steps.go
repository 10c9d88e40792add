package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/relancehq/relance/pkg/channel"
	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/policy"
	"github.com/relancehq/relance/pkg/scheduler"
	"github.com/relancehq/relance/pkg/store"
)

// completeAttempts bounds the Complete retry loop. The state machine has at
// most three non-terminal states, so a handful of compare-and-set retries
// always reaches either success or a terminal observation.
const completeAttempts = 5

// HandleJob adapts scheduled jobs to RunStep. This is the handler worker
// processes register on the scheduler.
func (e *Engine) HandleJob(ctx context.Context, job scheduler.Job) error {
	return e.RunStep(ctx, job.InstanceID, job.StepIndex)
}

// RunStep executes one scheduled policy step. Invoked by the scheduler with
// at-least-once delivery; the guards below make duplicate, stale and
// post-completion callbacks silent no-ops.
func (e *Engine) RunStep(ctx context.Context, instanceID string, expectedStepIndex int) error {
	ctx, span := e.startSpan(ctx, "engine.RunStep",
		attribute.String("instance_id", instanceID),
		attribute.Int("step_index", expectedStepIndex),
	)
	defer span.End()

	instance, err := e.store.InstanceByID(ctx, instanceID)
	if err != nil {
		if store.IsInstanceNotFound(err) {
			e.logger.WarnContext(ctx, "Scheduled step for unknown instance", "instance_id", instanceID)

			return nil
		}

		return err
	}

	if instance.State.IsTerminal() {
		return nil
	}

	// The core idempotency guard: a callback whose step index does not
	// match the expected progression is stale or duplicated.
	if expectedStepIndex != instance.StepIndex+1 {
		e.logger.DebugContext(ctx, "Ignoring stale step callback",
			"instance_id", instanceID,
			"expected", expectedStepIndex,
			"current", instance.StepIndex)

		return nil
	}

	pol, err := policy.ForKind(instance.Kind)
	if err != nil {
		return err
	}

	preferences, err := e.prefs.Get(ctx, instance.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant preferences: %w", err)
	}

	if !preferences.KindEnabled(instance.Kind) {
		_, err = e.skip(ctx, instance, "kind disabled by tenant")

		return err
	}

	switch expectedStepIndex {
	case 1:
		return e.runReminderStep(ctx, instance, pol)
	case 2:
		return e.runTerminalStep(ctx, instance, pol)
	default:
		e.logger.WarnContext(ctx, "Step index outside policy",
			"instance_id", instanceID,
			"step_index", expectedStepIndex)

		return nil
	}
}

// runReminderStep sends the reminder, moves to Reminded and schedules the
// terminal step.
func (e *Engine) runReminderStep(ctx context.Context, instance *models.Instance, pol policy.Policy) error {
	if instance.State != models.StateAwaitingResponse {
		// A job from a start whose transition never landed; the retried
		// start will re-schedule.
		return nil
	}

	recipient, ok := instance.Recipient()
	if !ok {
		_, err := e.skip(ctx, instance, "no recipient configured")

		return err
	}

	err := e.send(ctx, instance, recipient, pol.ReminderTemplateID)
	if err != nil {
		if isRecipientInvalid(err) {
			_, err = e.skip(ctx, instance, "recipient invalid")

			return err
		}

		return err
	}

	jobKey := models.StepJobKey(instance.ID, 2)
	now := time.Now().UTC()

	err = e.scheduler.Schedule(ctx, scheduler.Job{
		Key:        jobKey,
		InstanceID: instance.ID,
		StepIndex:  2,
		NotBefore:  now.Add(pol.TerminalDelay),
	})
	if err != nil {
		return fmt.Errorf("failed to schedule terminal step for instance %s: %w", instance.ID, err)
	}

	updated, err := e.store.ConditionalTransition(ctx, instance.ID,
		models.StateAwaitingResponse, models.StateReminded,
		func(i *models.Instance) {
			i.StepIndex = 1
			i.LastStepAt = now
			i.ScheduledJobKey = jobKey
		})
	if err != nil {
		if store.IsStateConflict(err) {
			e.cancelJob(ctx, jobKey)

			return nil
		}

		return err
	}

	e.logger.InfoContext(ctx, "Reminder sent",
		"instance_id", updated.ID,
		"kind", updated.Kind,
		"terminal_step_at", now.Add(pol.TerminalDelay))

	e.publish(ctx, updated.TenantID, events.InstanceReminded{
		BaseEvent:  events.NewBaseEvent(events.InstanceRemindedEvent, updated.TenantID),
		InstanceID: updated.ID,
		Kind:       updated.Kind,
		StepIndex:  updated.StepIndex,
	})

	return nil
}

// runTerminalStep performs the policy's terminal action: the safe default
// send for auto-resolve kinds, or nothing for expiry.
func (e *Engine) runTerminalStep(ctx context.Context, instance *models.Instance, pol policy.Policy) error {
	if instance.State != models.StateReminded {
		return nil
	}

	now := time.Now().UTC()

	if pol.Terminal == policy.ActionAutoResolve {
		recipient, ok := instance.Recipient()
		if !ok {
			_, err := e.skip(ctx, instance, "no recipient configured")

			return err
		}

		err := e.send(ctx, instance, recipient, pol.TerminalTemplateID)
		if err != nil {
			if isRecipientInvalid(err) {
				_, err = e.skip(ctx, instance, "recipient invalid")

				return err
			}

			return err
		}

		updated, err := e.store.ConditionalTransition(ctx, instance.ID,
			models.StateReminded, models.StateAutoResolved,
			func(i *models.Instance) {
				i.StepIndex = 2
				i.LastStepAt = now
				i.ScheduledJobKey = ""
			})
		if err != nil {
			if store.IsStateConflict(err) {
				return nil
			}

			return err
		}

		e.logger.InfoContext(ctx, "Instance auto-resolved", "instance_id", updated.ID, "kind", updated.Kind)

		e.publish(ctx, updated.TenantID, events.InstanceAutoResolved{
			BaseEvent:  events.NewBaseEvent(events.InstanceAutoResolvedEvent, updated.TenantID),
			InstanceID: updated.ID,
			Kind:       updated.Kind,
		})

		return nil
	}

	updated, err := e.store.ConditionalTransition(ctx, instance.ID,
		models.StateReminded, models.StateExpired,
		func(i *models.Instance) {
			i.StepIndex = 2
			i.LastStepAt = now
			i.ScheduledJobKey = ""
		})
	if err != nil {
		if store.IsStateConflict(err) {
			return nil
		}

		return err
	}

	e.logger.InfoContext(ctx, "Instance expired", "instance_id", updated.ID, "kind", updated.Kind)

	e.publish(ctx, updated.TenantID, events.InstanceExpired{
		BaseEvent:  events.NewBaseEvent(events.InstanceExpiredEvent, updated.TenantID),
		InstanceID: updated.ID,
		Kind:       updated.Kind,
	})

	return nil
}

// Complete marks an instance Completed because the awaited external result
// was observed. Idempotent: completing a terminal instance is a no-op. The
// outstanding scheduled step is cancelled as best-effort cleanup; the
// RunStep guards are what actually prevent a post-completion send.
func (e *Engine) Complete(ctx context.Context, instanceID string, outcome models.Outcome) error {
	ctx, span := e.startSpan(ctx, "engine.Complete",
		attribute.String("instance_id", instanceID),
		attribute.String("result", outcome.Result),
	)
	defer span.End()

	for attempt := 0; attempt < completeAttempts; attempt++ {
		instance, err := e.store.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}

		if instance.State.IsTerminal() {
			return nil
		}

		jobKey := instance.ScheduledJobKey
		now := time.Now().UTC()

		updated, err := e.store.ConditionalTransition(ctx, instanceID,
			instance.State, models.StateCompleted,
			func(i *models.Instance) {
				i.CompletedAt = &now
				i.ScheduledJobKey = ""
				if i.Payload == nil {
					i.Payload = make(map[string]any)
				}
				i.Payload["outcome"] = map[string]any{
					"result":      outcome.Result,
					"observed_at": outcome.ObservedAt,
					"evidence":    outcome.Evidence,
				}
			})
		if err != nil {
			if store.IsStateConflict(err) {
				// Another caller advanced the instance; observe and retry.
				continue
			}

			return err
		}

		e.cancelJob(ctx, jobKey)

		e.logger.InfoContext(ctx, "Instance completed",
			"instance_id", updated.ID,
			"kind", updated.Kind,
			"result", outcome.Result)

		e.publish(ctx, updated.TenantID, events.InstanceCompleted{
			BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, updated.TenantID),
			InstanceID: updated.ID,
			Kind:       updated.Kind,
			Result:     outcome.Result,
		})

		return nil
	}

	e.logger.WarnContext(ctx, "Complete gave up after repeated state conflicts", "instance_id", instanceID)

	return nil
}

// skip moves an instance to Skipped after a precondition failure. Losing
// the transition race means someone else advanced the instance; that result
// stands.
func (e *Engine) skip(ctx context.Context, instance *models.Instance, reason string) (*models.Instance, error) {
	jobKey := instance.ScheduledJobKey
	now := time.Now().UTC()

	updated, err := e.store.ConditionalTransition(ctx, instance.ID,
		instance.State, models.StateSkipped,
		func(i *models.Instance) {
			i.LastStepAt = now
			i.ScheduledJobKey = ""
		})
	if err != nil {
		if store.IsStateConflict(err) {
			return e.store.InstanceByID(ctx, instance.ID)
		}

		return nil, err
	}

	e.cancelJob(ctx, jobKey)

	e.logger.InfoContext(ctx, "Instance skipped",
		"instance_id", updated.ID,
		"kind", updated.Kind,
		"reason", reason)

	e.publish(ctx, updated.TenantID, events.InstanceSkipped{
		BaseEvent:  events.NewBaseEvent(events.InstanceSkippedEvent, updated.TenantID),
		InstanceID: updated.ID,
		Kind:       updated.Kind,
		Reason:     reason,
	})

	return updated, nil
}

func isRecipientInvalid(err error) bool {
	return errors.Is(err, channel.ErrRecipientInvalid)
}
