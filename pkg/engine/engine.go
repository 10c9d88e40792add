// Package engine orchestrates time-boxed escalation workflows: it starts
// instances, executes scheduled steps, and resolves the race between an
// early completion and an escalation timer that fires anyway.
//
// Correctness rests on the store's conditional transition alone. Scheduler
// cancellation is an optimization: a cancelled job may still fire, and the
// state guards in RunStep and Complete make that a no-op.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/relancehq/relance/pkg/channel"
	"github.com/relancehq/relance/pkg/eventbus"
	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/policy"
	"github.com/relancehq/relance/pkg/prefs"
	"github.com/relancehq/relance/pkg/scheduler"
	"github.com/relancehq/relance/pkg/store"
	"github.com/relancehq/relance/pkg/throttle"
)

var (
	// ErrDuplicateActive signals an idempotent start against an existing
	// active instance. Not a failure; the caller gets the existing instance.
	ErrDuplicateActive = store.ErrDuplicateActive
)

// Engine drives workflow instances through their escalation policy.
type Engine struct {
	store     store.Store
	scheduler scheduler.Scheduler
	channel   channel.Channel
	throttle  *throttle.Throttle
	prefs     *prefs.Cache
	bus       eventbus.EventBus
	tracer    trace.Tracer
	logger    *slog.Logger
	validate  *validator.Validate
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus makes the engine publish instance lifecycle events. Publish
// failures are logged, never block a transition.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithTracer adds spans around the engine's public operations.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an engine over its collaborator ports.
func NewEngine(
	logger *slog.Logger,
	instanceStore store.Store,
	jobScheduler scheduler.Scheduler,
	outreach channel.Channel,
	pacer *throttle.Throttle,
	preferences *prefs.Cache,
	opts ...Option,
) *Engine {
	engine := &Engine{
		store:     instanceStore,
		scheduler: jobScheduler,
		channel:   outreach,
		throttle:  pacer,
		prefs:     preferences,
		logger:    logger.With("module", "engine"),
		validate:  validator.New(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start creates an instance in Initiated, sends the kind's initial message,
// transitions to AwaitingResponse and schedules the reminder step.
//
// Start is idempotent under the dedup key: a repeat call against an active
// instance returns that instance with ErrDuplicateActive, except when the
// active instance is still Initiated (a prior send failed), in which case
// step 0 is resumed so the caller's at-least-once retry converges.
func (e *Engine) Start(ctx context.Context, req models.StartRequest) (*models.Instance, error) {
	ctx, span := e.startSpan(ctx, "engine.Start",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("kind", string(req.Kind)),
		attribute.String("dedup_key", req.DedupKey),
	)
	defer span.End()

	err := e.validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("invalid start request: %w", err)
	}

	pol, err := policy.ForKind(req.Kind)
	if err != nil {
		return nil, err
	}

	err = policy.ValidatePayload(req.Kind, req.Payload)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.FindActiveByDedupKey(ctx, req.TenantID, req.Kind, req.DedupKey)
	if err != nil && !store.IsInstanceNotFound(err) {
		return nil, err
	}

	if existing != nil {
		if existing.State != models.StateInitiated {
			return existing, ErrDuplicateActive
		}

		// A prior start sent nothing (or we cannot know); resume step 0.
		return e.performInitial(ctx, existing, pol)
	}

	now := time.Now().UTC()
	instance := &models.Instance{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Kind:       req.Kind,
		DedupKey:   req.DedupKey,
		State:      models.StateInitiated,
		StepIndex:  0,
		Payload:    req.Payload,
		CreatedAt:  now,
		LastStepAt: now,
	}

	err = e.store.CreateInstance(ctx, instance)
	if err != nil {
		if store.IsDuplicateActive(err) {
			// Lost a concurrent-create race; surface the winner.
			winner, findErr := e.store.FindActiveByDedupKey(ctx, req.TenantID, req.Kind, req.DedupKey)
			if findErr != nil {
				return nil, findErr
			}

			return winner, ErrDuplicateActive
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow instance created",
		"instance_id", instance.ID,
		"tenant_id", instance.TenantID,
		"kind", instance.Kind,
		"dedup_key", instance.DedupKey)

	return e.performInitial(ctx, instance, pol)
}

// performInitial executes step 0 for an Initiated instance: preconditions,
// the initial send, the reminder schedule and the transition to
// AwaitingResponse.
func (e *Engine) performInitial(ctx context.Context, instance *models.Instance, pol policy.Policy) (*models.Instance, error) {
	preferences, err := e.prefs.Get(ctx, instance.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant preferences: %w", err)
	}

	if !preferences.KindEnabled(instance.Kind) {
		return e.skip(ctx, instance, "kind disabled by tenant")
	}

	recipient, ok := instance.Recipient()
	if !ok {
		return e.skip(ctx, instance, "no recipient configured")
	}

	err = e.send(ctx, instance, recipient, pol.InitialTemplateID)
	if err != nil {
		if isRecipientInvalid(err) {
			return e.skip(ctx, instance, "recipient invalid")
		}

		// Transient: the instance stays Initiated; the caller's retry
		// re-invokes Start and resumes here.
		return nil, err
	}

	jobKey := models.StepJobKey(instance.ID, 1)
	now := time.Now().UTC()

	err = e.scheduler.Schedule(ctx, scheduler.Job{
		Key:        jobKey,
		InstanceID: instance.ID,
		StepIndex:  1,
		NotBefore:  now.Add(pol.ReminderDelay),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reminder for instance %s: %w", instance.ID, err)
	}

	updated, err := e.store.ConditionalTransition(ctx, instance.ID,
		models.StateInitiated, models.StateAwaitingResponse,
		func(i *models.Instance) {
			i.LastStepAt = now
			i.ScheduledJobKey = jobKey
		})
	if err != nil {
		if store.IsStateConflict(err) {
			// Someone advanced the instance under us (an early completion).
			// The scheduled job is now stale; its step-index guard makes it
			// harmless, cancelling is just cleanup.
			e.cancelJob(ctx, jobKey)

			return e.store.InstanceByID(ctx, instance.ID)
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "Initial message sent",
		"instance_id", updated.ID,
		"kind", updated.Kind,
		"next_step_at", now.Add(pol.ReminderDelay))

	e.publish(ctx, updated.TenantID, events.InstanceStarted{
		BaseEvent:  events.NewBaseEvent(events.InstanceStartedEvent, updated.TenantID),
		InstanceID: updated.ID,
		Kind:       updated.Kind,
		DedupKey:   updated.DedupKey,
	})

	return updated, nil
}

// send paces the tenant and performs one outbound message.
func (e *Engine) send(ctx context.Context, instance *models.Instance, recipient, templateID string) error {
	err := e.throttle.Wait(ctx, instance.TenantID)
	if err != nil {
		return fmt.Errorf("throttle wait interrupted: %w", err)
	}

	variables := make(map[string]any, len(instance.Payload))
	for k, v := range instance.Payload {
		variables[k] = v
	}

	messageID, err := e.channel.Send(ctx, channel.Message{
		Recipient:  recipient,
		TemplateID: templateID,
		Variables:  variables,
	})
	if err != nil {
		return fmt.Errorf("send failed for instance %s template %s: %w", instance.ID, templateID, err)
	}

	e.logger.InfoContext(ctx, "Message sent",
		"instance_id", instance.ID,
		"template_id", templateID,
		"message_id", messageID)

	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}

	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) publish(ctx context.Context, key string, event events.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"error", err)
	}
}

func (e *Engine) cancelJob(ctx context.Context, jobKey string) {
	if jobKey == "" {
		return
	}

	err := e.scheduler.Cancel(ctx, jobKey)
	if err != nil {
		e.logger.WarnContext(ctx, "Best-effort job cancellation failed",
			"job_key", jobKey,
			"error", err)
	}
}
