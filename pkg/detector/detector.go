// Package detector correlates external completion events to open workflow
// instances and completes them, independently of the engine's scheduled
// steps.
//
// Correlation is heuristic (phone suffix, name, response-window timing)
// because the external systems do not carry the workflow's dedup key. A
// missed match is accepted: the instance simply proceeds to its reminder.
package detector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relancehq/relance/pkg/eventbus"
	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/policy"
	"github.com/relancehq/relance/pkg/store"
)

// Completer is the slice of the engine the detector needs.
type Completer interface {
	Complete(ctx context.Context, instanceID string, outcome models.Outcome) error
}

// Detector consumes the completion feed and completes matched instances.
type Detector struct {
	store     store.Store
	completer Completer
	bus       eventbus.EventBus
	logger    *slog.Logger
}

// NewDetector creates a detector over the completion feed bus.
func NewDetector(logger *slog.Logger, instanceStore store.Store, completer Completer, bus eventbus.EventBus) *Detector {
	return &Detector{
		store:     instanceStore,
		completer: completer,
		bus:       bus,
		logger:    logger.With("module", "detector"),
	}
}

// Start registers the feed handler and begins consuming.
func (d *Detector) Start(ctx context.Context) error {
	err := d.bus.Handle(events.CompletionObservedEvent, d.handleCompletion)
	if err != nil {
		return fmt.Errorf("failed to register completion handler: %w", err)
	}

	err = d.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to completion feed: %w", err)
	}

	d.logger.InfoContext(ctx, "Completion detector started")

	return nil
}

func (d *Detector) handleCompletion(ctx context.Context, event any) error {
	observed, ok := event.(*events.CompletionObserved)
	if !ok {
		d.logger.ErrorContext(ctx, "Unexpected event payload on completion feed")

		return nil
	}

	instance, err := d.Match(ctx, observed)
	if err != nil {
		// Store trouble: nack for redelivery.
		return err
	}

	if instance == nil {
		d.logger.DebugContext(ctx, "No open instance matched completion event",
			"tenant_id", observed.TenantID,
			"kind", observed.Kind,
			"result", observed.Result)

		return nil
	}

	err = d.completer.Complete(ctx, instance.ID, models.Outcome{
		Result:     observed.Result,
		ObservedAt: observed.OccurredAt,
		Evidence:   observed.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to complete instance %s: %w", instance.ID, err)
	}

	d.logger.InfoContext(ctx, "Completion event matched",
		"instance_id", instance.ID,
		"tenant_id", observed.TenantID,
		"kind", observed.Kind,
		"result", observed.Result)

	return nil
}

// Match finds the open instance a completion event belongs to, or nil when
// nothing matches. When several instances match, the oldest wins: with
// fuzzy correlation it is the most likely to be the actual respondent's.
func (d *Detector) Match(ctx context.Context, event *events.CompletionObserved) (*models.Instance, error) {
	pol, err := policy.ForKind(event.Kind)
	if err != nil {
		d.logger.WarnContext(ctx, "Completion event for unknown kind", "kind", event.Kind)

		return nil, nil
	}

	open, err := d.store.ListOpenInstances(ctx, event.TenantID, event.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list open instances: %w", err)
	}

	for _, instance := range open {
		if matchInstance(instance, event, pol) {
			return instance, nil
		}
	}

	return nil, nil
}
