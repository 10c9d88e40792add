// Package events defines event types for the completion feed and for
// instance lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/relancehq/relance/pkg/models"
)

type EventType string

// Topics.
const CompletionTopic = "relance.completions" // Inbound completion feed consumed by the detector
const LifecycleTopic = "relance.instances"    // Outbound instance lifecycle events published by the engine

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Completion feed.
	CompletionObservedEvent EventType = "completion.observed"

	// Instance lifecycle.
	InstanceStartedEvent      EventType = "instance.started"
	InstanceRemindedEvent     EventType = "instance.reminded"
	InstanceCompletedEvent    EventType = "instance.completed"
	InstanceAutoResolvedEvent EventType = "instance.auto_resolved"
	InstanceExpiredEvent      EventType = "instance.expired"
	InstanceSkippedEvent      EventType = "instance.skipped"
)

// Event is implemented by every event payload.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
}

// NewBaseEvent creates the shared envelope for an event.
func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

// CompletionObserved is an entry of the completion feed: an external result
// (a posted review, an engaged lead, uploaded media) that may complete an
// open instance. Correlation fields are kind-specific and best-effort; the
// feed does not carry the workflow's dedup key.
type CompletionObserved struct {
	BaseEvent

	Kind models.Kind `json:"kind"`

	// Result names what was observed, copied into the instance outcome.
	Result string `json:"result"`

	// Phone and Name are optional correlation hints.
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`

	// OccurredAt is when the external system reported the result.
	OccurredAt time.Time `json:"occurred_at"`

	// Data carries any further provider fields, retained as evidence.
	Data map[string]any `json:"data,omitempty"`
}

func (e CompletionObserved) GetType() EventType {
	return CompletionObservedEvent
}

// InstanceStarted is published after the initial message was sent.
type InstanceStarted struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
	DedupKey   string      `json:"dedup_key"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

// InstanceReminded is published after the reminder step sent its message.
type InstanceReminded struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
	StepIndex  int         `json:"step_index"`
}

func (e InstanceReminded) GetType() EventType {
	return InstanceRemindedEvent
}

// InstanceCompleted is published when the awaited external result was
// observed before escalation exhausted.
type InstanceCompleted struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
	Result     string      `json:"result"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

// InstanceAutoResolved is published when the terminal step performed the
// safe default action.
type InstanceAutoResolved struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
}

func (e InstanceAutoResolved) GetType() EventType {
	return InstanceAutoResolvedEvent
}

// InstanceExpired is published when the terminal step gave up with no action.
type InstanceExpired struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
}

func (e InstanceExpired) GetType() EventType {
	return InstanceExpiredEvent
}

// InstanceSkipped is published when a precondition failure stopped the
// instance before or between sends.
type InstanceSkipped struct {
	BaseEvent

	InstanceID string      `json:"instance_id"`
	Kind       models.Kind `json:"kind"`
	Reason     string      `json:"reason"`
}

func (e InstanceSkipped) GetType() EventType {
	return InstanceSkippedEvent
}
