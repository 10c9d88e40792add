// Package eventbus provides the watermill-backed event bus used for the
// completion feed and instance lifecycle notifications.
package eventbus

import (
	"context"

	"github.com/relancehq/relance/pkg/events"
)

// EventHandler processes a decoded event. A returned error nacks the message
// for redelivery.
type EventHandler func(ctx context.Context, event any) error

// EventBus publishes and subscribes typed events on one topic.
type EventBus interface {
	// Publish sends an event, keyed for partitioning.
	Publish(ctx context.Context, key string, event events.Event) error

	// Handle registers a handler for an event type. Must be called before
	// Subscribe.
	Handle(eventType events.EventType, handler EventHandler) error

	// Subscribe starts consuming the topic and dispatching to handlers.
	Subscribe(ctx context.Context) error

	// GenerateID returns a new unique event/message identifier.
	GenerateID() string

	Close() error
}
