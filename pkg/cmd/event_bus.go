package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/relancehq/relance/pkg/eventbus"
	"github.com/relancehq/relance/pkg/eventbus/gochannel"
	"github.com/relancehq/relance/pkg/eventbus/kafka"
)

// NewEventBus creates an event bus bound to one topic, backed by the named
// provider.
func NewEventBus(provider string, logger *slog.Logger, topic string) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "relance")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
