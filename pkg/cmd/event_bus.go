// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/channels/gochannel"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/channels/kafka"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/eventbus"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const serviceName = "formula-playground"

// NewPubSub creates the watermill publisher and subscriber for a provider.
func NewPubSub(provider string, brokers []string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create go channel pub/sub: %w", err)
		}

		return pub, sub, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName, brokers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

// NewEventBus creates an event bus on top of NewPubSub. The subscriber is returned as well so
// other consumers, like the streaming transport, can share the connection.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (*eventbus.WatermillEventBus, message.Subscriber, error) {
	pub, sub, err := NewPubSub(provider, brokers, logger)
	if err != nil {
		return nil, nil, err
	}

	return eventbus.NewWatermillEventBus(pub, sub), sub, nil
}
