package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/cmd"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/eventbus"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/events"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var ErrUnknownEventType = errors.New("unknown event type")

var eventTypes = []events.EventType{
	events.NodeStateChangedEvent,
	events.StreamStatusChangedEvent,
	events.GraphSavedEvent,
	events.GraphDeletedEvent,
}

func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print the events a running playground API publishes, one JSON document per line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringSliceFlag{
				Name:  "type",
				Usage: "Only print these event types",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level")).With("module", "playground", "action", "events")

			types, err := parseEventTypes(command.StringSlice("type"))
			if err != nil {
				return err
			}

			bus, _, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.Warn("Failed to close event bus", "error", err)
				}
			}()

			logger.Info("Listening for events", "types", types)

			return TailEvents(ctx, bus, command.Root().Writer, types)
		},
	}
}

// TailEvents writes each event of the given types to w until ctx is done.
func TailEvents(ctx context.Context, bus eventbus.EventSubscriber, w io.Writer, types []events.EventType) error {
	var mu sync.Mutex

	encoder := json.NewEncoder(w)

	write := func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		return encoder.Encode(event)
	}

	for _, eventType := range types {
		if err := bus.Handle(eventType, write); err != nil {
			return fmt.Errorf("failed to handle %s events: %w", eventType, err)
		}
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	<-ctx.Done()

	return nil
}

func parseEventTypes(names []string) ([]events.EventType, error) {
	if len(names) == 0 {
		return eventTypes, nil
	}

	types := make([]events.EventType, 0, len(names))

	for _, name := range names {
		eventType := events.EventType(name)
		if !slices.Contains(eventTypes, eventType) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
		}

		types = append(types, eventType)
	}

	return types, nil
}
