package eventbus_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/channels/gochannel"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/eventbus"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/events"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/mocks"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func collect[T any](t *testing.T, bus *eventbus.WatermillEventBus, eventType events.EventType) <-chan T {
	t.Helper()

	received := make(chan T, 10)

	require.NoError(t, bus.Handle(eventType, func(_ context.Context, event any) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		received <- typed

		return nil
	}))

	return received
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	var zero T

	return zero
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx := t.Context()

	states := collect[*events.NodeStateChanged](t, bus, events.NodeStateChangedEvent)
	saved := collect[*events.GraphSaved](t, bus, events.GraphSavedEvent)

	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "total", &events.NodeStateChanged{
		BaseEvent: events.NewBaseEvent(events.NodeStateChangedEvent, "g1"),
		State:     models.NodeState{NodeID: "total", Status: models.ExecutionStatusRunning, Version: 7},
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, "g1", &events.GraphSaved{
		BaseEvent: events.NewBaseEvent(events.GraphSavedEvent, "g1"),
		Name:      "pricing",
		NodeCount: 3,
	})
	require.NoError(t, err)

	state := receive(t, states)
	assert.Equal(t, "total", state.State.NodeID)
	assert.Equal(t, models.ExecutionStatusRunning, state.State.Status)
	assert.Equal(t, uint64(7), state.State.Version)

	graph := receive(t, saved)
	assert.Equal(t, "pricing", graph.Name)
	assert.Equal(t, 3, graph.NodeCount)
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx := t.Context()

	deleted := collect[*events.GraphDeleted](t, bus, events.GraphDeletedEvent)
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "g1", &events.StreamStatusChanged{
		BaseEvent: events.NewBaseEvent(events.StreamStatusChangedEvent, "g1"),
		Status:    "connected",
	}))
	require.NoError(t, bus.Publish(ctx, "g1", &events.GraphDeleted{
		BaseEvent: events.NewBaseEvent(events.GraphDeletedEvent, "g1"),
	}))

	assert.Equal(t, "g1", receive(t, deleted).GraphID)
}

func TestForwarder(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	states := collect[*events.NodeStateChanged](t, bus, events.NodeStateChangedEvent)
	statuses := collect[*events.StreamStatusChanged](t, bus, events.StreamStatusChangedEvent)
	deleted := collect[*events.GraphDeleted](t, bus, events.GraphDeletedEvent)

	require.NoError(t, bus.Subscribe(ctx))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	forwarder := eventbus.NewForwarder(logger, bus,
		func() string { return "g1" },
		func() string { return "wss://stream.example.com" },
	)

	done := make(chan error, 1)

	go func() { done <- forwarder.Run(ctx) }()

	forwarder.NodeStateChanged(models.NodeState{NodeID: "sum", Status: models.ExecutionStatusSuccess})
	forwarder.StreamStatusChanged(streaming.StatusConnected)
	forwarder.GraphDeleted("old")

	state := receive(t, states)
	assert.Equal(t, "sum", state.State.NodeID)
	assert.Equal(t, "g1", state.GraphID)

	status := receive(t, statuses)
	assert.Equal(t, "connected", status.Status)
	assert.Equal(t, "wss://stream.example.com", status.Endpoint)

	assert.Equal(t, "old", receive(t, deleted).GraphID)

	cancel()
	require.NoError(t, <-done)
}

func TestForwarder_PublishFailureKeepsRunning(t *testing.T) {
	bus := &mocks.MockEventBus{}

	published := make(chan eventbus.Event, 2)

	bus.On("Publish", mock.Anything, "sum", mock.Anything).
		Return(errors.New("broker unavailable")).
		Run(func(args mock.Arguments) { published <- args.Get(2).(eventbus.Event) }).
		Once()
	bus.On("Publish", mock.Anything, string(events.GraphDeletedEvent), mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) { published <- args.Get(2).(eventbus.Event) }).
		Once()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	forwarder := eventbus.NewForwarder(logger, bus, nil, nil)

	done := make(chan error, 1)

	go func() { done <- forwarder.Run(ctx) }()

	forwarder.NodeStateChanged(models.NodeState{NodeID: "sum"})
	forwarder.GraphDeleted("old")

	first := receive(t, published)
	assert.Equal(t, events.NodeStateChangedEvent, first.GetType())
	assert.Empty(t, first.(*events.NodeStateChanged).GraphID)

	second := receive(t, published)
	assert.Equal(t, events.GraphDeletedEvent, second.GetType())

	cancel()
	require.NoError(t, <-done)
	bus.AssertExpectations(t)
}
