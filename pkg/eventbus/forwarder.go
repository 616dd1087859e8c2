package eventbus

import (
	"context"
	"log/slog"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/events"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
)

const defaultForwarderBuffer = 256

// Forwarder turns state-store and multiplexer callbacks into bus events. Callbacks only enqueue;
// Run publishes, so a slow broker never stalls the runtime. Events are dropped when the queue is full.
type Forwarder struct {
	logger   *slog.Logger
	bus      EventPublisher
	graphID  func() string
	endpoint func() string
	queue    chan Event
}

// NewForwarder creates a forwarder. graphID and endpoint are read at enqueue time and may be nil.
func NewForwarder(logger *slog.Logger, bus EventPublisher, graphID, endpoint func() string) *Forwarder {
	return &Forwarder{
		logger:   logger.With("module", "event_forwarder"),
		bus:      bus,
		graphID:  graphID,
		endpoint: endpoint,
		queue:    make(chan Event, defaultForwarderBuffer),
	}
}

// NodeStateChanged matches runtime.StateListener.
func (f *Forwarder) NodeStateChanged(state models.NodeState) {
	f.enqueue(&events.NodeStateChanged{
		BaseEvent: events.NewBaseEvent(events.NodeStateChangedEvent, call(f.graphID)),
		State:     state,
	})
}

// StreamStatusChanged matches streaming.StatusHandler.
func (f *Forwarder) StreamStatusChanged(status streaming.Status) {
	f.enqueue(&events.StreamStatusChanged{
		BaseEvent: events.NewBaseEvent(events.StreamStatusChangedEvent, call(f.graphID)),
		Endpoint:  call(f.endpoint),
		Status:    string(status),
	})
}

// GraphSaved announces a persisted snapshot.
func (f *Forwarder) GraphSaved(graph *models.GraphSnapshot) {
	f.enqueue(&events.GraphSaved{
		BaseEvent: events.NewBaseEvent(events.GraphSavedEvent, graph.ID),
		Name:      graph.Name,
		NodeCount: len(graph.Nodes),
		EdgeCount: len(graph.Edges),
	})
}

// GraphDeleted announces a removed snapshot.
func (f *Forwarder) GraphDeleted(graphID string) {
	f.enqueue(&events.GraphDeleted{BaseEvent: events.NewBaseEvent(events.GraphDeletedEvent, graphID)})
}

// Run publishes queued events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-f.queue:
			if err := f.bus.Publish(ctx, eventKey(event), event); err != nil {
				f.logger.ErrorContext(ctx, "Failed to publish event", "type", event.GetType(), "error", err)
			}
		}
	}
}

func (f *Forwarder) enqueue(event Event) {
	select {
	case f.queue <- event:
	default:
		f.logger.Warn("Event queue full, dropping event", "type", event.GetType())
	}
}

func eventKey(event Event) string {
	if state, ok := event.(*events.NodeStateChanged); ok {
		return state.State.NodeID
	}

	return string(event.GetType())
}

func call(fn func() string) string {
	if fn == nil {
		return ""
	}

	return fn()
}
