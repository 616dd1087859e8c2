package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
)

// StreamBinder subscribes streaming nodes to their topics. Each node is its own logical
// subscriber, so nodes sharing a topic share one physical subscription.
type StreamBinder struct {
	logger *slog.Logger
	mux    *streaming.Multiplexer
	sink   ValueSink

	mu     sync.Mutex
	topics map[string]string
}

func NewStreamBinder(logger *slog.Logger, mux *streaming.Multiplexer, sink ValueSink) *StreamBinder {
	return &StreamBinder{
		logger: logger.With("module", "stream_binder"),
		mux:    mux,
		sink:   sink,
		topics: make(map[string]string),
	}
}

// Sync subscribes every streaming node with a topic and releases nodes that are gone or no
// longer name one. Subscription failures are logged; the multiplexer reports them through
// its status.
func (b *StreamBinder) Sync(ctx context.Context, nodes []*models.Node) {
	wanted := make(map[string]string)

	for _, node := range nodes {
		if data, ok := node.Data.(models.StreamingData); ok && data.Topic != "" {
			wanted[node.ID] = data.Topic
		}
	}

	b.mu.Lock()

	var released []string

	for id := range b.topics {
		if _, ok := wanted[id]; !ok {
			released = append(released, id)
			delete(b.topics, id)
		}
	}

	b.mu.Unlock()

	for _, id := range released {
		b.mux.RemoveSubscriber(ctx, id)
	}

	for id, topic := range wanted {
		if err := b.Bind(ctx, id, topic); err != nil {
			b.logger.WarnContext(ctx, "Failed to bind streaming node", "node_id", id, "topic", topic, "error", err)
		}
	}
}

// Bind subscribes a node to topic, moving it off its previous topic.
func (b *StreamBinder) Bind(ctx context.Context, nodeID, topic string) error {
	b.mu.Lock()
	current, bound := b.topics[nodeID]
	b.mu.Unlock()

	if bound && current == topic {
		return nil
	}

	// A failed move leaves the node on its previous topic.
	if _, err := b.mux.Subscribe(ctx, topic, nodeID, b.onMessage(nodeID, topic), nil); err != nil {
		return err
	}

	b.mu.Lock()
	b.topics[nodeID] = topic
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "Streaming node bound", "node_id", nodeID, "topic", topic)

	return nil
}

// Release unsubscribes a node. Releasing an unbound node does nothing.
func (b *StreamBinder) Release(ctx context.Context, nodeID string) {
	b.mu.Lock()
	delete(b.topics, nodeID)
	b.mu.Unlock()

	b.mux.RemoveSubscriber(ctx, nodeID)
}

func (b *StreamBinder) onMessage(nodeID, topic string) streaming.MessageHandler {
	return func(payload json.RawMessage) {
		ctx := context.Background()

		var value any
		if err := json.Unmarshal(payload, &value); err != nil {
			b.logger.WarnContext(ctx, "Dropping undecodable stream message", "node_id", nodeID, "topic", topic, "error", err)

			return
		}

		if err := b.sink.SetNodeValue(ctx, nodeID, value); err != nil {
			b.logger.WarnContext(ctx, "Failed to apply stream message", "node_id", nodeID, "topic", topic, "error", err)
		}
	}
}
