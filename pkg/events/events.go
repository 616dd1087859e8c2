// Package events defines the notifications the playground publishes about node and stream state.
package events

import (
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "playground.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	NodeStateChangedEvent    EventType = "node.state.changed"
	StreamStatusChangedEvent EventType = "stream.status.changed"

	// Graph lifecycle events.
	GraphSavedEvent   EventType = "graph.saved"
	GraphDeletedEvent EventType = "graph.deleted"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	GraphID   string         `json:"graph_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NodeStateChanged carries a new projection of a formula node's execution state.
type NodeStateChanged struct {
	BaseEvent

	State models.NodeState `json:"state"`
}

func (n NodeStateChanged) GetType() EventType {
	return NodeStateChangedEvent
}

// StreamStatusChanged reports a transition of the shared streaming connection.
type StreamStatusChanged struct {
	BaseEvent

	Endpoint string `json:"endpoint,omitempty"`
	Status   string `json:"status"`
}

func (s StreamStatusChanged) GetType() EventType {
	return StreamStatusChangedEvent
}

type GraphSaved struct {
	BaseEvent

	Name      string `json:"name"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

func (g GraphSaved) GetType() EventType {
	return GraphSavedEvent
}

type GraphDeleted struct {
	BaseEvent
}

func (g GraphDeleted) GetType() EventType {
	return GraphDeletedEvent
}

func NewBaseEvent(eventType EventType, graphID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		GraphID:   graphID,
		Metadata:  make(map[string]any),
	}
}
