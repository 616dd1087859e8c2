// Package streaming shares one physical streaming connection between many graph nodes.
package streaming

import (
	"context"
	"encoding/json"
)

// Status is the state of the physical connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// MessageHandler receives a payload delivered on a topic, verbatim.
type MessageHandler func(payload json.RawMessage)

// StatusHandler receives connection status transitions.
type StatusHandler func(status Status)

// Sink is how a physical connection reports back to its owner.
type Sink interface {
	Deliver(topic string, payload []byte)
	SetStatus(status Status, err error)
}

// Conn is one physical connection. Subscribe and Unsubscribe are called at most once per
// topic transition (0 to 1 and 1 to 0 logical subscribers).
type Conn interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Close() error
}

// Dialer opens physical connections. Dial must return without waiting for the remote side;
// connection progress is reported through the sink.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, sink Sink) (Conn, error)
}

// Frame is the control frame exchanged with a streaming endpoint.
type Frame struct {
	Event string          `json:"event"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
	EventPong        = "pong"
)
