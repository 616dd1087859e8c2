package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// WebSocketDialer connects to a websocket endpoint speaking the subscribe/unsubscribe frame
// protocol. Inbound frames are routed by their topic field.
type WebSocketDialer struct {
	Logger *slog.Logger
	Dialer *websocket.Dialer
	Header http.Header

	// ReconnectDelay enables reconnection after the connection drops. Zero disables it.
	ReconnectDelay time.Duration
	Clock          clockwork.Clock
}

func NewWebSocketDialer(logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		Logger: logger.With("module", "websocket_dialer"),
		Dialer: websocket.DefaultDialer,
		Clock:  clockwork.NewRealClock(),
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, sink Sink) (Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)

	c := &wsConn{
		dialer:   d,
		endpoint: endpoint,
		sink:     sink,
		logger:   d.Logger.With("endpoint", endpoint),
		topics:   make(map[string]struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.run(connCtx)

	return c, nil
}

type wsConn struct {
	dialer   *WebSocketDialer
	endpoint string
	sink     Sink
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	ws     *websocket.Conn
	topics map[string]struct{}
	closed bool
}

func (c *wsConn) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.sink.SetStatus(StatusConnecting, nil)

		ws, _, err := c.dialer.Dialer.DialContext(ctx, c.endpoint, c.dialer.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			c.logger.ErrorContext(ctx, "Failed to connect to streaming endpoint", "error", err)
			c.sink.SetStatus(StatusError, err)
		} else {
			if !c.attach(ws) {
				_ = ws.Close()

				return
			}

			c.sink.SetStatus(StatusConnected, nil)
			c.logger.InfoContext(ctx, "Connected to streaming endpoint")

			err = c.readLoop(ctx, ws)
			c.detach()

			if ctx.Err() != nil {
				return
			}

			c.logger.WarnContext(ctx, "Streaming connection dropped", "error", err)
			c.sink.SetStatus(StatusDisconnected, nil)
		}

		if c.dialer.ReconnectDelay <= 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.dialer.Clock.After(c.dialer.ReconnectDelay):
		}
	}
}

// attach installs ws as the live socket and replays subscribe frames for every topic.
func (c *wsConn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.ws = ws

	for topic := range c.topics {
		if err := c.writeLocked(Frame{Event: EventSubscribe, Topic: topic}); err != nil {
			c.logger.Error("Failed to replay subscription", "topic", topic, "error", err)
		}
	}

	return true
}

func (c *wsConn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

func (c *wsConn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.WarnContext(ctx, "Discarding malformed frame", "error", err)

			continue
		}

		switch frame.Event {
		case EventPing:
			c.mu.Lock()
			err := c.writeLocked(Frame{Event: EventPong})
			c.mu.Unlock()

			if err != nil {
				c.logger.WarnContext(ctx, "Failed to answer ping", "error", err)
			}
		case EventSubscribe, EventUnsubscribe:
			c.logger.DebugContext(ctx, "Subscription acknowledged", "event", frame.Event, "topic", frame.Topic)
		default:
			if frame.Topic == "" {
				c.logger.DebugContext(ctx, "Discarding frame without topic", "event", frame.Event)

				continue
			}

			c.sink.Deliver(frame.Topic, raw)
		}
	}
}

func (c *wsConn) writeLocked(frame Frame) error {
	if c.ws == nil {
		return nil
	}

	return c.ws.WriteJSON(frame)
}

// Subscribe records the topic and sends a subscribe frame when the socket is up. Topics are
// replayed after every (re)connect.
func (c *wsConn) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if err := c.writeLocked(Frame{Event: EventSubscribe, Topic: topic}); err != nil {
		return err
	}

	c.topics[topic] = struct{}{}

	return nil
}

func (c *wsConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.topics[topic]; !ok {
		return nil
	}

	delete(c.topics, topic)

	if c.closed {
		return nil
	}

	return c.writeLocked(Frame{Event: EventUnsubscribe, Topic: topic})
}

func (c *wsConn) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()

	var err error
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ws.Close()

		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	<-c.done

	return err
}
