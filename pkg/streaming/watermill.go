package streaming

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillDialer maps each physical subscription onto a watermill topic subscription, so the
// multiplexer can sit on top of Kafka or an in-process gochannel instead of a websocket.
type WatermillDialer struct {
	Logger     *slog.Logger
	Subscriber message.Subscriber
}

func NewWatermillDialer(logger *slog.Logger, subscriber message.Subscriber) *WatermillDialer {
	return &WatermillDialer{
		Logger:     logger.With("module", "watermill_dialer"),
		Subscriber: subscriber,
	}
}

// Dial ignores the endpoint; the subscriber was configured when it was created.
func (d *WatermillDialer) Dial(ctx context.Context, endpoint string, sink Sink) (Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)

	c := &watermillConn{
		logger:     d.Logger,
		subscriber: d.Subscriber,
		sink:       sink,
		ctx:        connCtx,
		cancel:     cancel,
		topics:     make(map[string]context.CancelFunc),
	}

	sink.SetStatus(StatusConnected, nil)

	return c, nil
}

type watermillConn struct {
	logger     *slog.Logger
	subscriber message.Subscriber
	sink       Sink
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	topics map[string]context.CancelFunc
	closed bool
}

func (c *watermillConn) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if _, ok := c.topics[topic]; ok {
		return nil
	}

	topicCtx, cancel := context.WithCancel(c.ctx)

	messages, err := c.subscriber.Subscribe(topicCtx, topic)
	if err != nil {
		cancel()

		return err
	}

	c.topics[topic] = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for msg := range messages {
			c.sink.Deliver(topic, msg.Payload)
			msg.Ack()
		}

		c.logger.Debug("Topic subscription drained", "topic", topic)
	}()

	return nil
}

func (c *watermillConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.topics[topic]; ok {
		cancel()
		delete(c.topics, topic)
	}

	return nil
}

func (c *watermillConn) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.topics = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	return nil
}
