package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

type subscriber struct {
	onMessage   MessageHandler
	onStatus    StatusHandler
	unsubscribe func()
}

type topicSubscription struct {
	subscribers map[string]*subscriber
	physical    bool
}

// Multiplexer owns one physical connection per configured endpoint and fans messages out to
// logical subscribers. A topic has a physical subscription while it has at least one logical
// subscriber, and never otherwise.
type Multiplexer struct {
	logger *slog.Logger
	dialer Dialer

	mu               sync.Mutex
	ctx              context.Context
	cancel           context.CancelFunc
	initialized      bool
	endpoint         string
	conn             Conn
	connGen          uint64
	status           Status
	topics           map[string]*topicSubscription
	subscriberTopics map[string]string
	listeners        []StatusHandler
}

func NewMultiplexer(logger *slog.Logger, dialer Dialer, endpoint string) *Multiplexer {
	return &Multiplexer{
		logger:           logger.With("module", "streaming_multiplexer"),
		dialer:           dialer,
		endpoint:         endpoint,
		status:           StatusDisconnected,
		topics:           make(map[string]*topicSubscription),
		subscriberTopics: make(map[string]string),
	}
}

// OnStatusChange registers a listener that receives every status transition.
// Unlike subscriber status callbacks, listeners outlive individual subscriptions.
func (m *Multiplexer) OnStatusChange(listener StatusHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// Initialize dials the configured endpoint, if any.
func (m *Multiplexer) Initialize(ctx context.Context) error {
	m.mu.Lock()

	if m.initialized {
		m.mu.Unlock()

		return nil
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.initialized = true
	endpoint := m.endpoint
	m.mu.Unlock()

	if endpoint == "" {
		m.logger.InfoContext(ctx, "No streaming endpoint configured")

		return nil
	}

	return m.connect(ctx, endpoint)
}

// Dispose closes the connection and forgets every subscription.
func (m *Multiplexer) Dispose(ctx context.Context) error {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()

		return nil
	}

	conn := m.conn
	m.conn = nil
	m.connGen++
	m.initialized = false
	m.topics = make(map[string]*topicSubscription)
	m.subscriberTopics = make(map[string]string)
	m.cancel()
	m.mu.Unlock()

	m.setStatus(StatusDisconnected, nil)

	if conn == nil {
		return nil
	}

	m.logger.InfoContext(ctx, "Closing streaming connection")

	return conn.Close()
}

// Endpoint returns the configured endpoint.
func (m *Multiplexer) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.endpoint
}

// SetEndpoint switches the physical connection to a new endpoint. The old connection is
// torn down, status resets to disconnected, and every topic with subscribers is
// subscribed again on the new connection.
func (m *Multiplexer) SetEndpoint(ctx context.Context, endpoint string) error {
	m.mu.Lock()

	if endpoint == m.endpoint {
		m.mu.Unlock()

		return nil
	}

	m.endpoint = endpoint
	old := m.conn
	m.conn = nil
	m.connGen++

	for _, ts := range m.topics {
		ts.physical = false
	}

	initialized := m.initialized
	m.mu.Unlock()

	if old != nil {
		m.logger.InfoContext(ctx, "Tearing down streaming connection for endpoint change", "endpoint", endpoint)

		if err := old.Close(); err != nil {
			m.logger.WarnContext(ctx, "Failed to close previous streaming connection", "error", err)
		}
	}

	m.setStatus(StatusDisconnected, nil)

	if !initialized || endpoint == "" {
		return nil
	}

	return m.connect(ctx, endpoint)
}

func (m *Multiplexer) connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	m.connGen++
	gen := m.connGen
	baseCtx := m.ctx
	m.mu.Unlock()

	m.setStatus(StatusConnecting, nil)

	conn, err := m.dialer.Dial(baseCtx, endpoint, &connSink{m: m, gen: gen})
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to dial streaming endpoint", "endpoint", endpoint, "error", err)
		m.setStatus(StatusError, err)

		return err
	}

	m.mu.Lock()

	if gen != m.connGen || !m.initialized {
		m.mu.Unlock()

		return conn.Close()
	}

	m.conn = conn

	var failed []string

	for topic, ts := range m.topics {
		if ts.physical {
			continue
		}

		if err := conn.Subscribe(topic); err != nil {
			m.logger.ErrorContext(ctx, "Failed to restore topic subscription", "topic", topic, "error", err)
			failed = append(failed, topic)

			continue
		}

		ts.physical = true
	}

	for _, topic := range failed {
		m.dropTopicLocked(topic)
	}

	m.mu.Unlock()

	if len(failed) > 0 {
		m.setStatus(StatusError, &SubscriptionError{Topic: failed[0], Err: ErrConnectionClosed})
	}

	m.logger.InfoContext(ctx, "Streaming connection established", "endpoint", endpoint)

	return nil
}

// Subscribe registers subscriberID on topic and returns its unsubscribe function. The first
// subscriber of a topic opens the physical subscription. Repeating a subscription swaps in the
// new handlers and returns the existing unsubscribe function. A subscriber belongs to one
// topic: subscribing it to another topic moves it once the new topic is open, and leaves it
// where it was when that fails. onStatus, when set, immediately receives the current status.
func (m *Multiplexer) Subscribe(ctx context.Context, topic, subscriberID string, onMessage MessageHandler, onStatus StatusHandler) (func(), error) {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()

		return nil, ErrNotInitialized
	}

	previous, moving := m.subscriberTopics[subscriberID]
	if moving && previous == topic {
		sub := m.topics[topic].subscribers[subscriberID]
		sub.onMessage = onMessage
		sub.onStatus = onStatus
		status := m.status
		m.mu.Unlock()

		if onStatus != nil {
			onStatus(status)
		}

		return sub.unsubscribe, nil
	}

	ts, exists := m.topics[topic]
	if !exists {
		ts = &topicSubscription{subscribers: make(map[string]*subscriber)}
		m.topics[topic] = ts
	}

	if !ts.physical && m.conn != nil {
		if err := m.conn.Subscribe(topic); err != nil {
			if len(ts.subscribers) == 0 {
				delete(m.topics, topic)
			}

			m.mu.Unlock()

			subErr := &SubscriptionError{Topic: topic, Err: err}
			m.logger.ErrorContext(ctx, "Physical subscription failed", "topic", topic, "subscriber_id", subscriberID, "error", err)
			m.setStatus(StatusError, subErr)

			return nil, subErr
		}

		ts.physical = true
		m.logger.DebugContext(ctx, "Opened physical subscription", "topic", topic)
	}

	if moving {
		m.unsubscribeLocked(ctx, previous, subscriberID)
	}

	sub := &subscriber{onMessage: onMessage, onStatus: onStatus}
	sub.unsubscribe = func() { m.Unsubscribe(context.WithoutCancel(ctx), topic, subscriberID) }
	ts.subscribers[subscriberID] = sub
	m.subscriberTopics[subscriberID] = topic
	status := m.status
	m.mu.Unlock()

	if onStatus != nil {
		onStatus(status)
	}

	return sub.unsubscribe, nil
}

// Unsubscribe removes subscriberID from topic. The last subscriber tears down the physical
// subscription. Unknown subscribers are ignored.
func (m *Multiplexer) Unsubscribe(ctx context.Context, topic, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribeLocked(ctx, topic, subscriberID)
}

// RemoveSubscriber unsubscribes subscriberID from whatever topic it is on.
func (m *Multiplexer) RemoveSubscriber(ctx context.Context, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic, ok := m.subscriberTopics[subscriberID]
	if !ok {
		return
	}

	m.unsubscribeLocked(ctx, topic, subscriberID)
}

func (m *Multiplexer) unsubscribeLocked(ctx context.Context, topic, subscriberID string) {
	ts, ok := m.topics[topic]
	if !ok {
		return
	}

	if _, ok := ts.subscribers[subscriberID]; !ok {
		return
	}

	delete(ts.subscribers, subscriberID)
	delete(m.subscriberTopics, subscriberID)

	if len(ts.subscribers) > 0 {
		return
	}

	if ts.physical && m.conn != nil {
		if err := m.conn.Unsubscribe(topic); err != nil {
			m.logger.WarnContext(ctx, "Failed to close physical subscription", "topic", topic, "error", err)
		}

		m.logger.DebugContext(ctx, "Closed physical subscription", "topic", topic)
	}

	delete(m.topics, topic)
}

func (m *Multiplexer) dropTopicLocked(topic string) {
	ts, ok := m.topics[topic]
	if !ok {
		return
	}

	for id := range ts.subscribers {
		delete(m.subscriberTopics, id)
	}

	delete(m.topics, topic)
}

// Status returns the current connection status.
func (m *Multiplexer) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// TopicCount returns the number of topics with a physical subscription.
func (m *Multiplexer) TopicCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, ts := range m.topics {
		if ts.physical {
			count++
		}
	}

	return count
}

// Subscribers returns the number of logical subscribers on topic.
func (m *Multiplexer) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts, ok := m.topics[topic]; ok {
		return len(ts.subscribers)
	}

	return 0
}

func (m *Multiplexer) setStatus(status Status, err error) {
	m.mu.Lock()

	if m.status == status && err == nil {
		m.mu.Unlock()

		return
	}

	m.status = status
	handlers := m.statusHandlersLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Streaming connection status changed", "status", status, "error", err)
	} else {
		m.logger.Debug("Streaming connection status changed", "status", status)
	}

	for _, handler := range handlers {
		handler(status)
	}
}

func (m *Multiplexer) statusHandlersLocked() []StatusHandler {
	handlers := append([]StatusHandler(nil), m.listeners...)

	for _, ts := range m.topics {
		for _, sub := range ts.subscribers {
			if sub.onStatus != nil {
				handlers = append(handlers, sub.onStatus)
			}
		}
	}

	return handlers
}

func (m *Multiplexer) deliver(gen uint64, topic string, payload []byte) {
	m.mu.Lock()

	if gen != m.connGen {
		m.mu.Unlock()

		return
	}

	ts, ok := m.topics[topic]
	if !ok {
		m.mu.Unlock()

		return
	}

	handlers := make([]MessageHandler, 0, len(ts.subscribers))
	for _, sub := range ts.subscribers {
		if sub.onMessage != nil {
			handlers = append(handlers, sub.onMessage)
		}
	}

	m.mu.Unlock()

	for _, handler := range handlers {
		handler(json.RawMessage(payload))
	}
}

type connSink struct {
	m   *Multiplexer
	gen uint64
}

func (s *connSink) Deliver(topic string, payload []byte) {
	s.m.deliver(s.gen, topic, payload)
}

func (s *connSink) SetStatus(status Status, err error) {
	s.m.mu.Lock()
	current := s.gen == s.m.connGen
	s.m.mu.Unlock()

	if !current {
		return
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.m.setStatus(StatusError, err)

		return
	}

	s.m.setStatus(status, nil)
}
