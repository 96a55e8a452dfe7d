// Package bus carries pipeline events between the API, the worker and the
// analyzer. Payloads are JSON-encoded domain events.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("event bus is closed")

// ChannelBus is the in-process event bus of the Community tier. Each
// subscription owns a buffered queue drained by one goroutine, so a slow
// handler delays only its own topic.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	routes map[route][]*channelSubscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// route is one tenant's view of a topic.
type route struct {
	tenantID string
	topic    string
}

type channelSubscription struct {
	bus     *ChannelBus
	route   route
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a channel bus whose subscriptions buffer up to
// bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route][]*channelSubscription),
	}
}

// Publish fans a message out to the tenant's subscribers of topic. A full
// subscriber queue drops the message for that subscriber only.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := validateRoute(tenantID, topic); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(tenantID, topic, payload)
	b.published.Add(1)

	for _, sub := range b.routes[route{tenantID, topic}] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber queue full",
				"tenant_id", tenantID,
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts delivering the tenant's messages on topic to handler
// until the subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := validateRoute(tenantID, topic); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		route:   route{tenantID, topic},
		handler: handler,
		queue:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("event handler failed",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
			s.bus.delivered.Add(1)
		}
	}
}

// Stats reports delivery counters.
func (b *ChannelBus) Stats() domain.BusStats {
	b.mu.RLock()
	subs := 0
	for _, list := range b.routes {
		subs += len(list)
	}
	b.mu.RUnlock()

	return domain.BusStats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		Subscriptions: subs,
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Queued messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, list := range b.routes {
		for _, sub := range list {
			sub.cancel()
		}
	}
	b.routes = make(map[route][]*channelSubscription)
	return nil
}

// remove detaches sub from its route.
func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.routes[sub.route]
	for i, s := range list {
		if s == sub {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.routes, sub.route)
		return
	}
	b.routes[sub.route] = list
}

// Unsubscribe stops delivery and detaches the subscription from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.remove(s)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.route.topic
}

func validateRoute(tenantID, topic string) error {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return err
	}
	return domain.ValidateTopic(topic)
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
}
