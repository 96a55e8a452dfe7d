package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NATSBus is the Pro tier event bus. Subjects take the form
// kestrel.<tenant>.<topic>, e.g. kestrel.acme.analysis.completed, so a
// consumer can follow one tenant with kestrel.acme.> or one topic across
// tenants with kestrel.*.analysis.completed.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying the initial dial up to
// NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	conn, err := dialNATS(cfg.NATSUrl, cfg.NATSMaxReconnects, wait, natsOptions(cfg, wait)...)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
	}, nil
}

func natsOptions(cfg domain.EventBusConfig, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

func dialNATS(url string, attempts int, wait time.Duration, opts ...nats.Option) (*nats.Conn, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed",
			"attempt", i,
			"max_attempts", attempts,
			"error", err,
		)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, lastErr)
}

// Publish sends a message envelope to the tenant's topic subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := validateRoute(tenantID, topic); err != nil {
		return err
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe delivers the tenant's messages on topic to handler. Envelopes
// that do not decode, or that name another tenant, are logged and skipped.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := validateRoute(tenantID, topic); err != nil {
		return nil, err
	}

	natsSub, err := b.conn.Subscribe(subject(tenantID, topic), func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to decode NATS message", "subject", m.Subject, "error", err)
			return
		}
		if msg.TenantID != tenantID || msg.Topic != topic {
			slog.Warn("NATS message does not match its subject",
				"subject", m.Subject,
				"tenant_id", msg.TenantID,
				"topic", msg.Topic,
			)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("event handler failed",
				"tenant_id", tenantID,
				"topic", topic,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{bus: b, topic: topic, sub: natsSub}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Stats maps the connection counters onto BusStats. Dropped sums the
// messages each subscription lost to slow consumption.
func (b *NATSBus) Stats() domain.BusStats {
	s := b.conn.Stats()

	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped uint64
	for sub := range b.subs {
		if n, err := sub.sub.Dropped(); err == nil && n > 0 {
			dropped += uint64(n)
		}
	}
	return domain.BusStats{
		Published:     s.OutMsgs,
		Delivered:     s.InMsgs,
		Dropped:       dropped,
		Subscriptions: len(b.subs),
	}
}

// Ping checks connectivity with a server round trip.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// subject places the tenant token between the kestrel prefix and the
// topic name.
func subject(tenantID, topic string) string {
	return domain.TopicPrefix + tenantID + "." + strings.TrimPrefix(topic, domain.TopicPrefix)
}

// Unsubscribe removes the subscription from the server and the bus.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
