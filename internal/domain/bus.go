package domain

import (
	"context"
	"fmt"
	"strings"
)

// EventBus carries pipeline events between the API, the worker and the
// analyzer. Go channels back the Community tier and NATS the Pro tier.
// Every call is scoped to a tenant and to one of the pipeline topics.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Stats reports delivery counters since the bus was created.
	Stats() BusStats

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// BusStats counts messages through a bus. Dropped messages were published
// while a subscriber's buffer was full.
type BusStats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Subscriptions int    `json:"subscriptions"`
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// TopicPrefix is shared by every pipeline topic.
const TopicPrefix = "kestrel."

// Topic names for the analysis pipeline.
const (
	TopicCompanySubmitted  = TopicPrefix + "company.submitted"
	TopicAnalysisCompleted = TopicPrefix + "analysis.completed"
	TopicAnalysisFailed    = TopicPrefix + "analysis.failed"
	TopicPoolRefreshed     = TopicPrefix + "comparables.refreshed"
)

var knownTopics = map[string]bool{
	TopicCompanySubmitted:  true,
	TopicAnalysisCompleted: true,
	TopicAnalysisFailed:    true,
	TopicPoolRefreshed:     true,
}

// Topics returns the pipeline topics.
func Topics() []string {
	return []string{TopicCompanySubmitted, TopicAnalysisCompleted, TopicAnalysisFailed, TopicPoolRefreshed}
}

// ValidateTopic rejects topics outside the pipeline.
func ValidateTopic(topic string) error {
	if !knownTopics[topic] {
		return &InputError{Field: "topic", Reason: fmt.Sprintf("unknown topic %q", topic)}
	}
	return nil
}

// ValidateTenantID rejects empty tenant IDs and IDs that cannot form a
// single subject token: dots, wildcards and whitespace.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return &InputError{Field: "tenantId", Reason: "tenant ID is required"}
	}
	if strings.ContainsAny(tenantID, ".*> \t\r\n") {
		return &InputError{Field: "tenantId", Reason: fmt.Sprintf("tenant ID %q contains reserved characters", tenantID)}
	}
	return nil
}
