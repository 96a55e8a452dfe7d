package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// Community tier uses ChannelBus, Pro tier uses NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// CompanySubmitted asks the worker to analyze a company.
type CompanySubmitted struct {
	Company *domain.CompanyData `json:"company"`
	Preset  string              `json:"preset,omitempty"`
}

// AnalysisCompleted announces a finished analysis.
type AnalysisCompleted struct {
	AnalysisID     string                `json:"analysisId"`
	CompanyID      string                `json:"companyId"`
	OverallScore   float64               `json:"overallScore"`
	Recommendation domain.Recommendation `json:"recommendation"`
	BaseValuation  float64               `json:"baseValuation"`
	Flags          []string              `json:"flags,omitempty"`
	CompletedAt    time.Time             `json:"completedAt"`
}

// AnalysisFailed announces an analysis that could not run.
type AnalysisFailed struct {
	CompanyID string    `json:"companyId"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failedAt"`
}

// PoolRefreshed announces that a tenant's comparable pool changed.
type PoolRefreshed struct {
	Generation  int64     `json:"generation"`
	Size        int       `json:"size"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// PublishEvent JSON-encodes an event and publishes it.
func PublishEvent(ctx context.Context, b domain.EventBus, tenantID, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// DecodeEvent decodes a message payload into an event.
func DecodeEvent[T any](msg *domain.Message) (T, error) {
	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return event, fmt.Errorf("failed to decode %s event: %w", msg.Topic, err)
	}
	return event, nil
}
