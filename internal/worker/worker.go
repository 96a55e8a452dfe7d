// Package worker analyzes companies asynchronously, either from the event
// bus or as a bounded batch.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Analyzer runs the full analysis of one company.
type Analyzer interface {
	Analyze(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error)
}

// PresetResolver looks up a named scoring configuration.
type PresetResolver interface {
	Get(tenantID, name string) (domain.ScoringConfig, error)
}

// Worker analyzes companies submitted on the EventBus.
type Worker struct {
	bus           domain.EventBus
	analyzer      Analyzer
	presets       PresetResolver
	defaultPreset string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker. Submissions that name no preset use
// defaultPreset.
func NewWorker(eventBus domain.EventBus, analyzer Analyzer, presets PresetResolver, defaultPreset string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if defaultPreset == "" {
		defaultPreset = domain.PresetDefault
	}
	return &Worker{
		bus:           eventBus,
		analyzer:      analyzer,
		presets:       presets,
		defaultPreset: defaultPreset,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing submissions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes with the "_global" tenant, used in development.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicCompanySubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, msg.TenantID, msg)
	})
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("global worker started")
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCompanySubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCompanySubmitted,
	)

	return nil
}

func (w *Worker) addSubscription(sub domain.Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscriptions = append(w.subscriptions, sub)
}

// processSubmission analyzes one submitted company. The analyzer publishes
// completion and analysis failures; unresolvable submissions are reported
// here.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	submission, err := bus.DecodeEvent[bus.CompanySubmitted](msg)
	if err != nil {
		slog.Error("failed to parse submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if submission.Company == nil {
		err := &domain.InputError{Field: "company", Reason: "company data is required"}
		w.publishFailure(ctx, tenantID, "", err)
		return err
	}

	name := submission.Preset
	if name == "" {
		name = w.defaultPreset
	}
	cfg, err := w.presets.Get(tenantID, name)
	if err != nil {
		w.publishFailure(ctx, tenantID, submission.Company.ID, err)
		return err
	}

	slog.Debug("processing submission",
		"tenant_id", tenantID,
		"company_id", submission.Company.ID,
		"preset", cfg.Name,
	)

	analysis, err := w.analyzer.Analyze(ctx, tenantID, submission.Company, cfg)
	if err != nil {
		return err
	}

	slog.Info("submission processed",
		"tenant_id", tenantID,
		"company_id", analysis.CompanyID,
		"analysis_id", analysis.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) publishFailure(ctx context.Context, tenantID, companyID string, cause error) {
	slog.Warn("submission rejected",
		"tenant_id", tenantID,
		"company_id", companyID,
		"error", cause,
	)
	event := bus.AnalysisFailed{
		CompanyID: companyID,
		Error:     cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if err := bus.PublishEvent(ctx, w.bus, tenantID, domain.TopicAnalysisFailed, event); err != nil {
		slog.Error("failed to publish rejection",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// Submit publishes a company for asynchronous analysis.
func Submit(ctx context.Context, eventBus domain.EventBus, tenantID string, company *domain.CompanyData, preset string) error {
	if company == nil {
		return &domain.InputError{Field: "company", Reason: "company data is required"}
	}
	if err := bus.PublishEvent(ctx, eventBus, tenantID, domain.TopicCompanySubmitted, bus.CompanySubmitted{
		Company: company,
		Preset:  preset,
	}); err != nil {
		return fmt.Errorf("failed to submit company %s: %w", company.ID, err)
	}
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
