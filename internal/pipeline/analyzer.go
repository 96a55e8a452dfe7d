// Package pipeline runs a full company analysis: comparable search, scoring,
// valuation, history and events.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/comparables"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/valuation"
)

var tracer = otel.Tracer("kestrel-pipeline")

// EngineVersion is stamped on every analysis.
const EngineVersion = "1.0.0"

// Analyzer wires the core engines to their collaborators. The search,
// history and bus are optional; without a searcher every valuation is
// flagged as having insufficient comparables.
type Analyzer struct {
	scorer   *scoring.Engine
	valuer   *valuation.Engine
	searcher comparables.Searcher
	history  domain.HistorySink
	bus      domain.EventBus
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSearcher sets the comparable search.
func WithSearcher(s comparables.Searcher) Option {
	return func(a *Analyzer) { a.searcher = s }
}

// WithHistory sets where finished analyses are written.
func WithHistory(h domain.HistorySink) Option {
	return func(a *Analyzer) { a.history = h }
}

// WithEventBus sets the bus for completion and failure events.
func WithEventBus(b domain.EventBus) Option {
	return func(a *Analyzer) { a.bus = b }
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer around a scoring and a valuation engine.
func NewAnalyzer(scorer *scoring.Engine, valuer *valuation.Engine, opts ...Option) *Analyzer {
	a := &Analyzer{
		scorer: scorer,
		valuer: valuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the pipeline with default search criteria.
func (a *Analyzer) Analyze(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error) {
	return a.AnalyzeWithCriteria(ctx, tenantID, company, cfg, domain.ComparableCriteria{})
}

// AnalyzeWithCriteria runs search, scoring and valuation for one company.
// The search runs first so that comparable confidence feeds the overall
// confidence of the score. A failed search degrades the valuation; a fatal
// scoring error fails the analysis and publishes a failure event.
func (a *Analyzer) AnalyzeWithCriteria(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig, criteria domain.ComparableCriteria) (*domain.Analysis, error) {
	start := time.Now()

	if company == nil {
		return nil, &domain.InputError{Field: "company", Reason: "company data is required"}
	}

	ctx, span := tracer.Start(ctx, "pipeline.Analyze",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("company.id", company.ID),
		),
	)
	defer span.End()

	traceID := uuid.New().String()
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	if criteria.AsOf.IsZero() {
		criteria.AsOf = cfg.Market.AsOf
	}

	// 1. Comparable search
	searchStart := time.Now()
	search, searchErr := a.search(ctx, tenantID, company, criteria)
	if searchErr != nil {
		slog.Warn("comparable search failed",
			"tenant_id", tenantID,
			"company_id", company.ID,
			"error", searchErr,
		)
	}
	searchMs := time.Since(searchStart).Milliseconds()

	// 2. Scoring
	scoringStart := time.Now()
	var evalOpts []scoring.EvalOption
	if search != nil && len(search.Matches) > 0 {
		evalOpts = append(evalOpts, scoring.WithComparableConfidence(search.AverageConfidence))
	}
	result, err := a.scorer.EvaluateCompany(ctx, company, cfg, evalOpts...)
	if err != nil {
		span.RecordError(err)
		a.publishFailure(ctx, tenantID, company.ID, err)
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	scoringMs := time.Since(scoringStart).Milliseconds()

	// 3. Valuation
	valuationStart := time.Now()
	var matches []domain.ComparableMatch
	if search != nil {
		matches = search.Matches
	}
	val, err := a.valuer.CalculateValuation(ctx, company, matches, cfg)
	if err != nil {
		span.RecordError(err)
		a.publishFailure(ctx, tenantID, company.ID, err)
		return nil, fmt.Errorf("valuation failed: %w", err)
	}
	if searchErr != nil {
		val.Warnings = append(val.Warnings, fmt.Sprintf("comparable search unavailable: %v", searchErr))
	}
	valuationMs := time.Since(valuationStart).Milliseconds()

	analysis := &domain.Analysis{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Scoring:     result,
		Comparables: search,
		Valuation:   val,
		Timestamp:   a.now().UTC(),
		Metadata: domain.AnalysisMetadata{
			TraceID:       traceID,
			SearchMs:      searchMs,
			ScoringMs:     scoringMs,
			ValuationMs:   valuationMs,
			TotalMs:       time.Since(start).Milliseconds(),
			EngineVersion: EngineVersion,
		},
	}

	// 4. History
	if a.history != nil {
		if err := a.history.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis",
				"tenant_id", tenantID,
				"analysis_id", analysis.ID,
				"error", err,
			)
		}
	}

	// 5. Completion event
	if a.bus != nil {
		event := bus.AnalysisCompleted{
			AnalysisID:     analysis.ID,
			CompanyID:      company.ID,
			OverallScore:   result.OverallScore,
			Recommendation: result.Recommendation,
			BaseValuation:  val.BaseValuation,
			Flags:          val.Flags,
			CompletedAt:    analysis.Timestamp,
		}
		if err := bus.PublishEvent(ctx, a.bus, tenantID, domain.TopicAnalysisCompleted, event); err != nil {
			slog.Error("failed to publish analysis",
				"tenant_id", tenantID,
				"analysis_id", analysis.ID,
				"error", err,
			)
		}
	}

	span.SetAttributes(
		attribute.Float64("analysis.score", result.OverallScore),
		attribute.String("analysis.recommendation", string(result.Recommendation)),
	)

	slog.Info("company analyzed",
		"tenant_id", tenantID,
		"company_id", company.ID,
		"analysis_id", analysis.ID,
		"score", result.OverallScore,
		"recommendation", result.Recommendation,
		"base_valuation", val.BaseValuation,
		"duration_ms", analysis.Metadata.TotalMs,
	)

	return analysis, nil
}

func (a *Analyzer) search(ctx context.Context, tenantID string, company *domain.CompanyData, criteria domain.ComparableCriteria) (*domain.ComparableSearchResult, error) {
	if a.searcher == nil {
		return nil, nil
	}
	return a.searcher.FindComparables(ctx, tenantID, domain.ProfileFromCompany(company), criteria)
}

func (a *Analyzer) publishFailure(ctx context.Context, tenantID, companyID string, cause error) {
	slog.Warn("analysis failed",
		"tenant_id", tenantID,
		"company_id", companyID,
		"error", cause,
	)
	if a.bus == nil {
		return
	}
	event := bus.AnalysisFailed{
		CompanyID: companyID,
		Error:     cause.Error(),
		FailedAt:  a.now().UTC(),
	}
	if err := bus.PublishEvent(ctx, a.bus, tenantID, domain.TopicAnalysisFailed, event); err != nil {
		slog.Error("failed to publish analysis failure",
			"tenant_id", tenantID,
			"company_id", companyID,
			"error", err,
		)
	}
}
