// Package scoring orchestrates pillar scoring, weighting and classification.
package scoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pillars"
)

var tracer = otel.Tracer("kestrel-scoring")

// Screener runs screening rules against a company. asOf is the reference
// date for time-based variables.
type Screener interface {
	Screen(ctx context.Context, data *domain.CompanyData, asOf time.Time) ([]domain.RuleResult, error)
}

// Engine evaluates companies. It holds no per-evaluation state and is safe
// for concurrent use.
type Engine struct {
	scorers   [domain.PillarCount]pillars.Scorer
	weighting WeightingEngine
	processor *decision.Processor
	screener  Screener
	workers   int
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProcessor overrides the recommendation and risk classifier.
func WithProcessor(p *decision.Processor) Option {
	return func(e *Engine) { e.processor = p }
}

// WithScreener attaches screening rules to every evaluation.
func WithScreener(s Screener) Option {
	return func(e *Engine) { e.screener = s }
}

// WithWorkers bounds concurrent pillar scoring.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock replaces the wall clock, used for AsOf defaults and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a scoring engine with the six standard scorers.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		scorers:   pillars.All(),
		processor: decision.NewProcessor(),
		workers:   domain.PillarCount,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Processor returns the classifier in use.
func (e *Engine) Processor() *decision.Processor {
	return e.processor
}

// EvalOption adjusts a single evaluation.
type EvalOption func(*evalOptions)

type evalOptions struct {
	comparableConfidence *float64
}

// WithComparableConfidence folds the average confidence of matched
// comparables into the overall confidence.
func WithComparableConfidence(c float64) EvalOption {
	return func(o *evalOptions) { o.comparableConfidence = &c }
}

// EvaluateCompany scores a company under a configuration.
// Only missing identity or a malformed configuration is fatal; every other
// problem is reported through warnings and confidence.
func (e *Engine) EvaluateCompany(ctx context.Context, data *domain.CompanyData, cfg domain.ScoringConfig, opts ...EvalOption) (*domain.ScoringResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.EvaluateCompany",
		trace.WithAttributes(attribute.String("scoring.config", cfg.Name)),
	)
	defer span.End()

	var o evalOptions
	for _, opt := range opts {
		opt(&o)
	}

	validation := ValidateInputData(data)
	if critical := validation.Critical(); len(critical) > 0 {
		err := &domain.InputError{Field: critical[0].Field, Reason: critical[0].Message}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("company.id", data.ID))

	if err := cfg.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	_, weightWarnings, _ := cfg.Weights.ValidateAndNormalize()

	market := cfg.Market
	if market.AsOf.IsZero() {
		market.AsOf = e.now().UTC().Truncate(24 * time.Hour)
	}

	scores, err := e.scorePillars(ctx, data, market)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	weighted := e.weighting.ApplyWeights(scores, cfg.Weights)
	confidence := blendConfidence(scores, cfg.Weights, validation.Completeness, o.comparableConfidence)
	rec, risk := e.processor.Classify(weighted.Aggregate, scores, confidence.Overall, cfg.RiskTolerance)

	warnings := make([]string, 0, len(validation.Warnings)+len(weightWarnings))
	warnings = append(warnings, validation.Warnings...)
	warnings = append(warnings, weightWarnings...)
	for _, ps := range scores {
		warnings = append(warnings, ps.Warnings...)
	}

	var screening []domain.RuleResult
	if e.screener != nil {
		screening, err = e.screener.Screen(ctx, data, market.AsOf)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("screening unavailable: %v", err))
		}
		for _, r := range screening {
			if r.Flagged() {
				warnings = append(warnings, fmt.Sprintf("screening %s %s: %s", r.RuleID, r.Outcome, r.Reason))
			}
		}
	}

	return &domain.ScoringResult{
		CompanyID:      data.ID,
		CompanyName:    data.Name,
		ConfigName:     cfg.Name,
		OverallScore:   weighted.Aggregate,
		PillarScores:   scores,
		Weighted:       weighted,
		Weights:        cfg.Weights,
		Confidence:     confidence,
		Recommendation: rec,
		RiskLevel:      risk,
		Warnings:       warnings,
		Screening:      screening,
		AsOf:           market.AsOf,
		Timestamp:      e.now().UTC(),
	}, nil
}

// scorePillars runs the six scorers concurrently. Each writes its own slot,
// so the result is identical whatever order they finish in.
func (e *Engine) scorePillars(ctx context.Context, data *domain.CompanyData, market domain.MarketContext) (domain.PillarScores, error) {
	var scores domain.PillarScores

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, s := range e.scorers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = s.Score(data, market)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.PillarScores{}, fmt.Errorf("pillar scoring: %w", err)
	}
	return scores, nil
}

// ValidateInputData checks a company record without scoring it.
func (e *Engine) ValidateInputData(data *domain.CompanyData) domain.ValidationResult {
	return ValidateInputData(data)
}

// CalculateWeightedScore applies weights to existing pillar scores.
func (e *Engine) CalculateWeightedScore(scores domain.PillarScores, weights domain.WeightConfig) domain.WeightedScores {
	return e.weighting.ApplyWeights(scores, weights)
}

// Reweight recomputes the aggregate of stored pillar scores under new
// weights without re-scoring. Weights are normalized first.
func (e *Engine) Reweight(scores domain.PillarScores, weights domain.WeightConfig) (*ReweightResult, error) {
	normalized, warnings, err := weights.ValidateAndNormalize()
	if err != nil {
		return nil, err
	}
	weighted := e.weighting.ApplyWeights(scores, normalized)
	return &ReweightResult{
		Weights:        normalized,
		Weighted:       weighted,
		Recommendation: e.processor.Recommend(weighted.Aggregate),
		Warnings:       warnings,
	}, nil
}
