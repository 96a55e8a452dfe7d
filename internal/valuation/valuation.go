// Package valuation derives a comparables-based valuation with scenarios and
// a one-factor sensitivity table.
package valuation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-valuation")

// DefaultTopK is the number of comparables blended into the base valuation.
const DefaultTopK = 5

// Spread bounds applied to the coefficient of variation of the comparables.
const (
	MinSpread = 0.10
	MaxSpread = 0.75
)

// Dispersion thresholds for the wide/narrow flags.
const (
	WideDispersion   = 0.75
	NarrowDispersion = 0.05
)

// Engine turns ranked comparables into a ValuationResult. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	topK int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets how many comparables feed the base valuation.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine creates a valuation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{topK: DefaultTopK}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TopK returns the configured K.
func (e *Engine) TopK() int {
	return e.topK
}

// CalculateValuation blends the top-K comparable valuations, derives the
// range and scenarios from their dispersion and runs the sensitivity table.
// An empty or unusable comparable set yields a result with zero confidence
// and the insufficient comparables flag, never an error.
func (e *Engine) CalculateValuation(ctx context.Context, data *domain.CompanyData, matches []domain.ComparableMatch, cfg domain.ScoringConfig) (*domain.ValuationResult, error) {
	_, span := tracer.Start(ctx, "valuation.CalculateValuation",
		trace.WithAttributes(attribute.Int("comparables.count", len(matches))),
	)
	defer span.End()

	if data == nil {
		return nil, &domain.InputError{Field: "company", Reason: "company data is required"}
	}

	result := &domain.ValuationResult{
		CompanyID:       data.ID,
		Scenarios:       []domain.Scenario{},
		ComparablesUsed: []domain.ComparableMatch{},
		Sensitivity:     []domain.SensitivityEntry{},
	}

	used, skipped := e.selectTopK(matches)
	if skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d comparables without a valuation were skipped", skipped))
	}

	if len(used) == 0 {
		result.InsufficientComparables = true
		result.Flags = append(result.Flags, domain.FlagInsufficientComparables)
		result.Warnings = append(result.Warnings, domain.ErrInsufficientComparables.Error())
		span.SetAttributes(attribute.Bool("valuation.insufficient", true))
		return result, nil
	}
	result.ComparablesUsed = used

	base := blend(used)
	cv := coefficientOfVariation(used)
	spread := spreadFor(cv, len(used))
	confidence := e.confidence(used)

	result.BaseValuation = base
	result.Dispersion = cv
	result.Confidence = confidence
	result.Range = domain.ValuationRange{
		Low:        base * (1 - spread),
		Base:       base,
		High:       base * (1 + spread),
		Spread:     spread,
		Confidence: confidence,
	}

	result.Scenarios = GenerateScenarios(base, spread)
	result.ExpectedValuation = ExpectedValue(result.Scenarios)

	if len(used) < e.topK {
		result.Flags = append(result.Flags, domain.FlagLimitedComparables)
		result.Warnings = append(result.Warnings, fmt.Sprintf("only %d of %d comparables available; confidence reduced", len(used), e.topK))
	}
	switch {
	case cv > WideDispersion:
		result.Flags = append(result.Flags, domain.FlagWideDispersion)
		result.Warnings = append(result.Warnings, fmt.Sprintf("wide comparable dispersion (cv %.2f)", cv))
	case len(used) >= 2 && cv < NarrowDispersion:
		result.Flags = append(result.Flags, domain.FlagNarrowDispersion)
		result.Warnings = append(result.Warnings, fmt.Sprintf("unusually narrow comparable dispersion (cv %.3f)", cv))
	}

	assumptions, warnings := DeriveAssumptions(data, cfg.DiscountRate)
	result.Warnings = append(result.Warnings, warnings...)
	result.Sensitivity = Sensitivity(base, assumptions)

	span.SetAttributes(
		attribute.Float64("valuation.base", base),
		attribute.Float64("valuation.confidence", confidence),
	)
	return result, nil
}

// selectTopK keeps the K best matches that carry a positive valuation.
// Input order is not trusted; matches are re-sorted by weighted score.
func (e *Engine) selectTopK(matches []domain.ComparableMatch) ([]domain.ComparableMatch, int) {
	usable := make([]domain.ComparableMatch, 0, len(matches))
	skipped := 0
	for _, m := range matches {
		if m.Comparable.Valuation > 0 && !math.IsInf(m.Comparable.Valuation, 0) {
			usable = append(usable, m)
		} else {
			skipped++
		}
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].WeightedScore > usable[j].WeightedScore
	})
	if len(usable) > e.topK {
		usable = usable[:e.topK]
	}
	return usable, skipped
}

// blend is the weighted-score-weighted mean valuation. When every weight is
// zero the comparables count equally.
func blend(used []domain.ComparableMatch) float64 {
	var total float64
	for _, m := range used {
		total += math.Max(0, m.WeightedScore)
	}

	var base float64
	for _, m := range used {
		w := 1 / float64(len(used))
		if total > 0 {
			w = math.Max(0, m.WeightedScore) / total
		}
		base += w * m.Comparable.Valuation
	}
	return base
}

// coefficientOfVariation is the population standard deviation of the
// valuations over their mean. A single comparable has no dispersion.
func coefficientOfVariation(used []domain.ComparableMatch) float64 {
	if len(used) < 2 {
		return 0
	}
	var mean float64
	for _, m := range used {
		mean += m.Comparable.Valuation
	}
	mean /= float64(len(used))
	if mean <= 0 {
		return 0
	}

	var ss float64
	for _, m := range used {
		d := m.Comparable.Valuation - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(used))) / mean
}

// spreadFor maps dispersion into the range spread. One comparable says
// nothing about dispersion and gets the widest range.
func spreadFor(cv float64, n int) float64 {
	if n < 2 {
		return MaxSpread
	}
	return math.Max(MinSpread, math.Min(MaxSpread, cv))
}

// confidence is the mean data confidence of the used comparables, scaled by
// count/K when fewer than K were available.
func (e *Engine) confidence(used []domain.ComparableMatch) float64 {
	var sum float64
	for _, m := range used {
		sum += m.Confidence
	}
	c := sum / float64(len(used))
	if len(used) < e.topK {
		c *= float64(len(used)) / float64(e.topK)
	}
	return math.Max(0, math.Min(1, c))
}
