// Package comparables ranks historical transactions by similarity to a target company.
package comparables

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-comparables")

// DefaultHorizonYears is where time relevance reaches zero.
const DefaultHorizonYears = 5.0

// Searcher finds comparables for a target. Matcher and CachedMatcher implement it.
type Searcher interface {
	FindComparables(ctx context.Context, tenantID string, target domain.TargetProfile, criteria domain.ComparableCriteria) (*domain.ComparableSearchResult, error)
}

// Matcher scores a comparable pool against a target profile.
type Matcher struct {
	source       domain.ComparableSource
	horizonYears float64
	maxResults   int
	now          func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithHorizon sets the time relevance horizon in years.
func WithHorizon(years float64) Option {
	return func(m *Matcher) {
		if years > 0 {
			m.horizonYears = years
		}
	}
}

// WithMaxResults caps results when criteria do not. Zero means no cap.
func WithMaxResults(n int) Option {
	return func(m *Matcher) { m.maxResults = n }
}

// WithClock replaces the wall clock used when criteria carry no AsOf.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// NewMatcher creates a matcher over a comparable source.
func NewMatcher(source domain.ComparableSource, opts ...Option) *Matcher {
	m := &Matcher{
		source:       source,
		horizonYears: DefaultHorizonYears,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindComparables loads the pool snapshot from the source and ranks it.
func (m *Matcher) FindComparables(ctx context.Context, tenantID string, target domain.TargetProfile, criteria domain.ComparableCriteria) (*domain.ComparableSearchResult, error) {
	ctx, span := tracer.Start(ctx, "comparables.FindComparables",
		trace.WithAttributes(attribute.String("company.id", target.CompanyID)),
	)
	defer span.End()

	if m.source == nil {
		return nil, fmt.Errorf("comparable source is not configured")
	}
	pool, err := m.source.ListComparables(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load comparable pool: %w", err)
	}

	result := m.Rank(pool, target, criteria)
	span.SetAttributes(
		attribute.Int("comparables.pool", result.PoolSize),
		attribute.Int("comparables.found", result.TotalFound),
	)
	return result, nil
}

// Rank filters, scores and orders a pool. It never modifies the pool.
func (m *Matcher) Rank(pool []domain.Comparable, target domain.TargetProfile, criteria domain.ComparableCriteria) *domain.ComparableSearchResult {
	criteria.AsOf = m.ResolveAsOf(criteria.AsOf)
	asOf := criteria.AsOf

	result := &domain.ComparableSearchResult{
		Matches:    []domain.ComparableMatch{},
		PoolSize:   len(pool),
		Criteria:   criteria,
		SearchedAt: m.now().UTC(),
	}

	for i := range pool {
		c := &pool[i]
		if !passes(c, &criteria, asOf) {
			continue
		}

		factors := computeFactors(target, c, asOf, m.horizonYears)
		sim := Similarity(factors)
		if sim < criteria.MinSimilarity {
			continue
		}
		conf := clamp01(c.DataConfidence)

		result.Matches = append(result.Matches, domain.ComparableMatch{
			Comparable:    *c,
			Factors:       factors,
			Similarity:    sim,
			Confidence:    conf,
			WeightedScore: WeightedScore(sim, conf),
		})
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := &result.Matches[i], &result.Matches[j]
		if a.WeightedScore != b.WeightedScore {
			return a.WeightedScore > b.WeightedScore
		}
		if !a.Comparable.TransactionDate.Equal(b.Comparable.TransactionDate) {
			return a.Comparable.TransactionDate.After(b.Comparable.TransactionDate)
		}
		return a.Comparable.ID < b.Comparable.ID
	})

	result.TotalFound = len(result.Matches)

	limit := criteria.MaxResults
	if limit <= 0 {
		limit = m.maxResults
	}
	if limit > 0 && len(result.Matches) > limit {
		result.Matches = result.Matches[:limit]
	}

	if n := len(result.Matches); n > 0 {
		var sum float64
		for _, match := range result.Matches {
			sum += match.Confidence
		}
		result.AverageConfidence = sum / float64(n)
	}

	switch {
	case len(pool) == 0:
		result.Warnings = append(result.Warnings, "empty comparable pool")
	case result.TotalFound == 0:
		result.Warnings = append(result.Warnings, "no comparables passed the search criteria")
	}

	return result
}

// ResolveAsOf returns asOf, or today's UTC date when asOf is unset.
func (m *Matcher) ResolveAsOf(asOf time.Time) time.Time {
	if !asOf.IsZero() {
		return asOf
	}
	return m.now().UTC().Truncate(24 * time.Hour)
}

// StaticSource serves a fixed pool. Each call returns a copy.
type StaticSource []domain.Comparable

// ListComparables returns a copy of the pool.
func (s StaticSource) ListComparables(ctx context.Context, tenantID string) ([]domain.Comparable, error) {
	out := make([]domain.Comparable, len(s))
	copy(out, s)
	return out, nil
}
