// Package decision maps aggregate scores to recommendations and risk levels.
package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Thresholds are the lower bounds of each recommendation band.
type Thresholds struct {
	StrongBuy float64 `json:"strongBuy" yaml:"strongBuy"`
	Buy       float64 `json:"buy" yaml:"buy"`
	Hold      float64 `json:"hold" yaml:"hold"`
	Sell      float64 `json:"sell" yaml:"sell"`
}

// DefaultThresholds returns the standard recommendation table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongBuy: 4.2,
		Buy:       3.5,
		Hold:      2.5,
		Sell:      1.5,
	}
}

// Validate checks the bands are strictly descending inside the score domain.
func (t Thresholds) Validate() error {
	bounds := []float64{t.StrongBuy, t.Buy, t.Hold, t.Sell}
	for i, b := range bounds {
		if b < domain.MinScore || b > domain.MaxScore {
			return &domain.InputError{Field: "thresholds", Reason: fmt.Sprintf("threshold %.2f outside [1,5]", b)}
		}
		if i > 0 && b >= bounds[i-1] {
			return &domain.InputError{Field: "thresholds", Reason: "thresholds must be strictly descending"}
		}
	}
	return nil
}

// Processor classifies scoring outcomes.
type Processor struct {
	Thresholds Thresholds

	// Confidence below these bumps risk by one and two levels.
	LowConfidence     float64
	VeryLowConfidence float64

	// A Regulatory Risk or Financial Readiness score below WeakPillar
	// forces at least High risk.
	WeakPillar float64
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		Thresholds:        DefaultThresholds(),
		LowConfidence:     0.6,
		VeryLowConfidence: 0.4,
		WeakPillar:        2.0,
	}
}

// Recommend maps an aggregate score to a recommendation.
func (p *Processor) Recommend(score float64) domain.Recommendation {
	t := p.Thresholds
	switch {
	case score >= t.StrongBuy:
		return domain.RecommendationStrongBuy
	case score >= t.Buy:
		return domain.RecommendationBuy
	case score >= t.Hold:
		return domain.RecommendationHold
	case score >= t.Sell:
		return domain.RecommendationSell
	default:
		return domain.RecommendationStrongSell
	}
}

// RiskInput holds what the risk classification depends on.
type RiskInput struct {
	RegulatoryRisk     float64
	FinancialReadiness float64
	Confidence         float64

	// Tolerance shifts the pillar mean; negative is stricter.
	Tolerance float64
}

var riskLevels = [...]domain.RiskLevel{
	domain.RiskLow,
	domain.RiskMedium,
	domain.RiskHigh,
	domain.RiskVeryHigh,
}

// Risk classifies risk from the Regulatory Risk and Financial Readiness
// pillars and overall confidence. Low confidence or a weak pillar pushes
// the level up regardless of the aggregate score.
func (p *Processor) Risk(in RiskInput) domain.RiskLevel {
	mean := (in.RegulatoryRisk+in.FinancialReadiness)/2 + in.Tolerance

	level := 3
	switch {
	case mean >= 4:
		level = 0
	case mean >= 3:
		level = 1
	case mean >= 2:
		level = 2
	}

	switch {
	case in.Confidence < p.VeryLowConfidence:
		level += 2
	case in.Confidence < p.LowConfidence:
		level++
	}

	if (in.RegulatoryRisk < p.WeakPillar || in.FinancialReadiness < p.WeakPillar) && level < 2 {
		level = 2
	}
	if level > 3 {
		level = 3
	}
	return riskLevels[level]
}

// Classify derives both recommendation and risk for a scored company.
func (p *Processor) Classify(aggregate float64, scores domain.PillarScores, confidence, tolerance float64) (domain.Recommendation, domain.RiskLevel) {
	return p.Recommend(aggregate), p.Risk(RiskInput{
		RegulatoryRisk:     scores[domain.PillarRegulatoryRisk].RawScore,
		FinancialReadiness: scores[domain.PillarFinancialReadiness].RawScore,
		Confidence:         confidence,
		Tolerance:          tolerance,
	})
}

// IsActionable returns true for buy-side recommendations.
func IsActionable(r domain.Recommendation) bool {
	return r == domain.RecommendationStrongBuy || r == domain.RecommendationBuy
}

// GetReasons extracts human-readable reasons behind a result: flagged
// screening rules and pillars scoring below the weak threshold.
func (p *Processor) GetReasons(result *domain.ScoringResult) []string {
	var reasons []string
	for _, ps := range result.PillarScores {
		if ps.RawScore < p.WeakPillar {
			reasons = append(reasons, fmt.Sprintf("%s is weak (%.2f)", ps.Name, ps.RawScore))
		}
	}
	for _, r := range result.Screening {
		if r.Flagged() && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}
