package domain

import (
	"fmt"
	"math"
	"time"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 0.001

// ImbalanceThreshold flags configs where one pillar dominates.
const ImbalanceThreshold = 0.5

// WeightConfig holds one non-negative weight per pillar.
// A zero weight excludes the pillar from the aggregate only.
type WeightConfig struct {
	AssetQuality       float64 `json:"assetQuality" yaml:"assetQuality"`
	MarketOutlook      float64 `json:"marketOutlook" yaml:"marketOutlook"`
	CapitalIntensity   float64 `json:"capitalIntensity" yaml:"capitalIntensity"`
	StrategicFit       float64 `json:"strategicFit" yaml:"strategicFit"`
	FinancialReadiness float64 `json:"financialReadiness" yaml:"financialReadiness"`
	RegulatoryRisk     float64 `json:"regulatoryRisk" yaml:"regulatoryRisk"`
}

// WeightsFromValues builds a WeightConfig from values in pillar order.
func WeightsFromValues(v [PillarCount]float64) WeightConfig {
	return WeightConfig{
		AssetQuality:       v[PillarAssetQuality],
		MarketOutlook:      v[PillarMarketOutlook],
		CapitalIntensity:   v[PillarCapitalIntensity],
		StrategicFit:       v[PillarStrategicFit],
		FinancialReadiness: v[PillarFinancialReadiness],
		RegulatoryRisk:     v[PillarRegulatoryRisk],
	}
}

// Values returns the weights in pillar order.
func (w WeightConfig) Values() [PillarCount]float64 {
	return [PillarCount]float64{
		w.AssetQuality,
		w.MarketOutlook,
		w.CapitalIntensity,
		w.StrategicFit,
		w.FinancialReadiness,
		w.RegulatoryRisk,
	}
}

// Weight returns the weight of a pillar.
func (w WeightConfig) Weight(p Pillar) float64 {
	return w.Values()[p]
}

// Sum returns the total of all weights.
func (w WeightConfig) Sum() float64 {
	var sum float64
	for _, v := range w.Values() {
		sum += v
	}
	return sum
}

// Validate checks that weights are non-negative and sum to 1.0 within tolerance.
func (w WeightConfig) Validate() error {
	for i, v := range w.Values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &InputError{Field: "weights." + Pillar(i).Key(), Reason: fmt.Sprintf("weight must be a non-negative number, got %v", v)}
		}
	}
	if math.Abs(w.Sum()-1.0) > WeightTolerance {
		return &InputError{Field: "weights", Reason: fmt.Sprintf("weights sum to %.4f, must sum to 1.0", w.Sum())}
	}
	return nil
}

// ValidateAndNormalize rejects negative or all-zero weights, rescales the
// rest to sum to 1.0 and reports data-quality warnings.
func (w WeightConfig) ValidateAndNormalize() (WeightConfig, []string, error) {
	var warnings []string

	for i, v := range w.Values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return w, nil, &InputError{Field: "weights." + Pillar(i).Key(), Reason: fmt.Sprintf("weight must be a non-negative number, got %v", v)}
		}
	}

	sum := w.Sum()
	if sum <= 0 {
		return w, nil, &InputError{Field: "weights", Reason: "at least one weight must be positive"}
	}

	out := w
	if math.Abs(sum-1.0) > WeightTolerance {
		vals := w.Values()
		for i := range vals {
			vals[i] /= sum
		}
		out = WeightsFromValues(vals)
		warnings = append(warnings, fmt.Sprintf("weights summed to %.4f and were normalized to 1.0", sum))
	}

	for i, v := range out.Values() {
		if v >= ImbalanceThreshold {
			warnings = append(warnings, fmt.Sprintf("weight imbalance: %s carries %.2f of the total", Pillar(i), v))
		}
	}

	return out, warnings, nil
}

// ScoringConfig is a named, validated scoring configuration.
type ScoringConfig struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Weights     WeightConfig  `json:"weights" yaml:"weights"`
	Market      MarketContext `json:"market" yaml:"market"`

	// DiscountRate is the annual rate used by the rNPV sensitivity model.
	DiscountRate float64 `json:"discountRate" yaml:"discountRate"`

	// RiskTolerance shifts the risk classification; 0 is neutral,
	// negative is stricter, positive more lenient.
	RiskTolerance float64 `json:"riskTolerance" yaml:"riskTolerance"`

	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Validate checks the structural validity of the configuration.
func (c *ScoringConfig) Validate() error {
	if c == nil {
		return &InputError{Field: "config", Reason: "scoring config is required"}
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.DiscountRate < 0 || c.DiscountRate >= 1 {
		return &InputError{Field: "discountRate", Reason: fmt.Sprintf("discount rate must be in [0,1), got %v", c.DiscountRate)}
	}
	return nil
}

// Preset names for built-in scoring configurations.
const (
	PresetDefault      = "default"
	PresetConservative = "conservative"
	PresetAggressive   = "aggressive"
)

// DefaultScoringConfig returns the Default preset.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Name:        PresetDefault,
		Description: "Balanced weighting for clinical-stage assets",
		Weights: WeightConfig{
			AssetQuality:       0.25,
			MarketOutlook:      0.20,
			CapitalIntensity:   0.15,
			StrategicFit:       0.20,
			FinancialReadiness: 0.10,
			RegulatoryRisk:     0.10,
		},
		DiscountRate: 0.10,
	}
}

// ConservativeScoringConfig returns the Conservative preset.
func ConservativeScoringConfig() ScoringConfig {
	return ScoringConfig{
		Name:        PresetConservative,
		Description: "Emphasizes financial readiness and regulatory risk",
		Weights: WeightConfig{
			AssetQuality:       0.20,
			MarketOutlook:      0.15,
			CapitalIntensity:   0.15,
			StrategicFit:       0.15,
			FinancialReadiness: 0.15,
			RegulatoryRisk:     0.20,
		},
		DiscountRate:  0.12,
		RiskTolerance: -0.25,
	}
}

// AggressiveScoringConfig returns the Aggressive preset.
func AggressiveScoringConfig() ScoringConfig {
	return ScoringConfig{
		Name:        PresetAggressive,
		Description: "Emphasizes asset quality and market upside",
		Weights: WeightConfig{
			AssetQuality:       0.30,
			MarketOutlook:      0.25,
			CapitalIntensity:   0.10,
			StrategicFit:       0.20,
			FinancialReadiness: 0.05,
			RegulatoryRisk:     0.10,
		},
		DiscountRate:  0.08,
		RiskTolerance: 0.25,
	}
}
