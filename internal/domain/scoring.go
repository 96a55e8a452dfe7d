package domain

import (
	"time"
)

// Pillar is one of the six fixed evaluation dimensions.
type Pillar int

const (
	PillarAssetQuality Pillar = iota
	PillarMarketOutlook
	PillarCapitalIntensity
	PillarStrategicFit
	PillarFinancialReadiness
	PillarRegulatoryRisk
)

// PillarCount is the number of pillars. The set is closed.
const PillarCount = 6

// AllPillars returns the pillars in their fixed aggregation order.
func AllPillars() [PillarCount]Pillar {
	return [PillarCount]Pillar{
		PillarAssetQuality,
		PillarMarketOutlook,
		PillarCapitalIntensity,
		PillarStrategicFit,
		PillarFinancialReadiness,
		PillarRegulatoryRisk,
	}
}

// String returns the display name of the pillar.
func (p Pillar) String() string {
	switch p {
	case PillarAssetQuality:
		return "Asset Quality"
	case PillarMarketOutlook:
		return "Market Outlook"
	case PillarCapitalIntensity:
		return "Capital Intensity"
	case PillarStrategicFit:
		return "Strategic Fit"
	case PillarFinancialReadiness:
		return "Financial Readiness"
	case PillarRegulatoryRisk:
		return "Regulatory Risk"
	default:
		return "Unknown"
	}
}

// Key returns the stable machine key of the pillar.
func (p Pillar) Key() string {
	switch p {
	case PillarAssetQuality:
		return "asset_quality"
	case PillarMarketOutlook:
		return "market_outlook"
	case PillarCapitalIntensity:
		return "capital_intensity"
	case PillarStrategicFit:
		return "strategic_fit"
	case PillarFinancialReadiness:
		return "financial_readiness"
	case PillarRegulatoryRisk:
		return "regulatory_risk"
	default:
		return "unknown"
	}
}

// Score bounds shared by every pillar.
const (
	MinScore = 1.0
	MaxScore = 5.0
)

// ScoringFactor is one named, weighted sub-score used for explainability.
type ScoringFactor struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
	Available bool    `json:"available"`
	Rationale string  `json:"rationale"`
}

// PillarScore is the output of one pillar scorer.
// RawScore is in [1,5], Confidence in [0,1].
type PillarScore struct {
	Pillar     Pillar          `json:"pillar"`
	Name       string          `json:"name"`
	RawScore   float64         `json:"rawScore"`
	Confidence float64         `json:"confidence"`
	Factors    []ScoringFactor `json:"factors"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// PillarScores holds one score per pillar in fixed position.
type PillarScores [PillarCount]PillarScore

// Get returns the score for a pillar.
func (s PillarScores) Get(p Pillar) PillarScore {
	return s[p]
}

// RawScores returns the raw scores in pillar order.
func (s PillarScores) RawScores() [PillarCount]float64 {
	var out [PillarCount]float64
	for i := range s {
		out[i] = s[i].RawScore
	}
	return out
}

// WeightedScores is the output of the weighting engine.
type WeightedScores struct {
	Contributions [PillarCount]float64 `json:"contributions"`
	Aggregate     float64              `json:"aggregate"`
}

// ConfidenceMetrics aggregates confidence signals, each in [0,1].
type ConfidenceMetrics struct {
	Overall           float64 `json:"overall"`
	DataCompleteness  float64 `json:"dataCompleteness"`
	ModelAccuracy     float64 `json:"modelAccuracy"`
	ComparableQuality float64 `json:"comparableQuality"`
}

// Recommendation is the investment recommendation.
type Recommendation string

const (
	RecommendationStrongBuy  Recommendation = "Strong Buy"
	RecommendationBuy        Recommendation = "Buy"
	RecommendationHold       Recommendation = "Hold"
	RecommendationSell       Recommendation = "Sell"
	RecommendationStrongSell Recommendation = "Strong Sell"
)

// RiskLevel is the risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskVeryHigh RiskLevel = "Very High"
)

// ScoringResult is the immutable result of evaluating a company.
type ScoringResult struct {
	CompanyID      string            `json:"companyId"`
	CompanyName    string            `json:"companyName"`
	ConfigName     string            `json:"configName"`
	OverallScore   float64           `json:"overallScore"`
	PillarScores   PillarScores      `json:"pillarScores"`
	Weighted       WeightedScores    `json:"weighted"`
	Weights        WeightConfig      `json:"weights"`
	Confidence     ConfidenceMetrics `json:"confidence"`
	Recommendation Recommendation    `json:"recommendation"`
	RiskLevel      RiskLevel         `json:"riskLevel"`
	Warnings       []string          `json:"warnings,omitempty"`
	Screening      []RuleResult      `json:"screening,omitempty"`
	AsOf           time.Time         `json:"asOf"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ValidationIssue describes one problem found in the input.
type ValidationIssue struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

// ValidationResult is the output of input validation.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Completeness float64           `json:"completeness"`
}

// Critical returns the critical issues only.
func (v *ValidationResult) Critical() []ValidationIssue {
	var out []ValidationIssue
	for _, i := range v.Issues {
		if i.Critical {
			out = append(out, i)
		}
	}
	return out
}

// MarketContext carries market-wide inputs shared by all scorers.
type MarketContext struct {
	// AsOf pins the reference date for staleness checks.
	AsOf time.Time `json:"asOf" yaml:"asOf"`

	// AreaOutlook overrides the built-in attractiveness (1-5) per therapeutic area.
	AreaOutlook map[string]float64 `json:"areaOutlook,omitempty" yaml:"areaOutlook,omitempty"`

	// FocusAreas are the acquirer's strategic therapeutic areas.
	FocusAreas []string `json:"focusAreas,omitempty" yaml:"focusAreas,omitempty"`
}
