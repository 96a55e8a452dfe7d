package domain

// ScenarioName names one of the three valuation scenarios.
type ScenarioName string

const (
	ScenarioBear ScenarioName = "Bear"
	ScenarioBase ScenarioName = "Base"
	ScenarioBull ScenarioName = "Bull"
)

// Scenario is one probability-weighted valuation outcome.
type Scenario struct {
	Name        ScenarioName `json:"name"`
	Probability float64      `json:"probability"`
	Valuation   float64      `json:"valuation"`
	Description string       `json:"description"`
}

// ValuationRange is the (low, base, high) band with its confidence.
type ValuationRange struct {
	Low        float64 `json:"low"`
	Base       float64 `json:"base"`
	High       float64 `json:"high"`
	Spread     float64 `json:"spread"`
	Confidence float64 `json:"confidence"`
}

// SensitivityEntry is one row of the one-factor sensitivity table.
type SensitivityEntry struct {
	Assumption    string  `json:"assumption"`
	BaseValue     float64 `json:"baseValue"`
	LowValuation  float64 `json:"lowValuation"`  // assumption -20%
	BaseValuation float64 `json:"baseValuation"` // assumption unchanged
	HighValuation float64 `json:"highValuation"` // assumption +20%
	LowDelta      float64 `json:"lowDelta"`
	HighDelta     float64 `json:"highDelta"`
}

// Degradation flags reported on a ValuationResult.
const (
	FlagInsufficientComparables = "insufficient_comparables"
	FlagLimitedComparables      = "limited_comparables"
	FlagWideDispersion          = "wide_dispersion"
	FlagNarrowDispersion        = "narrow_dispersion"
)

// ValuationResult is derived fresh per request.
type ValuationResult struct {
	CompanyID               string             `json:"companyId"`
	BaseValuation           float64            `json:"baseValuation"`
	Range                   ValuationRange     `json:"range"`
	ExpectedValuation       float64            `json:"expectedValuation"`
	Scenarios               []Scenario         `json:"scenarios"`
	ComparablesUsed         []ComparableMatch  `json:"comparablesUsed"`
	Sensitivity             []SensitivityEntry `json:"sensitivity"`
	Confidence              float64            `json:"confidence"`
	Dispersion              float64            `json:"dispersion"`
	InsufficientComparables bool               `json:"insufficientComparables"`
	Flags                   []string           `json:"flags,omitempty"`
	Warnings                []string           `json:"warnings,omitempty"`
}

// HasFlag reports whether a degradation flag is set.
func (v *ValuationResult) HasFlag(flag string) bool {
	for _, f := range v.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
