package domain

// RuleConfig defines a screening rule evaluated against a company.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId" yaml:"tenantId,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version,omitempty"`

	// CEL expression over the flattened company view
	Expression string `json:"expression" yaml:"expression"`

	// Outcome bands for value-to-outcome mapping
	Bands []RuleBand `json:"bands" yaml:"bands"`

	// Relative importance when reporting
	Weight float64 `json:"weight" yaml:"weight"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleBand maps a value range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty" yaml:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty" yaml:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome" yaml:"outcome"` // ".pass", ".review", ".fail"
	Reason     string   `json:"reason" yaml:"reason"`
}

// RuleResult is the output of a screening rule.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	RuleName  string  `json:"ruleName"`
	CompanyID string  `json:"companyId"`
	Outcome   string  `json:"outcome"` // ".pass", ".review", ".fail", ".err"
	Value     float64 `json:"value"`
	Reason    string  `json:"reason"`
	Weight    float64 `json:"weight"`
}

// Flagged reports whether the outcome needs analyst attention.
func (r RuleResult) Flagged() bool {
	return r.Outcome == RuleOutcomeReview || r.Outcome == RuleOutcomeFail || r.Outcome == RuleOutcomeError
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
