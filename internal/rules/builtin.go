package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultRules returns the screening rules seeded into an empty rule table.
// Tenants replace them through the rules API.
func DefaultRules() []*domain.RuleConfig {
	six, eighteen, twentyFour := 6.0, 18.0, 24.0
	zero, one, two := 0.0, 1.0, 2.0

	return []*domain.RuleConfig{
		{
			ID:          "runway-001",
			Name:        "Cash runway",
			Description: "Flags companies likely to raise or restructure soon",
			Version:     "1.0.0",
			Expression:  "runway_months",
			Bands: []domain.RuleBand{
				{UpperLimit: &six, Outcome: domain.RuleOutcomeFail, Reason: "Runway under 6 months"},
				{LowerLimit: &six, UpperLimit: &eighteen, Outcome: domain.RuleOutcomeReview, Reason: "Runway under 18 months"},
				{LowerLimit: &eighteen, Outcome: domain.RuleOutcomePass, Reason: "Runway of 18 months or more"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "funding-001",
			Name:        "Funding recency",
			Description: "Flags stale or missing funding history",
			Version:     "1.0.0",
			Expression:  "months_since_funding",
			Bands: []domain.RuleBand{
				{UpperLimit: &zero, Outcome: domain.RuleOutcomeReview, Reason: "No funding round on record"},
				{LowerLimit: &zero, UpperLimit: &twentyFour, Outcome: domain.RuleOutcomePass, Reason: "Funded within 24 months"},
				{LowerLimit: &twentyFour, Outcome: domain.RuleOutcomeReview, Reason: "Last funding more than 24 months ago"},
			},
			Weight:  0.5,
			Enabled: true,
		},
		{
			ID:          "pipeline-001",
			Name:        "Pipeline concentration",
			Description: "Flags single-asset companies",
			Version:     "1.0.0",
			Expression:  "program_count",
			Bands: []domain.RuleBand{
				{UpperLimit: &one, Outcome: domain.RuleOutcomeFail, Reason: "No pipeline programs"},
				{LowerLimit: &one, UpperLimit: &two, Outcome: domain.RuleOutcomeReview, Reason: "Single-asset company"},
				{LowerLimit: &two, Outcome: domain.RuleOutcomePass, Reason: "Diversified pipeline"},
			},
			Weight:  0.8,
			Enabled: true,
		},
	}
}
