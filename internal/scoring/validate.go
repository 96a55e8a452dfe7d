package scoring

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// completenessChecks are the fields counted toward data completeness.
var completenessChecks = []struct {
	field   string
	present func(c *domain.CompanyData) bool
}{
	{"profile.sector", func(c *domain.CompanyData) bool { return strings.TrimSpace(c.Profile.Sector) != "" }},
	{"profile.therapeuticAreas", func(c *domain.CompanyData) bool { return len(c.Profile.TherapeuticAreas) > 0 }},
	{"profile.stage", func(c *domain.CompanyData) bool { return c.LeadStage().Valid() }},
	{"pipeline", func(c *domain.CompanyData) bool { return len(c.Pipeline) > 0 }},
	{"pipeline.mechanism", func(c *domain.CompanyData) bool {
		lead, ok := c.LeadProgram()
		return ok && strings.TrimSpace(lead.Mechanism) != ""
	}},
	{"pipeline.competitivePosition", func(c *domain.CompanyData) bool {
		lead, ok := c.LeadProgram()
		return ok && lead.CompetitivePosition.Ordinal() >= 0
	}},
	{"financials.cashPosition", func(c *domain.CompanyData) bool { return c.Financials.CashPosition > 0 }},
	{"financials.burnRate", func(c *domain.CompanyData) bool { return c.Financials.BurnRate > 0 }},
	{"financials.lastFundingRound", func(c *domain.CompanyData) bool { return c.Financials.LastFundingRound != nil }},
	{"market.addressableMarket", func(c *domain.CompanyData) bool { return c.Market.AddressableMarket > 0 }},
	{"market.growthRate", func(c *domain.CompanyData) bool { return c.Market.GrowthRate != nil }},
	{"market.competitors", func(c *domain.CompanyData) bool { return len(c.Market.Competitors) > 0 }},
	{"regulatory.clinicalTrials", func(c *domain.CompanyData) bool { return len(c.Regulatory.ClinicalTrials) > 0 }},
	{"regulatory.strategy.pathway", func(c *domain.CompanyData) bool { return strings.TrimSpace(c.Regulatory.Strategy.Pathway) != "" }},
}

// ValidateInputData checks a company record. Only missing identity is
// critical; everything else becomes a warning.
func ValidateInputData(data *domain.CompanyData) domain.ValidationResult {
	if data == nil {
		return domain.ValidationResult{
			Issues: []domain.ValidationIssue{{Field: "company", Message: "company data is required", Critical: true}},
		}
	}

	var issues []domain.ValidationIssue
	add := func(field, msg string, critical bool) {
		issues = append(issues, domain.ValidationIssue{Field: field, Message: msg, Critical: critical})
	}

	if strings.TrimSpace(data.ID) == "" {
		add("id", "company identifier is required", true)
	}
	if strings.TrimSpace(data.Name) == "" {
		add("name", "company name is required", true)
	}

	if len(data.Pipeline) == 0 {
		add("pipeline", "no pipeline programs", false)
	}
	for i, p := range data.Pipeline {
		if p.Stage != "" && !p.Stage.Valid() {
			add(fmt.Sprintf("pipeline[%d].stage", i), fmt.Sprintf("unknown development stage %q", p.Stage), false)
		}
	}
	if data.Financials.CashPosition < 0 {
		add("financials.cashPosition", "negative cash position", false)
	}
	if data.Financials.BurnRate < 0 {
		add("financials.burnRate", "negative burn rate", false)
	}
	if data.Market.AddressableMarket < 0 {
		add("market.addressableMarket", "negative addressable market", false)
	}

	present := 0
	for _, c := range completenessChecks {
		if c.present(data) {
			present++
		}
	}

	result := domain.ValidationResult{
		Valid:        true,
		Issues:       issues,
		Completeness: float64(present) / float64(len(completenessChecks)),
	}
	for _, i := range issues {
		if i.Critical {
			result.Valid = false
			continue
		}
		result.Warnings = append(result.Warnings, i.Field+": "+i.Message)
	}
	return result
}

// MissingFields lists the completeness fields absent from data.
func MissingFields(data *domain.CompanyData) []string {
	var out []string
	for _, c := range completenessChecks {
		if !c.present(data) {
			out = append(out, c.field)
		}
	}
	return out
}
