package pillars

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// recognizedDesignations are expedited-program designations that de-risk approval.
var recognizedDesignations = map[string]bool{
	"orphan":               true,
	"orphan drug":          true,
	"fast track":           true,
	"breakthrough":         true,
	"breakthrough therapy": true,
	"accelerated approval": true,
	"priority review":      true,
	"rmat":                 true,
	"prime":                true,
}

// RegulatoryRisk scores the regulatory path. Higher means lower risk.
// Approvals and designations are optional: a company with none is scored
// as having none, at 2.0.
type RegulatoryRisk struct{}

func (RegulatoryRisk) Pillar() domain.Pillar { return domain.PillarRegulatoryRisk }

func (RegulatoryRisk) RequiredFields() []string {
	return []string{
		"regulatory.clinicalTrials",
		"regulatory.strategy.pathway",
	}
}

func (RegulatoryRisk) Score(data *domain.CompanyData, _ domain.MarketContext) domain.PillarScore {
	const (
		wApprovals    = 0.25
		wTrials       = 0.30
		wDesignations = 0.25
		wPathway      = 0.20
	)

	r := data.Regulatory
	factors := make([]domain.ScoringFactor, 0, 4)

	approvals := len(r.Approvals)
	approvalScore := 2.0
	switch {
	case approvals >= 2:
		approvalScore = 5.0
	case approvals == 1:
		approvalScore = 4.0
	}
	factors = append(factors, factor("Prior approvals", wApprovals, approvalScore,
		fmt.Sprintf("%d approval(s) on record", approvals)))

	if n := len(r.ClinicalTrials); n > 0 {
		var completed, troubled int
		for _, t := range r.ClinicalTrials {
			switch t.Status {
			case domain.TrialCompleted:
				completed++
			case domain.TrialSuspended, domain.TrialTerminated:
				troubled++
			}
		}
		s := 3 + 2*float64(completed)/float64(n) - 4*float64(troubled)/float64(n)
		factors = append(factors, factor("Trial health", wTrials, s,
			fmt.Sprintf("%d trial(s): %d completed, %d suspended or terminated", n, completed, troubled)))
	} else {
		factors = append(factors, missing("Trial health", wTrials, "regulatory.clinicalTrials"))
	}

	var designations int
	for _, d := range r.Strategy.Designations {
		if recognizedDesignations[strings.ToLower(strings.TrimSpace(d))] {
			designations++
		}
	}
	designationScore := 2.0
	switch {
	case designations >= 3:
		designationScore = 5.0
	case designations == 2:
		designationScore = 4.25
	case designations == 1:
		designationScore = 3.5
	}
	factors = append(factors, factor("Expedited designations", wDesignations, designationScore,
		fmt.Sprintf("%d recognized designation(s)", designations)))

	if pathway := strings.ToLower(strings.TrimSpace(r.Strategy.Pathway)); pathway != "" {
		s := 3.5
		switch {
		case strings.Contains(pathway, "accelerated"), strings.Contains(pathway, "505(b)(2)"):
			s = 4.5
		case pathway == "bla", pathway == "nda", pathway == "maa":
			s = 4.0
		}
		if r.Strategy.AgencyInteractions >= 3 {
			s += 0.5
		}
		factors = append(factors, factor("Pathway clarity", wPathway, s,
			fmt.Sprintf("%s pathway, %d agency interaction(s)", r.Strategy.Pathway, r.Strategy.AgencyInteractions)))
	} else {
		factors = append(factors, missing("Pathway clarity", wPathway, "regulatory.strategy.pathway"))
	}

	return compose(domain.PillarRegulatoryRisk, factors, nil)
}
