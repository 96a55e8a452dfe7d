package pillars

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stageMaturity scores the lead program's stage, indexed by ordinal.
var stageMaturity = [...]float64{1.5, 2.25, 3.0, 4.0, 4.75, 5.0}

// AssetQuality scores the pipeline: maturity, breadth, differentiation and risk.
type AssetQuality struct{}

func (AssetQuality) Pillar() domain.Pillar { return domain.PillarAssetQuality }

func (AssetQuality) RequiredFields() []string {
	return []string{
		"pipeline",
		"pipeline.stage",
		"pipeline.competitivePosition",
		"pipeline.differentiators",
		"pipeline.risks",
	}
}

func (AssetQuality) Score(data *domain.CompanyData, _ domain.MarketContext) domain.PillarScore {
	const (
		wMaturity        = 0.30
		wBreadth         = 0.20
		wDifferentiation = 0.25
		wRisk            = 0.25
	)

	if len(data.Pipeline) == 0 {
		factors := []domain.ScoringFactor{
			missing("Stage maturity", wMaturity, "pipeline.stage"),
			missing("Pipeline breadth", wBreadth, "pipeline"),
			missing("Differentiation", wDifferentiation, "pipeline.competitivePosition", "pipeline.differentiators"),
			missing("Risk profile", wRisk, "pipeline.risks"),
		}
		ps := compose(domain.PillarAssetQuality, factors, []string{"critical: no pipeline programs, asset quality forced to minimum"})
		ps.RawScore = domain.MinScore
		return ps
	}

	factors := make([]domain.ScoringFactor, 0, 4)

	lead, _ := data.LeadProgram()
	if o := lead.Stage.Ordinal(); o >= 0 {
		factors = append(factors, factor("Stage maturity", wMaturity, stageMaturity[o],
			fmt.Sprintf("lead program %s is at %s", lead.Name, lead.Stage)))
	} else {
		factors = append(factors, missing("Stage maturity", wMaturity, "pipeline.stage"))
	}

	n := len(data.Pipeline)
	factors = append(factors, factor("Pipeline breadth", wBreadth, 1.5+0.75*float64(n),
		fmt.Sprintf("%d program(s) in development", n)))

	if s, ok := differentiationScore(lead); ok {
		factors = append(factors, factor("Differentiation", wDifferentiation, s,
			fmt.Sprintf("lead position %q with %d differentiator(s)", lead.CompetitivePosition, len(lead.Differentiators))))
	} else {
		factors = append(factors, missing("Differentiation", wDifferentiation, "pipeline.competitivePosition", "pipeline.differentiators"))
	}

	var risks, disclosed int
	for _, p := range data.Pipeline {
		if len(p.Risks) > 0 {
			disclosed++
			risks += len(p.Risks)
		}
	}
	if disclosed > 0 {
		avg := float64(risks) / float64(n)
		factors = append(factors, factor("Risk profile", wRisk, 5-0.75*avg,
			fmt.Sprintf("%.1f disclosed risk(s) per program", avg)))
	} else {
		factors = append(factors, missing("Risk profile", wRisk, "pipeline.risks"))
	}

	return compose(domain.PillarAssetQuality, factors, nil)
}

// differentiationScore combines competitive position with listed differentiators.
func differentiationScore(p domain.Program) (float64, bool) {
	base, known := positionScore(p.CompetitivePosition)
	if !known {
		if len(p.Differentiators) == 0 {
			return 0, false
		}
		base = 2.5
	}
	bonus := 0.25 * float64(len(p.Differentiators))
	if bonus > 0.75 {
		bonus = 0.75
	}
	return clampScore(base + bonus), true
}
