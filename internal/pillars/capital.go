package pillars

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CapitalIntensity scores how much capital the plan consumes.
// Higher means less capital intensive.
type CapitalIntensity struct{}

func (CapitalIntensity) Pillar() domain.Pillar { return domain.PillarCapitalIntensity }

func (CapitalIntensity) RequiredFields() []string {
	return []string{
		"financials.burnRate",
		"pipeline",
		"pipeline.stage",
	}
}

func (CapitalIntensity) Score(data *domain.CompanyData, _ domain.MarketContext) domain.PillarScore {
	const (
		wBurn       = 0.35
		wLateStage  = 0.30
		wBreadth    = 0.15
		wEfficiency = 0.20
	)

	f := data.Financials
	factors := make([]domain.ScoringFactor, 0, 4)

	if f.BurnRate > 0 {
		// $1M/month scores 5, $20M/month scores 1
		s := 6 - scale(math.Log10(f.BurnRate), 6, math.Log10(2e7))
		factors = append(factors, factor("Burn rate", wBurn, s,
			fmt.Sprintf("monthly burn $%.1fM", f.BurnRate/1e6)))
	} else {
		factors = append(factors, missing("Burn rate", wBurn, "financials.burnRate"))
	}

	var staged, phase3, clinical int
	for _, p := range data.Pipeline {
		o := p.Stage.Ordinal()
		if o < 0 {
			continue
		}
		staged++
		if o == domain.StagePhaseIII.Ordinal() {
			phase3++
		}
		if o >= domain.StagePhaseI.Ordinal() && o <= domain.StagePhaseIII.Ordinal() {
			clinical++
		}
	}

	if staged > 0 {
		frac := float64(phase3) / float64(staged)
		factors = append(factors, factor("Late-stage exposure", wLateStage, 5-4*frac,
			fmt.Sprintf("%d of %d program(s) in Phase III", phase3, staged)))

		extra := math.Max(0, float64(clinical-1))
		factors = append(factors, factor("Clinical breadth cost", wBreadth, 5-0.75*extra,
			fmt.Sprintf("%d clinical program(s) to fund", clinical)))
	} else {
		breadthField := "pipeline.stage"
		if len(data.Pipeline) == 0 {
			breadthField = "pipeline"
		}
		factors = append(factors,
			missing("Late-stage exposure", wLateStage, "pipeline.stage"),
			missing("Clinical breadth cost", wBreadth, breadthField))
	}

	if f.BurnRate > 0 {
		ratio := math.Max(0, f.Revenue) / (f.BurnRate * 12)
		factors = append(factors, factor("Capital efficiency", wEfficiency, 2+3*math.Min(1, ratio),
			fmt.Sprintf("revenue covers %.0f%% of annual burn", ratio*100)))
	} else {
		factors = append(factors, missing("Capital efficiency", wEfficiency, "financials.burnRate"))
	}

	return compose(domain.PillarCapitalIntensity, factors, nil)
}
