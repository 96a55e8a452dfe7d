package pillars

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// focusScore scores how concentrated the company is, indexed by area count.
var focusScore = [...]float64{0, 5.0, 4.25, 3.5, 2.75, 2.0}

// StrategicFit scores focus, positioning, differentiation and acquirer alignment.
type StrategicFit struct{}

func (StrategicFit) Pillar() domain.Pillar { return domain.PillarStrategicFit }

func (StrategicFit) RequiredFields() []string {
	return []string{
		"profile.therapeuticAreas",
		"pipeline.competitivePosition",
		"pipeline.differentiators",
	}
}

func (StrategicFit) Score(data *domain.CompanyData, market domain.MarketContext) domain.PillarScore {
	const (
		wFocus     = 0.30
		wPosition  = 0.30
		wNovelty   = 0.20
		wAlignment = 0.20
	)

	factors := make([]domain.ScoringFactor, 0, 4)
	areas := areaSet(data.Profile.TherapeuticAreas)

	if n := len(areas); n > 0 {
		idx := n
		if idx >= len(focusScore) {
			idx = len(focusScore) - 1
		}
		factors = append(factors, factor("Therapeutic focus", wFocus, focusScore[idx],
			fmt.Sprintf("%d therapeutic area(s)", n)))
	} else {
		factors = append(factors, missing("Therapeutic focus", wFocus, "profile.therapeuticAreas"))
	}

	best, bestPos := 0.0, domain.CompetitivePosition("")
	for _, p := range data.Pipeline {
		if s, ok := positionScore(p.CompetitivePosition); ok && s > best {
			best, bestPos = s, p.CompetitivePosition
		}
	}
	if best > 0 {
		factors = append(factors, factor("Competitive position", wPosition, best,
			fmt.Sprintf("best program position %s", bestPos)))
	} else {
		factors = append(factors, missing("Competitive position", wPosition, "pipeline.competitivePosition"))
	}

	if len(data.Pipeline) > 0 {
		var diffs int
		for _, p := range data.Pipeline {
			diffs += len(p.Differentiators)
		}
		avg := float64(diffs) / float64(len(data.Pipeline))
		factors = append(factors, factor("Differentiation", wNovelty, scale(avg, 0, 3),
			fmt.Sprintf("%.1f differentiator(s) per program", avg)))
	} else {
		factors = append(factors, missing("Differentiation", wNovelty, "pipeline.differentiators"))
	}

	switch {
	case len(areas) == 0:
		factors = append(factors, missing("Acquirer alignment", wAlignment, "profile.therapeuticAreas"))
	case len(market.FocusAreas) == 0:
		factors = append(factors, factor("Acquirer alignment", wAlignment, 3.0, "no acquirer focus areas configured, neutral"))
	default:
		j := jaccard(areas, areaSet(market.FocusAreas))
		factors = append(factors, factor("Acquirer alignment", wAlignment, 1+4*j,
			fmt.Sprintf("%.0f%% overlap with focus areas", j*100)))
	}

	return compose(domain.PillarStrategicFit, factors, nil)
}
