package pillars

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// areaOutlook is the built-in attractiveness of therapeutic areas (1-5).
// MarketContext.AreaOutlook overrides individual entries.
var areaOutlook = map[string]float64{
	"oncology":           4.5,
	"rare disease":       4.5,
	"immunology":         4.0,
	"neurology":          4.0,
	"metabolic":          3.5,
	"cardiovascular":     3.5,
	"ophthalmology":      3.5,
	"infectious disease": 3.0,
	"dermatology":        3.0,
	"respiratory":        3.0,
}

const defaultAreaOutlook = 3.0

// MarketOutlook scores market size, growth, competition and area attractiveness.
type MarketOutlook struct{}

func (MarketOutlook) Pillar() domain.Pillar { return domain.PillarMarketOutlook }

func (MarketOutlook) RequiredFields() []string {
	return []string{
		"market.addressableMarket",
		"market.growthRate",
		"market.competitors",
		"profile.therapeuticAreas",
	}
}

func (MarketOutlook) Score(data *domain.CompanyData, market domain.MarketContext) domain.PillarScore {
	const (
		wSize        = 0.35
		wGrowth      = 0.25
		wCompetition = 0.25
		wArea        = 0.15
	)

	m := data.Market
	factors := make([]domain.ScoringFactor, 0, 4)
	var warnings []string

	if m.AddressableMarket > 0 {
		// $100M scores 1, $100B scores 5
		factors = append(factors, factor("Addressable market", wSize, scale(math.Log10(m.AddressableMarket), 8, 11),
			fmt.Sprintf("addressable market $%.0fM", m.AddressableMarket/1e6)))
	} else {
		factors = append(factors, missing("Addressable market", wSize, "market.addressableMarket"))
	}

	if g, ok := m.Growth(); ok {
		factors = append(factors, factor("Market growth", wGrowth, scale(g, -0.05, 0.25),
			fmt.Sprintf("%.1f%% annual growth", g*100)))
	} else {
		factors = append(factors, missing("Market growth", wGrowth, "market.growthRate"))
	}

	if len(m.Competitors) > 0 {
		intensity := 0.0
		for _, c := range m.Competitors {
			intensity++
			if c.Stage.Ordinal() >= domain.StagePhaseIII.Ordinal() {
				intensity++
			}
		}
		factors = append(factors, factor("Competitive intensity", wCompetition, 5-0.5*intensity,
			fmt.Sprintf("%d competitor(s), intensity %.0f", len(m.Competitors), intensity)))
	} else {
		warnings = append(warnings, "market outlook: empty competitor list")
		factors = append(factors, missing("Competitive intensity", wCompetition, "market.competitors"))
	}

	if s, areas, ok := areaAttractiveness(data.Profile.TherapeuticAreas, market.AreaOutlook); ok {
		factors = append(factors, factor("Area attractiveness", wArea, s,
			fmt.Sprintf("mean outlook across %v", areas)))
	} else {
		factors = append(factors, missing("Area attractiveness", wArea, "profile.therapeuticAreas"))
	}

	return compose(domain.PillarMarketOutlook, factors, warnings)
}

func areaAttractiveness(areas []string, overrides map[string]float64) (float64, []string, bool) {
	set := areaSet(areas)
	if len(set) == 0 {
		return 0, nil, false
	}

	norm := make(map[string]float64, len(overrides))
	for k, v := range overrides {
		norm[normalizeArea(k)] = v
	}

	keys := make([]string, 0, len(set))
	for a := range set {
		keys = append(keys, a)
	}
	sort.Strings(keys)

	var sum float64
	for _, a := range keys {
		v, ok := norm[a]
		if !ok {
			v, ok = areaOutlook[a]
		}
		if !ok {
			v = defaultAreaOutlook
		}
		sum += v
	}
	return clampScore(sum / float64(len(keys))), keys, true
}
