package comparables

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Similarity weights, in MatchingFactors order. They encode which
// dimensions matter most for comparability and are not configurable.
const (
	weightTherapeuticArea     = 0.25
	weightStage               = 0.20
	weightMarketSize          = 0.15
	weightMechanism           = 0.15
	weightCompetitivePosition = 0.10
	weightTimeRelevance       = 0.10
	weightFinancial           = 0.05
)

// Ranking blend of similarity and candidate data confidence.
const (
	rankSimilarity = 0.7
	rankConfidence = 0.3
)

// neutral is used when either side lacks the data for a factor.
const neutral = 0.5

const daysPerYear = 365.25

// computeFactors scores one candidate against the target.
func computeFactors(t domain.TargetProfile, c *domain.Comparable, asOf time.Time, horizonYears float64) domain.MatchingFactors {
	return domain.MatchingFactors{
		TherapeuticArea:     areaMatch(t.TherapeuticAreas, c.TherapeuticAreas),
		Stage:               stageMatch(t.Stage, c.Stage),
		MarketSize:          marketSizeMatch(t.MarketSize, c.MarketSize),
		Mechanism:           mechanismMatch(t.Mechanism, c.Program.Mechanism),
		CompetitivePosition: positionMatch(t.CompetitivePosition, c.Program.CompetitivePosition),
		TimeRelevance:       timeRelevance(c.TransactionDate, asOf, horizonYears),
		Financial:           financialMatch(t.Financials, c.Financials),
	}
}

// Similarity combines the factors with the fixed weights.
func Similarity(f domain.MatchingFactors) float64 {
	s := weightTherapeuticArea*f.TherapeuticArea +
		weightStage*f.Stage +
		weightMarketSize*f.MarketSize +
		weightMechanism*f.Mechanism +
		weightCompetitivePosition*f.CompetitivePosition +
		weightTimeRelevance*f.TimeRelevance +
		weightFinancial*f.Financial
	return clamp01(s)
}

// WeightedScore is the ranking key of a match.
func WeightedScore(similarity, confidence float64) float64 {
	return rankSimilarity*similarity + rankConfidence*confidence
}

// areaMatch is the Jaccard index of the two therapeutic area sets.
func areaMatch(target, candidate []string) float64 {
	a, b := areaSet(target), areaSet(candidate)
	if len(a) == 0 || len(b) == 0 {
		return neutral
	}
	return jaccard(a, b)
}

// stageMatch is 1 minus the ordinal stage distance over the maximum distance.
func stageMatch(target, candidate domain.DevelopmentStage) float64 {
	to, co := target.Ordinal(), candidate.Ordinal()
	if to < 0 || co < 0 {
		return neutral
	}
	d := math.Abs(float64(to - co))
	return 1 - d/domain.MaxStageDistance
}

// marketSizeMatch compares market sizes on a log scale; a full order of
// magnitude apart scores zero.
func marketSizeMatch(target, candidate float64) float64 {
	if target <= 0 || candidate <= 0 {
		return neutral
	}
	d := math.Abs(math.Log(target)-math.Log(candidate)) / math.Log(10)
	return 1 - math.Min(1, d)
}

// mechanismMatch is 1 for the same mechanism, otherwise token overlap.
func mechanismMatch(target, candidate string) float64 {
	t, c := strings.TrimSpace(target), strings.TrimSpace(candidate)
	if t == "" || c == "" {
		return neutral
	}
	if strings.EqualFold(t, c) {
		return 1
	}
	return jaccard(tokenSet(t), tokenSet(c))
}

// positionMatch is ordinal closeness on the competitive position scale.
func positionMatch(target, candidate domain.CompetitivePosition) float64 {
	to, co := target.Ordinal(), candidate.Ordinal()
	if to < 0 || co < 0 {
		return neutral
	}
	return 1 - math.Abs(float64(to-co))/3
}

// timeRelevance decays linearly from 1 at age zero to 0 at the horizon.
// Transactions dated after asOf count as fully relevant.
func timeRelevance(date, asOf time.Time, horizonYears float64) float64 {
	if date.IsZero() || horizonYears <= 0 {
		return neutral
	}
	age := ageYears(date, asOf)
	if age <= 0 {
		return 1
	}
	return clamp01(1 - age/horizonYears)
}

// financialMatch averages min/max ratios of cash, burn and runway over the
// metrics both sides report.
func financialMatch(target, candidate *domain.FinancialSnapshot) float64 {
	if target == nil || candidate == nil {
		return neutral
	}
	pairs := [][2]float64{
		{target.CashPosition, candidate.CashPosition},
		{target.BurnRate, candidate.BurnRate},
		{target.RunwayMonths, candidate.RunwayMonths},
	}

	var sum float64
	var n int
	for _, p := range pairs {
		if p[0] <= 0 || p[1] <= 0 {
			continue
		}
		sum += math.Min(p[0], p[1]) / math.Max(p[0], p[1])
		n++
	}
	if n == 0 {
		return neutral
	}
	return sum / float64(n)
}

func ageYears(date, asOf time.Time) float64 {
	return asOf.Sub(date).Hours() / 24 / daysPerYear
}

func normalizeArea(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	a = strings.ReplaceAll(a, "_", " ")
	return strings.ReplaceAll(a, "-", " ")
}

func areaSet(areas []string) map[string]struct{} {
	set := make(map[string]struct{}, len(areas))
	for _, a := range areas {
		if n := normalizeArea(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
