// Package pillars implements the six pillar scorers.
//
// Every scorer is a pure function of its CompanyData subset. Missing inputs
// never fail a score: the affected factor is dropped, the remaining factor
// weights are renormalized and confidence falls by the dropped weight.
package pillars

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer is the contract shared by the six pillar variants.
type Scorer interface {
	// Pillar identifies the variant.
	Pillar() domain.Pillar

	// Score computes the pillar score. It never mutates data.
	Score(data *domain.CompanyData, market domain.MarketContext) domain.PillarScore

	// RequiredFields lists the CompanyData fields whose absence drops a
	// factor. Fields with a scored default, such as revenue or approvals,
	// are optional and not listed.
	RequiredFields() []string
}

// All returns the six scorers in pillar order.
func All() [domain.PillarCount]Scorer {
	return [domain.PillarCount]Scorer{
		AssetQuality{},
		MarketOutlook{},
		CapitalIntensity{},
		StrategicFit{},
		FinancialReadiness{},
		RegulatoryRisk{},
	}
}

// For returns the scorer of a pillar, or nil for an unknown pillar.
func For(p domain.Pillar) Scorer {
	if p < 0 || int(p) >= domain.PillarCount {
		return nil
	}
	return All()[p]
}

// RequiredFields returns the union of every scorer's required fields, sorted by pillar.
func RequiredFields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range All() {
		for _, f := range s.RequiredFields() {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// factor builds an available factor.
func factor(name string, weight, score float64, rationale string) domain.ScoringFactor {
	return domain.ScoringFactor{
		Name:      name,
		Weight:    weight,
		Score:     clampScore(score),
		Available: true,
		Rationale: rationale,
	}
}

// missing builds an unavailable factor for the absent fields.
func missing(name string, weight float64, fields ...string) domain.ScoringFactor {
	return domain.ScoringFactor{
		Name:      name,
		Weight:    weight,
		Rationale: "missing " + strings.Join(fields, " and "),
	}
}

// compose folds factors into a PillarScore. Unavailable factors are excluded
// and reported; confidence is the available share of the factor weight.
func compose(p domain.Pillar, factors []domain.ScoringFactor, warnings []string) domain.PillarScore {
	var total, avail, sum float64
	for _, f := range factors {
		total += f.Weight
		if !f.Available {
			warnings = append(warnings, fmt.Sprintf("%s: %s, factor %q excluded", p, f.Rationale, f.Name))
			continue
		}
		avail += f.Weight
		sum += f.Weight * f.Score
	}

	raw := domain.MinScore
	if avail > 0 {
		raw = sum / avail
	}
	confidence := 0.0
	if total > 0 {
		confidence = avail / total
	}

	return domain.PillarScore{
		Pillar:     p,
		Name:       p.String(),
		RawScore:   clampScore(raw),
		Confidence: clamp01(confidence),
		Factors:    factors,
		Warnings:   warnings,
	}
}

// ExplainScore renders a rationale from the stored factors alone, so a
// persisted score can be explained without re-running its scorer.
func ExplainScore(s domain.PillarScore) string {
	var b strings.Builder
	name := s.Name
	if name == "" {
		name = s.Pillar.String()
	}
	fmt.Fprintf(&b, "%s: %.2f/5 (confidence %.0f%%)\n", name, s.RawScore, s.Confidence*100)

	for _, f := range s.Factors {
		if !f.Available {
			fmt.Fprintf(&b, "  - %s (weight %.0f%%): not scored, %s\n", f.Name, f.Weight*100, f.Rationale)
			continue
		}
		fmt.Fprintf(&b, "  - %s (weight %.0f%%): %.2f, %s\n", f.Name, f.Weight*100, f.Score, f.Rationale)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "  ! %s\n", w)
	}
	return b.String()
}

// scale maps x linearly from [lo, hi] onto [1, 5], clamped.
func scale(x, lo, hi float64) float64 {
	if hi == lo {
		return domain.MinScore
	}
	return clampScore(domain.MinScore + (domain.MaxScore-domain.MinScore)*(x-lo)/(hi-lo))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return domain.MinScore
	}
	return math.Max(domain.MinScore, math.Min(domain.MaxScore, v))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// positionScore maps a competitive position to a score; ok is false when unknown.
func positionScore(p domain.CompetitivePosition) (float64, bool) {
	switch p.Ordinal() {
	case 0:
		return 5.0, true
	case 1:
		return 4.25, true
	case 2:
		return 3.0, true
	case 3:
		return 1.75, true
	default:
		return 0, false
	}
}

// normalizeArea folds therapeutic area spellings onto one key.
func normalizeArea(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	a = strings.ReplaceAll(a, "_", " ")
	a = strings.ReplaceAll(a, "-", " ")
	return a
}

// areaSet returns the normalized, de-duplicated set of areas.
func areaSet(areas []string) map[string]struct{} {
	set := make(map[string]struct{}, len(areas))
	for _, a := range areas {
		if n := normalizeArea(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
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
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
