package scoring

import "github.com/opensource-finance/kestrel/internal/domain"

// WeightingEngine combines pillar scores with weights.
// It is stateless; callers must pass validated weights.
type WeightingEngine struct{}

// ApplyWeights returns the per-pillar contributions (raw score × weight)
// and their sum. The sum is a fixed-position fold, so the result does not
// depend on the order in which pillar scores were produced.
func (WeightingEngine) ApplyWeights(scores domain.PillarScores, weights domain.WeightConfig) domain.WeightedScores {
	w := weights.Values()

	var out domain.WeightedScores
	for i := range scores {
		out.Contributions[i] = scores[i].RawScore * w[i]
		out.Aggregate += out.Contributions[i]
	}
	return out
}

// ReweightResult is the outcome of re-weighting stored pillar scores.
type ReweightResult struct {
	Weights        domain.WeightConfig   `json:"weights"`
	Weighted       domain.WeightedScores `json:"weighted"`
	Recommendation domain.Recommendation `json:"recommendation"`
	Warnings       []string              `json:"warnings,omitempty"`
}
