package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Confidence blend weights. Without comparables the comparable share is
// redistributed to the pillar and completeness terms.
const (
	blendPillar     = 0.5
	blendData       = 0.3
	blendComparable = 0.2
	blendPillarOnly = 0.6
	blendDataOnly   = 0.4
)

// blendConfidence builds the aggregate confidence metrics.
// comparable is nil when no comparable search informed the evaluation.
func blendConfidence(scores domain.PillarScores, weights domain.WeightConfig, completeness float64, comparable *float64) domain.ConfidenceMetrics {
	w := weights.Values()

	var mean, accuracy float64
	for i := range scores {
		mean += scores[i].Confidence
		accuracy += scores[i].Confidence * w[i]
	}
	mean /= domain.PillarCount

	m := domain.ConfidenceMetrics{
		DataCompleteness: clamp01(completeness),
		ModelAccuracy:    clamp01(accuracy),
	}

	if comparable != nil {
		m.ComparableQuality = clamp01(*comparable)
		m.Overall = blendPillar*mean + blendData*m.DataCompleteness + blendComparable*m.ComparableQuality
	} else {
		m.Overall = blendPillarOnly*mean + blendDataOnly*m.DataCompleteness
	}
	m.Overall = clamp01(m.Overall)
	return m
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
