package valuation

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scenario probabilities. They sum to 1.
const (
	BearProbability = 0.25
	BaseProbability = 0.50
	BullProbability = 0.25
)

// bearFloor keeps the bear case above zero when the spread is wide.
const bearFloor = 0.05

// GenerateScenarios returns Bear, Base and Bull in that order. Bear and Bull
// sit one spread below and above base, so scenario width follows how tightly
// the comparables cluster.
func GenerateScenarios(base, spread float64) []domain.Scenario {
	if base <= 0 {
		return []domain.Scenario{}
	}
	spread = math.Max(0, spread)
	bear := base * math.Max(bearFloor, 1-spread)
	bull := base * (1 + spread)

	return []domain.Scenario{
		{
			Name:        domain.ScenarioBear,
			Probability: BearProbability,
			Valuation:   bear,
			Description: fmt.Sprintf("Comparables at the low end: %.0f%% below base", (1-bear/base)*100),
		},
		{
			Name:        domain.ScenarioBase,
			Probability: BaseProbability,
			Valuation:   base,
			Description: "Similarity-weighted average of the top comparables",
		},
		{
			Name:        domain.ScenarioBull,
			Probability: BullProbability,
			Valuation:   bull,
			Description: fmt.Sprintf("Comparables at the high end: %.0f%% above base", spread*100),
		},
	}
}

// ExpectedValue is the probability-weighted valuation across scenarios.
func ExpectedValue(scenarios []domain.Scenario) float64 {
	var ev float64
	for _, s := range scenarios {
		ev += s.Probability * s.Valuation
	}
	return ev
}
