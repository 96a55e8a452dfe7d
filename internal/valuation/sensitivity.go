package valuation

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Perturbation applied to each assumption, as a fraction of its base value.
const Perturbation = 0.20

// DefaultDiscountRate is used when the scoring config carries none.
const DefaultDiscountRate = 0.10

// horizonYears is the length of the revenue projection.
const horizonYears = 20

// Assumption names, in table order.
const (
	AssumptionPeakSales          = "peak_sales"
	AssumptionSuccessProbability = "success_probability"
	AssumptionTimeToPeak         = "time_to_peak"
	AssumptionDiscountRate       = "discount_rate"
)

// Assumptions drive the rNPV model behind the sensitivity table.
type Assumptions struct {
	PeakSales          float64 // annual, USD
	SuccessProbability float64 // probability of reaching market
	TimeToPeakYears    float64
	DiscountRate       float64
}

// Peak market share of the lead program, first-in-class to me-too.
var peakShare = [4]float64{0.15, 0.12, 0.08, 0.04}

const defaultPeakShare = 0.06

// Probability of success and years to peak sales, by stage ordinal.
var (
	stageSuccess    = [domain.MaxStageDistance + 1]float64{0.10, 0.15, 0.30, 0.55, 0.90, 1.0}
	stageTimeToPeak = [domain.MaxStageDistance + 1]float64{10, 9, 7, 5, 4, 3}
)

// DeriveAssumptions builds rNPV inputs from the lead program and market.
// Without an addressable market the peak sales figure is a unit placeholder;
// the table stays meaningful because valuations scale by rNPV ratios.
func DeriveAssumptions(data *domain.CompanyData, discountRate float64) (Assumptions, []string) {
	var warnings []string

	stage := 0
	if o := data.LeadStage().Ordinal(); o >= 0 {
		stage = o
	} else {
		warnings = append(warnings, "sensitivity: unknown development stage, using preclinical priors")
	}

	share := defaultPeakShare
	if lead, ok := data.LeadProgram(); ok {
		if o := lead.CompetitivePosition.Ordinal(); o >= 0 {
			share = peakShare[o]
		}
	}

	peak := data.Market.AddressableMarket * share
	if peak <= 0 {
		peak = 1
		warnings = append(warnings, "sensitivity: no addressable market, peak sales on a relative scale")
	}

	if discountRate <= 0 {
		discountRate = DefaultDiscountRate
	}

	return Assumptions{
		PeakSales:          peak,
		SuccessProbability: stageSuccess[stage],
		TimeToPeakYears:    stageTimeToPeak[stage],
		DiscountRate:       discountRate,
	}, warnings
}

// RNPV is the risk-adjusted NPV of a linear ramp to peak sales held to the
// end of the horizon.
func RNPV(a Assumptions) float64 {
	var npv float64
	for t := 1; t <= horizonYears; t++ {
		ramp := 1.0
		if a.TimeToPeakYears > 0 {
			ramp = math.Min(1, float64(t)/a.TimeToPeakYears)
		}
		npv += a.SuccessProbability * a.PeakSales * ramp / math.Pow(1+a.DiscountRate, float64(t))
	}
	return npv
}

// Sensitivity perturbs each assumption by -20% and +20% with the others held
// constant and scales the base valuation by the resulting rNPV ratio.
// Probabilities are capped at 1.
func Sensitivity(base float64, a Assumptions) []domain.SensitivityEntry {
	ref := RNPV(a)
	if base <= 0 || ref <= 0 {
		return []domain.SensitivityEntry{}
	}

	type lever struct {
		name  string
		value float64
		set   func(*Assumptions, float64)
		max   float64
	}
	levers := []lever{
		{AssumptionPeakSales, a.PeakSales, func(x *Assumptions, v float64) { x.PeakSales = v }, math.Inf(1)},
		{AssumptionSuccessProbability, a.SuccessProbability, func(x *Assumptions, v float64) { x.SuccessProbability = v }, 1},
		{AssumptionTimeToPeak, a.TimeToPeakYears, func(x *Assumptions, v float64) { x.TimeToPeakYears = v }, math.Inf(1)},
		{AssumptionDiscountRate, a.DiscountRate, func(x *Assumptions, v float64) { x.DiscountRate = v }, math.Inf(1)},
	}

	entries := make([]domain.SensitivityEntry, 0, len(levers))
	for _, l := range levers {
		at := func(factor float64) float64 {
			x := a
			l.set(&x, math.Min(l.max, l.value*factor))
			return base * RNPV(x) / ref
		}
		low, high := at(1-Perturbation), at(1+Perturbation)
		entries = append(entries, domain.SensitivityEntry{
			Assumption:    l.name,
			BaseValue:     l.value,
			LowValuation:  low,
			BaseValuation: base,
			HighValuation: high,
			LowDelta:      low - base,
			HighDelta:     high - base,
		})
	}
	return entries
}
