package pillars

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StaleFundingMonths is the age after which the last round counts as stale.
const StaleFundingMonths = 24

// FinancialReadiness scores runway, cash, funding recency and revenue.
// Revenue is optional: zero means pre-revenue and scores 1.5.
type FinancialReadiness struct{}

func (FinancialReadiness) Pillar() domain.Pillar { return domain.PillarFinancialReadiness }

func (FinancialReadiness) RequiredFields() []string {
	return []string{
		"financials.cashPosition",
		"financials.burnRate",
		"financials.lastFundingRound",
	}
}

func (FinancialReadiness) Score(data *domain.CompanyData, market domain.MarketContext) domain.PillarScore {
	const (
		wRunway  = 0.40
		wCash    = 0.25
		wRecency = 0.20
		wRevenue = 0.15
	)

	f := data.Financials
	factors := make([]domain.ScoringFactor, 0, 4)
	var warnings []string

	if f.BurnRate > 0 {
		runway := math.Max(0, f.CashPosition) / f.BurnRate
		factors = append(factors, factor("Cash runway", wRunway, scale(runway, 6, 36),
			fmt.Sprintf("%.1f months of runway", runway)))
	} else {
		factors = append(factors, missing("Cash runway", wRunway, "financials.burnRate"))
	}

	switch {
	case f.CashPosition > 0:
		// $10M scores 1, $1B scores 5
		factors = append(factors, factor("Cash position", wCash, scale(math.Log10(f.CashPosition), 7, 9),
			fmt.Sprintf("cash $%.0fM", f.CashPosition/1e6)))
	case f.CashPosition < 0:
		warnings = append(warnings, "financial readiness: negative cash position")
		factors = append(factors, factor("Cash position", wCash, domain.MinScore, "negative cash position"))
	default:
		factors = append(factors, missing("Cash position", wCash, "financials.cashPosition"))
	}

	switch {
	case f.LastFundingRound == nil || f.LastFundingRound.Date.IsZero():
		factors = append(factors, missing("Funding recency", wRecency, "financials.lastFundingRound"))
	case market.AsOf.IsZero():
		factors = append(factors, missing("Funding recency", wRecency, "reference date"))
	default:
		months := monthsBetween(f.LastFundingRound.Date, market.AsOf)
		s := recencyScore(months)
		if months > StaleFundingMonths {
			warnings = append(warnings, fmt.Sprintf("financial readiness: stale funding data, last round %.0f months ago", months))
		}
		factors = append(factors, factor("Funding recency", wRecency, s,
			fmt.Sprintf("%s round %.0f months ago", f.LastFundingRound.Type, months)))
	}

	if f.Revenue > 0 {
		// $1M scores 1, $1B scores 5
		factors = append(factors, factor("Revenue", wRevenue, scale(math.Log10(f.Revenue), 6, 9),
			fmt.Sprintf("revenue $%.1fM", f.Revenue/1e6)))
	} else {
		factors = append(factors, factor("Revenue", wRevenue, 1.5, "pre-revenue"))
	}

	return compose(domain.PillarFinancialReadiness, factors, warnings)
}

// recencyScore is 5 up to six months, decays linearly to 2 at the stale
// threshold and is 1 beyond it.
func recencyScore(months float64) float64 {
	switch {
	case months <= 6:
		return 5
	case months <= StaleFundingMonths:
		return 5 - 3*(months-6)/(StaleFundingMonths-6)
	default:
		return 1
	}
}

// monthsBetween returns the non-negative number of 30.44-day months from a to b.
func monthsBetween(a, b time.Time) float64 {
	d := b.Sub(a).Hours() / 24 / 30.44
	if d < 0 {
		return 0
	}
	return d
}
