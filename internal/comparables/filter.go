package comparables

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// passes applies the hard criteria filters. A bound that is set excludes
// candidates that do not report the bounded value.
func passes(c *domain.Comparable, cr *domain.ComparableCriteria, asOf time.Time) bool {
	if len(cr.Stages) > 0 && !stageIn(c.Stage, cr.Stages) {
		return false
	}

	if len(cr.TransactionTypes) > 0 {
		found := false
		for _, t := range cr.TransactionTypes {
			if t == c.TransactionType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(cr.TherapeuticAreas) > 0 {
		want := areaSet(cr.TherapeuticAreas)
		overlap := false
		for a := range areaSet(c.TherapeuticAreas) {
			if _, ok := want[a]; ok {
				overlap = true
				break
			}
		}
		if !overlap {
			return false
		}
	}

	if !inRange(c.MarketSize, cr.MinMarketSize, cr.MaxMarketSize) {
		return false
	}
	if !inRange(c.Valuation, cr.MinValuation, cr.MaxValuation) {
		return false
	}

	if cr.MaxAgeYears > 0 {
		if c.TransactionDate.IsZero() || ageYears(c.TransactionDate, asOf) > cr.MaxAgeYears {
			return false
		}
	}

	return c.DataConfidence >= cr.MinConfidence
}

func stageIn(s domain.DevelopmentStage, set []domain.DevelopmentStage) bool {
	o := s.Ordinal()
	if o < 0 {
		return false
	}
	for _, want := range set {
		if want.Ordinal() == o {
			return true
		}
	}
	return false
}

// inRange checks v against optional bounds; zero means unbounded.
func inRange(v, lo, hi float64) bool {
	if lo <= 0 && hi <= 0 {
		return true
	}
	if v <= 0 {
		return false
	}
	if lo > 0 && v < lo {
		return false
	}
	if hi > 0 && v > hi {
		return false
	}
	return true
}
