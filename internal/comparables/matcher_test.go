package comparables

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return asOf.Add(9 * time.Hour) }

func target() domain.TargetProfile {
	return domain.TargetProfile{
		CompanyID:           "co-001",
		TherapeuticAreas:    []string{"oncology", "immunology"},
		Stage:               domain.StagePhaseII,
		MarketSize:          5e9,
		Mechanism:           "KRAS G12C inhibitor",
		CompetitivePosition: domain.PositionBestInClass,
		Financials:          &domain.FinancialSnapshot{CashPosition: 200e6, BurnRate: 8e6, RunwayMonths: 25},
	}
}

func twin(id string) domain.Comparable {
	return domain.Comparable{
		ID:               id,
		CompanyName:      "Twin Bio",
		TransactionType:  domain.TransactionAcquisition,
		TransactionDate:  asOf,
		Valuation:        1.2e9,
		Stage:            domain.StagePhaseII,
		TherapeuticAreas: []string{"Immunology", "Oncology"},
		Program: domain.ComparableProgram{
			Mechanism:           "kras g12c inhibitor",
			CompetitivePosition: domain.PositionBestInClass,
		},
		MarketSize:     5e9,
		Financials:     &domain.FinancialSnapshot{CashPosition: 200e6, BurnRate: 8e6, RunwayMonths: 25},
		DataConfidence: 0.9,
	}
}

func pool() []domain.Comparable {
	far := twin("far")
	far.Stage = domain.StageMarketed
	far.TherapeuticAreas = []string{"dermatology"}
	far.MarketSize = 2e8
	far.Program.Mechanism = "topical steroid"
	far.Program.CompetitivePosition = domain.PositionMeToo
	far.TransactionDate = asOf.AddDate(-4, 0, 0)
	far.TransactionType = domain.TransactionLicensing
	far.DataConfidence = 0.5

	near := twin("near")
	near.Stage = domain.StagePhaseIII
	near.TransactionDate = asOf.AddDate(-1, 0, 0)
	near.Valuation = 2.0e9
	near.DataConfidence = 0.8

	old := twin("old")
	old.TransactionDate = asOf.AddDate(-8, 0, 0)
	old.TransactionType = domain.TransactionIPO

	return []domain.Comparable{far, near, twin("twin"), old}
}

func TestFactors(t *testing.T) {
	approx := func(t *testing.T, name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %.6f, want %.6f", name, got, want)
		}
	}

	t.Run("Stage", func(t *testing.T) {
		approx(t, "same", stageMatch(domain.StagePhaseII, domain.StagePhaseII), 1)
		approx(t, "adjacent", stageMatch(domain.StagePhaseII, domain.StagePhaseIII), 0.8)
		approx(t, "extremes", stageMatch(domain.StagePreclinical, domain.StageMarketed), 0)
		approx(t, "unknown", stageMatch("", domain.StagePhaseI), neutral)
	})

	t.Run("MarketSize", func(t *testing.T) {
		approx(t, "same", marketSizeMatch(1e9, 1e9), 1)
		approx(t, "order of magnitude", marketSizeMatch(1e9, 1e10), 0)
		approx(t, "half order", marketSizeMatch(1e9, math.Pow(10, 9.5)), 0.5)
		approx(t, "missing", marketSizeMatch(0, 1e9), neutral)
	})

	t.Run("TherapeuticArea", func(t *testing.T) {
		approx(t, "same", areaMatch([]string{"Oncology"}, []string{"oncology"}), 1)
		approx(t, "partial", areaMatch([]string{"oncology", "immunology"}, []string{"oncology"}), 0.5)
		approx(t, "disjoint", areaMatch([]string{"oncology"}, []string{"neurology"}), 0)
		approx(t, "missing", areaMatch(nil, []string{"neurology"}), neutral)
	})

	t.Run("Mechanism", func(t *testing.T) {
		approx(t, "exact", mechanismMatch("PD-1 antibody", "pd-1 antibody"), 1)
		approx(t, "tokens", mechanismMatch("KRAS G12C inhibitor", "KRAS inhibitor"), 2.0/3.0)
		approx(t, "missing", mechanismMatch("", "x"), neutral)
	})

	t.Run("Position", func(t *testing.T) {
		approx(t, "same", positionMatch(domain.PositionFirstInClass, domain.PositionFirstInClass), 1)
		approx(t, "opposite", positionMatch(domain.PositionFirstInClass, domain.PositionMeToo), 0)
		approx(t, "one step", positionMatch(domain.PositionBestInClass, domain.PositionFastFollower), 2.0/3.0)
		approx(t, "unknown", positionMatch("", domain.PositionMeToo), neutral)
	})

	t.Run("TimeRelevance", func(t *testing.T) {
		approx(t, "today", timeRelevance(asOf, asOf, 5), 1)
		approx(t, "half horizon", timeRelevance(asOf.Add(-time.Duration(2.5*daysPerYear*24)*time.Hour), asOf, 5), 0.5)
		approx(t, "beyond horizon", timeRelevance(asOf.AddDate(-7, 0, 0), asOf, 5), 0)
		approx(t, "future", timeRelevance(asOf.AddDate(1, 0, 0), asOf, 5), 1)
		approx(t, "undated", timeRelevance(time.Time{}, asOf, 5), neutral)
	})

	t.Run("Financial", func(t *testing.T) {
		a := &domain.FinancialSnapshot{CashPosition: 100, BurnRate: 10, RunwayMonths: 10}
		b := &domain.FinancialSnapshot{CashPosition: 50, BurnRate: 10, RunwayMonths: 5}
		approx(t, "same", financialMatch(a, a), 1)
		approx(t, "partial", financialMatch(a, b), (0.5+1+0.5)/3)
		approx(t, "missing side", financialMatch(a, nil), neutral)
		approx(t, "no shared metric", financialMatch(a, &domain.FinancialSnapshot{}), neutral)
	})
}

func TestIdenticalCandidate(t *testing.T) {
	m := NewMatcher(nil, WithClock(clock))

	result := m.Rank([]domain.Comparable{twin("twin")}, target(), domain.ComparableCriteria{AsOf: asOf})

	if len(result.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(result.Matches))
	}
	if math.Abs(result.Matches[0].Similarity-1) > 1e-9 {
		t.Errorf("identical candidate similarity = %.9f, want 1", result.Matches[0].Similarity)
	}
	want := 0.7*result.Matches[0].Similarity + 0.3*0.9
	if math.Abs(result.Matches[0].WeightedScore-want) > 1e-9 {
		t.Errorf("weighted score %.6f, want %.6f", result.Matches[0].WeightedScore, want)
	}
}

func TestRank(t *testing.T) {
	m := NewMatcher(nil, WithClock(clock))

	t.Run("OrderedByWeightedScore", func(t *testing.T) {
		result := m.Rank(pool(), target(), domain.ComparableCriteria{})

		if result.TotalFound != 4 || result.PoolSize != 4 {
			t.Fatalf("expected 4 found of 4, got %d of %d", result.TotalFound, result.PoolSize)
		}
		if result.Matches[0].Comparable.ID != "twin" {
			t.Errorf("expected twin first, got %s", result.Matches[0].Comparable.ID)
		}
		if result.Matches[3].Comparable.ID != "far" {
			t.Errorf("expected far last, got %s", result.Matches[3].Comparable.ID)
		}
		for i := 1; i < len(result.Matches); i++ {
			if result.Matches[i].WeightedScore > result.Matches[i-1].WeightedScore {
				t.Errorf("matches out of order at %d", i)
			}
		}
		if !result.Criteria.AsOf.Equal(asOf) {
			t.Errorf("expected AsOf resolved to %v, got %v", asOf, result.Criteria.AsOf)
		}
	})

	t.Run("TiesPreferRecent", func(t *testing.T) {
		a, b := twin("a"), twin("b")
		a.TransactionDate = asOf.AddDate(1, 0, 0)
		b.TransactionDate = asOf.AddDate(2, 0, 0)

		result := m.Rank([]domain.Comparable{a, b}, target(), domain.ComparableCriteria{AsOf: asOf})

		if result.Matches[0].Comparable.ID != "b" {
			t.Errorf("expected more recent b first, got %s", result.Matches[0].Comparable.ID)
		}
	})

	t.Run("MaxResults", func(t *testing.T) {
		result := m.Rank(pool(), target(), domain.ComparableCriteria{MaxResults: 2})

		if len(result.Matches) != 2 {
			t.Errorf("expected 2 matches, got %d", len(result.Matches))
		}
		if result.TotalFound != 4 {
			t.Errorf("expected TotalFound 4, got %d", result.TotalFound)
		}
		want := (result.Matches[0].Confidence + result.Matches[1].Confidence) / 2
		if math.Abs(result.AverageConfidence-want) > 1e-9 {
			t.Errorf("average confidence %.4f, want %.4f", result.AverageConfidence, want)
		}
	})

	t.Run("DoesNotModifyPool", func(t *testing.T) {
		p := pool()
		m.Rank(p, target(), domain.ComparableCriteria{MaxResults: 1})
		if !reflect.DeepEqual(p, pool()) {
			t.Error("Rank modified the pool")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := m.Rank(pool(), target(), domain.ComparableCriteria{})
		b := m.Rank(pool(), target(), domain.ComparableCriteria{})
		if !reflect.DeepEqual(a, b) {
			t.Error("repeated ranking differs")
		}
	})
}

func TestFilters(t *testing.T) {
	m := NewMatcher(nil, WithClock(clock))

	tests := []struct {
		name     string
		criteria domain.ComparableCriteria
		wantIDs  []string
	}{
		{"Stage", domain.ComparableCriteria{Stages: []domain.DevelopmentStage{domain.StagePhaseIII}}, []string{"near"}},
		{"TransactionType", domain.ComparableCriteria{TransactionTypes: []domain.TransactionType{domain.TransactionLicensing}}, []string{"far"}},
		{"MinConfidence", domain.ComparableCriteria{MinConfidence: 0.85}, []string{"twin", "old"}},
		{"MaxAge", domain.ComparableCriteria{MaxAgeYears: 2}, []string{"twin", "near"}},
		{"MarketSize", domain.ComparableCriteria{MaxMarketSize: 1e9}, []string{"far"}},
		{"Valuation", domain.ComparableCriteria{MinValuation: 1.5e9}, []string{"near"}},
		{"TherapeuticArea", domain.ComparableCriteria{TherapeuticAreas: []string{"Dermatology"}}, []string{"far"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.Rank(pool(), target(), tt.criteria)

			got := make(map[string]bool)
			for _, match := range result.Matches {
				got[match.Comparable.ID] = true
			}
			if len(got) != len(tt.wantIDs) {
				t.Errorf("expected %v, got %v", tt.wantIDs, got)
			}
			for _, id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("expected %s in results, got %v", id, got)
				}
			}
		})
	}
}

func TestEmptyResults(t *testing.T) {
	m := NewMatcher(nil, WithClock(clock))

	t.Run("AllFiltered", func(t *testing.T) {
		result := m.Rank(pool(), target(), domain.ComparableCriteria{
			Stages: []domain.DevelopmentStage{domain.StagePreclinical},
		})
		if result.TotalFound != 0 || len(result.Matches) != 0 {
			t.Errorf("expected empty result, got %d", result.TotalFound)
		}
		if result.AverageConfidence != 0 {
			t.Errorf("expected zero average confidence, got %.2f", result.AverageConfidence)
		}
		if result.Matches == nil {
			t.Error("matches should be an empty list, not nil")
		}
		if len(result.Warnings) != 1 {
			t.Errorf("expected a warning, got %v", result.Warnings)
		}
	})

	t.Run("EmptyPool", func(t *testing.T) {
		result := m.Rank(nil, target(), domain.ComparableCriteria{})
		if result.TotalFound != 0 {
			t.Errorf("expected 0 found, got %d", result.TotalFound)
		}
		if len(result.Warnings) != 1 || result.Warnings[0] != "empty comparable pool" {
			t.Errorf("expected empty pool warning, got %v", result.Warnings)
		}
	})
}

type countingSource struct {
	pool  []domain.Comparable
	err   error
	calls int
}

func (s *countingSource) ListComparables(ctx context.Context, tenantID string) ([]domain.Comparable, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return StaticSource(s.pool).ListComparables(ctx, tenantID)
}

func TestFindComparables(t *testing.T) {
	ctx := context.Background()

	t.Run("UsesSource", func(t *testing.T) {
		src := &countingSource{pool: pool()}
		m := NewMatcher(src, WithClock(clock), WithMaxResults(3))

		result, err := m.FindComparables(ctx, "tenant-001", target(), domain.ComparableCriteria{})
		if err != nil {
			t.Fatalf("FindComparables failed: %v", err)
		}
		if len(result.Matches) != 3 {
			t.Errorf("expected matcher cap of 3, got %d", len(result.Matches))
		}
	})

	t.Run("SourceError", func(t *testing.T) {
		boom := errors.New("db down")
		m := NewMatcher(&countingSource{err: boom}, WithClock(clock))

		if _, err := m.FindComparables(ctx, "tenant-001", target(), domain.ComparableCriteria{}); !errors.Is(err, boom) {
			t.Errorf("expected wrapped source error, got %v", err)
		}
	})

	t.Run("NoSource", func(t *testing.T) {
		if _, err := NewMatcher(nil).FindComparables(ctx, "tenant-001", target(), domain.ComparableCriteria{}); err == nil {
			t.Error("expected error without source")
		}
	})
}

func TestCachedMatcher(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	src := &countingSource{pool: pool()}
	cm := NewCachedMatcher(NewMatcher(src, WithClock(clock)), cache.NewLRUCache(100), time.Minute)

	first, err := cm.FindComparables(ctx, tenantID, target(), domain.ComparableCriteria{})
	if err != nil {
		t.Fatalf("FindComparables failed: %v", err)
	}
	second, err := cm.FindComparables(ctx, tenantID, target(), domain.ComparableCriteria{})
	if err != nil {
		t.Fatalf("FindComparables failed: %v", err)
	}

	if src.calls != 1 {
		t.Errorf("expected cache hit on second search, source called %d times", src.calls)
	}
	if second.TotalFound != first.TotalFound || second.Matches[0].Comparable.ID != first.Matches[0].Comparable.ID {
		t.Error("cached result differs from original")
	}

	if _, err := cm.Invalidate(ctx, tenantID); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := cm.FindComparables(ctx, tenantID, target(), domain.ComparableCriteria{}); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("expected search after invalidation, source called %d times", src.calls)
	}

	if _, err := cm.FindComparables(ctx, "tenant-002", target(), domain.ComparableCriteria{}); err != nil {
		t.Fatal(err)
	}
	if src.calls != 3 {
		t.Errorf("tenants must not share cache entries, source called %d times", src.calls)
	}
}

func TestSearchKey(t *testing.T) {
	base := domain.ComparableCriteria{
		Stages:           []domain.DevelopmentStage{domain.StagePhaseII, domain.StagePhaseI},
		TherapeuticAreas: []string{"Oncology", "immunology"},
		AsOf:             asOf,
	}
	reordered := domain.ComparableCriteria{
		Stages:           []domain.DevelopmentStage{domain.StagePhaseI, domain.StagePhaseII},
		TherapeuticAreas: []string{"immunology", "oncology"},
		AsOf:             asOf,
	}

	if SearchKey(0, target(), base) != SearchKey(0, target(), reordered) {
		t.Error("equivalent criteria should share a key")
	}
	if SearchKey(0, target(), base) == SearchKey(1, target(), base) {
		t.Error("generation must change the key")
	}

	other := base
	other.MinConfidence = 0.5
	if SearchKey(0, target(), base) == SearchKey(0, target(), other) {
		t.Error("different criteria should not share a key")
	}

	if base.Stages[0] != domain.StagePhaseII {
		t.Error("SearchKey must not reorder the caller's slice")
	}
}
