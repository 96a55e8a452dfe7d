package scoring

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var fixedNow = time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sampleCompany() *domain.CompanyData {
	return &domain.CompanyData{
		ID:   "co-001",
		Name: "Helix Therapeutics",
		Profile: domain.CompanyProfile{
			Sector:           "biotech",
			TherapeuticAreas: []string{"oncology"},
			Stage:            domain.StagePhaseII,
		},
		Pipeline: []domain.Program{
			{
				Name:                "HLX-101",
				Mechanism:           "KRAS G12C inhibitor",
				Stage:               domain.StagePhaseII,
				CompetitivePosition: domain.PositionBestInClass,
				Differentiators:     []string{"oral"},
				Risks:               []string{"hepatotoxicity"},
			},
		},
		Financials: domain.Financials{
			CashPosition: 180e6,
			BurnRate:     6e6,
			LastFundingRound: &domain.FundingRound{
				Type: "Series B",
				Date: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		Market: domain.MarketData{
			AddressableMarket: 8e9,
			GrowthRate:        growth(0.09),
			Competitors:       []domain.Competitor{{Name: "Amgen", Stage: domain.StageMarketed}},
		},
		Regulatory: domain.RegulatoryData{
			ClinicalTrials: []domain.ClinicalTrial{{ID: "NCT01", Phase: domain.StagePhaseII, Status: domain.TrialActive}},
			Strategy:       domain.RegulatoryStrategy{Pathway: "NDA", Designations: []string{"orphan"}},
		},
	}
}

type stubScreener struct {
	results []domain.RuleResult
	err     error
	calls   int
}

func (s *stubScreener) Screen(ctx context.Context, data *domain.CompanyData, asOf time.Time) ([]domain.RuleResult, error) {
	s.calls++
	return s.results, s.err
}

func TestEvaluateCompany(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		result, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
		if err != nil {
			t.Fatalf("EvaluateCompany failed: %v", err)
		}

		if result.CompanyID != "co-001" {
			t.Errorf("expected company co-001, got %s", result.CompanyID)
		}
		if result.OverallScore < domain.MinScore || result.OverallScore > domain.MaxScore {
			t.Errorf("overall score %.3f out of range", result.OverallScore)
		}
		for _, ps := range result.PillarScores {
			if ps.RawScore < domain.MinScore || ps.RawScore > domain.MaxScore {
				t.Errorf("%s raw score %.3f out of range", ps.Name, ps.RawScore)
			}
			if ps.Confidence < 0 || ps.Confidence > 1 {
				t.Errorf("%s confidence %.3f out of range", ps.Name, ps.Confidence)
			}
		}
		for i, p := range domain.AllPillars() {
			if result.PillarScores[i].Pillar != p {
				t.Errorf("slot %d holds %s", i, result.PillarScores[i].Pillar)
			}
		}
		if !result.AsOf.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("expected AsOf truncated to day, got %v", result.AsOf)
		}
		if !result.Timestamp.Equal(fixedNow) {
			t.Errorf("expected timestamp %v, got %v", fixedNow, result.Timestamp)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		a, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
		if err != nil {
			t.Fatal(err)
		}
		b, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Error("repeated evaluation produced different results")
		}
	})

	t.Run("MissingName", func(t *testing.T) {
		data := sampleCompany()
		data.Name = ""

		_, err := engine.EvaluateCompany(ctx, data, domain.DefaultScoringConfig())

		var inputErr *domain.InputError
		if !errors.As(err, &inputErr) {
			t.Fatalf("expected InputError, got %v", err)
		}
		if inputErr.Field != "name" {
			t.Errorf("expected field name, got %s", inputErr.Field)
		}
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Error("expected error to unwrap to ErrInvalidInput")
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		data := sampleCompany()
		data.ID = " "
		if _, err := engine.EvaluateCompany(ctx, data, domain.DefaultScoringConfig()); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NilCompany", func(t *testing.T) {
		if _, err := engine.EvaluateCompany(ctx, nil, domain.DefaultScoringConfig()); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("WeightsNotSummingToOne", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Weights.AssetQuality = 0.5

		if _, err := engine.EvaluateCompany(ctx, sampleCompany(), cfg); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NegativeWeight", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Weights.AssetQuality = -0.05
		cfg.Weights.MarketOutlook = 0.50

		if _, err := engine.EvaluateCompany(ctx, sampleCompany(), cfg); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NoProgramsStillScores", func(t *testing.T) {
		data := sampleCompany()
		data.Pipeline = nil
		data.Financials.CashPosition = -1

		result, err := engine.EvaluateCompany(ctx, data, domain.DefaultScoringConfig())
		if err != nil {
			t.Fatalf("sparse data must not abort: %v", err)
		}
		if result.PillarScores[domain.PillarAssetQuality].RawScore != domain.MinScore {
			t.Errorf("expected asset quality at minimum, got %.2f", result.PillarScores[domain.PillarAssetQuality].RawScore)
		}
		if !containsWarning(result.Warnings, "no pipeline programs") {
			t.Errorf("expected pipeline warning, got %v", result.Warnings)
		}
		if !containsWarning(result.Warnings, "negative cash position") {
			t.Errorf("expected cash warning, got %v", result.Warnings)
		}
	})

	t.Run("ImbalancedWeightsWarn", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Weights = domain.WeightConfig{AssetQuality: 0.5, MarketOutlook: 0.1, CapitalIntensity: 0.1, StrategicFit: 0.1, FinancialReadiness: 0.1, RegulatoryRisk: 0.1}

		result, err := engine.EvaluateCompany(ctx, sampleCompany(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !containsWarning(result.Warnings, "weight imbalance") {
			t.Errorf("expected imbalance warning, got %v", result.Warnings)
		}
	})

	t.Run("ZeroWeightStillReportsPillar", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Weights.RegulatoryRisk = 0
		cfg.Weights.FinancialReadiness = 0.20

		result, err := engine.EvaluateCompany(ctx, sampleCompany(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if result.PillarScores[domain.PillarRegulatoryRisk].RawScore < domain.MinScore {
			t.Error("zero-weight pillar must still be scored")
		}
		if result.Weighted.Contributions[domain.PillarRegulatoryRisk] != 0 {
			t.Error("zero-weight pillar must not contribute")
		}
	})

	t.Run("PinnedAsOf", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Market.AsOf = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

		result, err := engine.EvaluateCompany(ctx, sampleCompany(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !result.AsOf.Equal(cfg.Market.AsOf) {
			t.Errorf("expected pinned AsOf, got %v", result.AsOf)
		}
		if !containsWarning(result.Warnings, "stale funding") {
			t.Errorf("funding from 2024 should be stale in 2030, got %v", result.Warnings)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := engine.EvaluateCompany(cctx, sampleCompany(), domain.DefaultScoringConfig()); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestComparableConfidence(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	ctx := context.Background()

	without, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
	if err != nil {
		t.Fatal(err)
	}
	high, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig(), WithComparableConfidence(1.0))
	if err != nil {
		t.Fatal(err)
	}
	low, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig(), WithComparableConfidence(0))
	if err != nil {
		t.Fatal(err)
	}

	if without.Confidence.ComparableQuality != 0 {
		t.Errorf("expected no comparable quality, got %.2f", without.Confidence.ComparableQuality)
	}
	if high.Confidence.ComparableQuality != 1 {
		t.Errorf("expected comparable quality 1, got %.2f", high.Confidence.ComparableQuality)
	}
	if high.Confidence.Overall <= low.Confidence.Overall {
		t.Errorf("comparable confidence should raise overall: %.3f <= %.3f", high.Confidence.Overall, low.Confidence.Overall)
	}
	if high.OverallScore != without.OverallScore {
		t.Error("comparable confidence must not change the score")
	}
}

func TestScreening(t *testing.T) {
	ctx := context.Background()

	t.Run("FlaggedRulesWarn", func(t *testing.T) {
		screener := &stubScreener{results: []domain.RuleResult{
			{RuleID: "runway", Outcome: domain.RuleOutcomeFail, Reason: "runway under 12 months"},
			{RuleID: "focus", Outcome: domain.RuleOutcomePass, Reason: "ok"},
		}}
		engine := NewEngine(WithClock(fixedClock), WithScreener(screener))

		result, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
		if err != nil {
			t.Fatal(err)
		}
		if screener.calls != 1 {
			t.Errorf("expected 1 screen call, got %d", screener.calls)
		}
		if len(result.Screening) != 2 {
			t.Errorf("expected 2 screening results, got %d", len(result.Screening))
		}
		if !containsWarning(result.Warnings, "runway under 12 months") {
			t.Errorf("expected screening warning, got %v", result.Warnings)
		}
		if containsWarning(result.Warnings, "screening focus") {
			t.Error("passing rule must not warn")
		}
	})

	t.Run("ScreenerErrorIsNotFatal", func(t *testing.T) {
		engine := NewEngine(WithClock(fixedClock), WithScreener(&stubScreener{err: errors.New("boom")}))

		result, err := engine.EvaluateCompany(ctx, sampleCompany(), domain.DefaultScoringConfig())
		if err != nil {
			t.Fatalf("screener failure must not abort: %v", err)
		}
		if !containsWarning(result.Warnings, "screening unavailable") {
			t.Errorf("expected screening warning, got %v", result.Warnings)
		}
	})
}

func TestValidateInputData(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		v := ValidateInputData(sampleCompany())
		if !v.Valid {
			t.Errorf("expected valid, got issues %v", v.Issues)
		}
		if v.Completeness != 1 {
			t.Errorf("expected full completeness, got %.2f (missing %v)", v.Completeness, MissingFields(sampleCompany()))
		}
	})

	t.Run("Sparse", func(t *testing.T) {
		v := ValidateInputData(&domain.CompanyData{ID: "x", Name: "Sparse"})
		if !v.Valid {
			t.Error("sparse but identified company should be valid")
		}
		if v.Completeness != 0 {
			t.Errorf("expected zero completeness, got %.2f", v.Completeness)
		}
		if len(v.Warnings) == 0 {
			t.Error("expected warnings for missing pipeline")
		}
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		v := ValidateInputData(&domain.CompanyData{})
		if v.Valid {
			t.Error("expected invalid")
		}
		if len(v.Critical()) != 2 {
			t.Errorf("expected 2 critical issues, got %v", v.Critical())
		}
	})

	t.Run("UnknownStage", func(t *testing.T) {
		data := sampleCompany()
		data.Pipeline[0].Stage = "phase_9"
		v := ValidateInputData(data)
		if !containsWarning(v.Warnings, "unknown development stage") {
			t.Errorf("expected stage warning, got %v", v.Warnings)
		}
	})
}

func TestReweight(t *testing.T) {
	engine := NewEngine()

	var scores domain.PillarScores
	for i, v := range []float64{4.2, 3.8, 3.5, 4.0, 3.2, 3.7} {
		scores[i].RawScore = v
	}

	t.Run("NormalizesSliders", func(t *testing.T) {
		out, err := engine.Reweight(scores, domain.WeightConfig{
			AssetQuality: 2, MarketOutlook: 2, CapitalIntensity: 2,
			StrategicFit: 2, FinancialReadiness: 1, RegulatoryRisk: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(out.Weights.Sum()-1) > domain.WeightTolerance {
			t.Errorf("weights sum to %.4f", out.Weights.Sum())
		}
		if !containsWarning(out.Warnings, "normalized") {
			t.Errorf("expected normalization warning, got %v", out.Warnings)
		}
	})

	t.Run("RejectsAllZero", func(t *testing.T) {
		if _, err := engine.Reweight(scores, domain.WeightConfig{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func growth(v float64) *float64 { return &v }
