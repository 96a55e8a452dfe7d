package decision

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestRecommend(t *testing.T) {
	proc := NewProcessor()

	tests := []struct {
		score float64
		want  domain.Recommendation
	}{
		{5.0, domain.RecommendationStrongBuy},
		{4.2, domain.RecommendationStrongBuy},
		{4.19, domain.RecommendationBuy},
		{3.825, domain.RecommendationBuy},
		{3.5, domain.RecommendationBuy},
		{3.49, domain.RecommendationHold},
		{2.5, domain.RecommendationHold},
		{2.0, domain.RecommendationSell},
		{1.5, domain.RecommendationSell},
		{1.0, domain.RecommendationStrongSell},
	}

	for _, tt := range tests {
		if got := proc.Recommend(tt.score); got != tt.want {
			t.Errorf("Recommend(%.3f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRecommendOverride(t *testing.T) {
	proc := NewProcessor()
	proc.Thresholds = Thresholds{StrongBuy: 4.5, Buy: 4.0, Hold: 3.0, Sell: 2.0}

	if got := proc.Recommend(3.825); got != domain.RecommendationHold {
		t.Errorf("expected Hold under stricter table, got %s", got)
	}
}

func TestThresholdsValidate(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		if err := DefaultThresholds().Validate(); err != nil {
			t.Errorf("default thresholds should be valid: %v", err)
		}
	})

	t.Run("NotDescending", func(t *testing.T) {
		err := Thresholds{StrongBuy: 4, Buy: 4, Hold: 3, Sell: 2}.Validate()
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		err := Thresholds{StrongBuy: 6, Buy: 4, Hold: 3, Sell: 2}.Validate()
		if err == nil {
			t.Error("expected error for threshold above 5")
		}
	})
}

func TestRisk(t *testing.T) {
	proc := NewProcessor()

	tests := []struct {
		name string
		in   RiskInput
		want domain.RiskLevel
	}{
		{"StrongPillars", RiskInput{RegulatoryRisk: 4.5, FinancialReadiness: 4.2, Confidence: 0.9}, domain.RiskLow},
		{"Average", RiskInput{RegulatoryRisk: 3.4, FinancialReadiness: 3.2, Confidence: 0.9}, domain.RiskMedium},
		{"Weak", RiskInput{RegulatoryRisk: 2.4, FinancialReadiness: 2.2, Confidence: 0.9}, domain.RiskHigh},
		{"VeryWeak", RiskInput{RegulatoryRisk: 1.2, FinancialReadiness: 1.5, Confidence: 0.9}, domain.RiskVeryHigh},
		{"LowConfidenceBumpsOne", RiskInput{RegulatoryRisk: 4.5, FinancialReadiness: 4.2, Confidence: 0.5}, domain.RiskMedium},
		{"VeryLowConfidenceBumpsTwo", RiskInput{RegulatoryRisk: 4.5, FinancialReadiness: 4.2, Confidence: 0.3}, domain.RiskHigh},
		{"WeakPillarFloorsAtHigh", RiskInput{RegulatoryRisk: 5.0, FinancialReadiness: 1.8, Confidence: 0.9}, domain.RiskHigh},
		{"CappedAtVeryHigh", RiskInput{RegulatoryRisk: 1.0, FinancialReadiness: 1.0, Confidence: 0.1}, domain.RiskVeryHigh},
		{"StricterTolerance", RiskInput{RegulatoryRisk: 4.1, FinancialReadiness: 4.1, Confidence: 0.9, Tolerance: -0.25}, domain.RiskMedium},
		{"LenientTolerance", RiskInput{RegulatoryRisk: 3.9, FinancialReadiness: 3.9, Confidence: 0.9, Tolerance: 0.25}, domain.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := proc.Risk(tt.in); got != tt.want {
				t.Errorf("Risk(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassifyIgnoresAggregateForRisk(t *testing.T) {
	proc := NewProcessor()

	var scores domain.PillarScores
	for i := range scores {
		scores[i].RawScore = 5
	}
	scores[domain.PillarRegulatoryRisk].RawScore = 1.5

	rec, risk := proc.Classify(4.6, scores, 0.9, 0)
	if rec != domain.RecommendationStrongBuy {
		t.Errorf("expected Strong Buy, got %s", rec)
	}
	if risk != domain.RiskHigh {
		t.Errorf("weak regulatory pillar should force High risk, got %s", risk)
	}
}

func TestGetReasons(t *testing.T) {
	proc := NewProcessor()
	result := &domain.ScoringResult{
		Screening: []domain.RuleResult{
			{RuleID: "r1", Outcome: domain.RuleOutcomePass, Reason: "fine"},
			{RuleID: "r2", Outcome: domain.RuleOutcomeFail, Reason: "runway below 12 months"},
			{RuleID: "r3", Outcome: domain.RuleOutcomeReview, Reason: "single asset"},
		},
	}
	for i := range result.PillarScores {
		result.PillarScores[i] = domain.PillarScore{Name: domain.Pillar(i).String(), RawScore: 3}
	}
	result.PillarScores[domain.PillarCapitalIntensity].RawScore = 1.4

	reasons := proc.GetReasons(result)

	if len(reasons) != 3 {
		t.Fatalf("expected 3 reasons, got %v", reasons)
	}
	if reasons[0] != "Capital Intensity is weak (1.40)" {
		t.Errorf("unexpected first reason %q", reasons[0])
	}
}

func TestIsActionable(t *testing.T) {
	if !IsActionable(domain.RecommendationBuy) || IsActionable(domain.RecommendationHold) {
		t.Error("IsActionable mismatch")
	}
}
