package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testCompany() *domain.CompanyData {
	return &domain.CompanyData{
		ID:   "co-001",
		Name: "Acme Therapeutics",
		Profile: domain.CompanyProfile{
			Sector:           "biotech",
			TherapeuticAreas: []string{"oncology", "immunology"},
			Stage:            domain.StagePhaseII,
		},
		Pipeline: []domain.Program{
			{Name: "ACM-101", Stage: domain.StagePhaseII},
			{Name: "ACM-201", Stage: domain.StagePreclinical},
		},
		Financials: domain.Financials{
			CashPosition: 120e6,
			BurnRate:     10e6,
			LastFundingRound: &domain.FundingRound{
				Type:   "Series B",
				Amount: 80e6,
				Date:   asOf.AddDate(0, -6, 0),
			},
		},
		Market: domain.MarketData{
			AddressableMarket: 4e9,
			Competitors:       []domain.Competitor{{Name: "Rival"}},
		},
		Regulatory: domain.RegulatoryData{
			Strategy: domain.RegulatoryStrategy{
				Pathway:      "BLA",
				Designations: []string{"orphan", "fast_track"},
			},
		},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "runway_months < 12.0",
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule *domain.RuleConfig
	}{
		{"Syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"UnknownVariable", &domain.RuleConfig{ID: "bad", Expression: "amount > 100.0"}},
		{"StringResult", &domain.RuleConfig{ID: "bad", Expression: "sector"}},
		{"MissingID", &domain.RuleConfig{Expression: "program_count > 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.rule); err == nil {
				t.Error("expected error")
			}
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not load, got %d", engine.RulesCount())
	}
}

func TestVariables(t *testing.T) {
	vars := Variables(testCompany(), asOf)

	if vars["runway_months"].(float64) != 12 {
		t.Errorf("expected runway 12, got %v", vars["runway_months"])
	}
	if vars["program_count"].(int64) != 2 {
		t.Errorf("expected 2 programs, got %v", vars["program_count"])
	}
	if vars["lead_stage"].(int64) != 2 {
		t.Errorf("expected lead stage 2, got %v", vars["lead_stage"])
	}
	if vars["designation_count"].(int64) != 2 {
		t.Errorf("expected 2 designations, got %v", vars["designation_count"])
	}
	if m := vars["months_since_funding"].(float64); m < 5.9 || m > 6.1 {
		t.Errorf("expected about 6 months since funding, got %.2f", m)
	}

	c := testCompany()
	c.Financials.LastFundingRound = nil
	if m := Variables(c, asOf)["months_since_funding"].(float64); m != -1 {
		t.Errorf("expected -1 without funding history, got %.2f", m)
	}
}

func TestScreen(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("failed to load default rules: %v", err)
	}

	ctx := context.Background()

	t.Run("Outcomes", func(t *testing.T) {
		results, err := engine.Screen(ctx, testCompany(), asOf)
		if err != nil {
			t.Fatalf("screen failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}

		want := map[string]string{
			"funding-001":  domain.RuleOutcomePass,
			"pipeline-001": domain.RuleOutcomePass,
			"runway-001":   domain.RuleOutcomeReview,
		}
		for _, r := range results {
			if r.Outcome != want[r.RuleID] {
				t.Errorf("%s: expected %s, got %s (%s)", r.RuleID, want[r.RuleID], r.Outcome, r.Reason)
			}
			if r.CompanyID != "co-001" {
				t.Errorf("%s: expected company id, got %q", r.RuleID, r.CompanyID)
			}
		}
	})

	t.Run("OrderedByRuleID", func(t *testing.T) {
		results, _ := engine.Screen(ctx, testCompany(), asOf)
		for i := 1; i < len(results); i++ {
			if results[i-1].RuleID > results[i].RuleID {
				t.Errorf("results out of order: %s before %s", results[i-1].RuleID, results[i].RuleID)
			}
		}
	})

	t.Run("DistressedCompany", func(t *testing.T) {
		c := testCompany()
		c.Pipeline = nil
		c.Financials.CashPosition = 20e6
		c.Financials.LastFundingRound = nil

		results, _ := engine.Screen(ctx, c, asOf)

		for _, r := range results {
			if !r.Flagged() {
				t.Errorf("%s: expected a flagged outcome, got %s", r.RuleID, r.Outcome)
			}
		}
	})

	t.Run("NilCompany", func(t *testing.T) {
		if _, err := engine.Screen(ctx, nil, asOf); err == nil {
			t.Error("expected error for nil company")
		}
	})
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "late-stage",
		Expression: "lead_stage >= 3",
		Enabled:    true,
	})

	ctx := context.Background()
	c := testCompany()

	results, _ := engine.Screen(ctx, c, asOf)
	if results[0].Value != 0.0 {
		t.Errorf("expected 0.0 for phase 2 lead, got %.2f", results[0].Value)
	}

	c.Pipeline[0].Stage = domain.StagePhaseIII
	results, _ = engine.Screen(ctx, c, asOf)
	if results[0].Value != 1.0 {
		t.Errorf("expected 1.0 for phase 3 lead, got %.2f", results[0].Value)
	}
}

func TestMatchBand(t *testing.T) {
	zero, one := 0.0, 1.0
	bands := []domain.RuleBand{
		{LowerLimit: &zero, UpperLimit: &one, Outcome: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: &one, Outcome: domain.RuleOutcomeFail, Reason: "high"},
	}

	tests := []struct {
		value   float64
		outcome string
	}{
		{0, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomePass},
		{1, domain.RuleOutcomeFail},
		{7, domain.RuleOutcomeFail},
		{-1, domain.RuleOutcomePass}, // below every band
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.value), func(t *testing.T) {
			outcome, _ := matchBand(tt.value, bands)
			if outcome != tt.outcome {
				t.Errorf("expected %s, got %s", tt.outcome, outcome)
			}
		})
	}
}

func TestEvaluationError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "div",
		Expression: "program_count / (trial_count - trial_count)",
		Enabled:    true,
	})

	results, err := engine.Screen(context.Background(), testCompany(), asOf)
	if err != nil {
		t.Fatalf("rule errors must not fail the screen: %v", err)
	}
	if results[0].Outcome != domain.RuleOutcomeError {
		t.Errorf("expected error outcome, got %s", results[0].Outcome)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Name:       fmt.Sprintf("Rule %d", i),
			Expression: "market_size > 0.0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	results, err := engine.Screen(context.Background(), testCompany(), asOf)
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Value != 1.0 {
			t.Errorf("rule %d: expected 1.0, got %.2f", i, r.Value)
		}
		if r.RuleID != fmt.Sprintf("rule-%02d", i) {
			t.Errorf("expected rule-%02d at %d, got %s", i, i, r.RuleID)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRules(DefaultRules())

	t.Run("InvalidKeepsPrevious", func(t *testing.T) {
		err := engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "nope(", Enabled: true}})
		if err == nil {
			t.Fatal("expected error")
		}
		if engine.RulesCount() != 3 {
			t.Errorf("expected previous 3 rules, got %d", engine.RulesCount())
		}
	})

	t.Run("SkipsDisabled", func(t *testing.T) {
		err := engine.ReloadRules([]*domain.RuleConfig{
			{ID: "a", Expression: "program_count > 0", Enabled: true},
			{ID: "b", Expression: "program_count > 1", Enabled: false},
		})
		if err != nil {
			t.Fatal(err)
		}
		loaded := engine.GetLoadedRules()
		if len(loaded) != 1 || loaded[0].ID != "a" {
			t.Errorf("expected only rule a, got %d rules", len(loaded))
		}
	})
}
