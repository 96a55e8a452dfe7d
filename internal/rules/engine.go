// Package rules provides the CEL based screening rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based screening rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new screening rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Flattened company view; see Variables
	env, err := cel.NewEnv(
		cel.Variable("runway_months", cel.DoubleType),
		cel.Variable("cash_position", cel.DoubleType),
		cel.Variable("burn_rate", cel.DoubleType),
		cel.Variable("revenue", cel.DoubleType),
		cel.Variable("program_count", cel.IntType),
		cel.Variable("lead_stage", cel.IntType),
		cel.Variable("market_size", cel.DoubleType),
		cel.Variable("growth_rate", cel.DoubleType),
		cel.Variable("growth_known", cel.BoolType),
		cel.Variable("competitor_count", cel.IntType),
		cel.Variable("trial_count", cel.IntType),
		cel.Variable("approval_count", cel.IntType),
		cel.Variable("designation_count", cel.IntType),
		cel.Variable("therapeutic_area_count", cel.IntType),
		cel.Variable("months_since_funding", cel.DoubleType),
		cel.Variable("sector", cel.StringType),
		cel.Variable("pathway", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// Variables flattens a company into the CEL activation. lead_stage is the
// stage ordinal (0 preclinical to 5 marketed, -1 unknown) and
// months_since_funding is -1 when no funding round is recorded. growth_rate
// is 0 when unknown; growth_known tells that apart from a flat market.
func Variables(data *domain.CompanyData, asOf time.Time) map[string]any {
	growth, growthKnown := data.Market.Growth()

	sinceFunding := -1.0
	if r := data.Financials.LastFundingRound; r != nil && !r.Date.IsZero() {
		sinceFunding = asOf.Sub(r.Date).Hours() / 24 / 30.44
		if sinceFunding < 0 {
			sinceFunding = 0
		}
	}

	return map[string]any{
		"runway_months":          data.Financials.RunwayMonths(),
		"cash_position":          data.Financials.CashPosition,
		"burn_rate":              data.Financials.BurnRate,
		"revenue":                data.Financials.Revenue,
		"program_count":          int64(len(data.Pipeline)),
		"lead_stage":             int64(data.LeadStage().Ordinal()),
		"market_size":            data.Market.AddressableMarket,
		"growth_rate":            growth,
		"growth_known":           growthKnown,
		"competitor_count":       int64(len(data.Market.Competitors)),
		"trial_count":            int64(len(data.Regulatory.ClinicalTrials)),
		"approval_count":         int64(len(data.Regulatory.Approvals)),
		"designation_count":      int64(len(data.Regulatory.Strategy.Designations)),
		"therapeutic_area_count": int64(len(data.Profile.TherapeuticAreas)),
		"months_since_funding":   sinceFunding,
		"sector":                 data.Profile.Sector,
		"pathway":                data.Regulatory.Strategy.Pathway,
	}
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Screen evaluates all loaded rules in parallel. Results are ordered by
// rule ID. A rule that fails to evaluate yields an error outcome rather
// than failing the screen.
func (e *Engine) Screen(ctx context.Context, data *domain.CompanyData, asOf time.Time) ([]domain.RuleResult, error) {
	if data == nil {
		return nil, fmt.Errorf("company data is required")
	}

	rules := e.snapshot()
	if len(rules) == 0 {
		return nil, nil
	}

	activation := Variables(data, asOf)

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, activation, data.ID)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

// evaluateRule evaluates a single rule and returns the result.
func evaluateRule(rule *CompiledRule, activation map[string]any, companyID string) domain.RuleResult {
	result := domain.RuleResult{
		RuleID:    rule.Config.ID,
		RuleName:  rule.Config.Name,
		CompanyID: companyID,
		Weight:    rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Outcome = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	result.Value = toValue(out)
	result.Outcome, result.Reason = matchBand(result.Value, rule.Config.Bands)
	return result
}

// toValue converts a CEL value to a number.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the band for a value. Bands are checked in order with the
// lower limit inclusive and the upper limit exclusive; a nil limit is open.
func matchBand(value float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && value < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && value >= *band.UpperLimit {
			continue
		}
		return band.Outcome, band.Reason
	}

	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces all loaded rules. On a compile error the previous
// set stays in place.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.snapshot()
	out := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		out[i] = r.Config
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
