package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/comparables"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/presets"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// ComparableSearch is a comparable search whose cached results can be
// retired after the pool changes.
type ComparableSearch interface {
	comparables.Searcher
	Invalidate(ctx context.Context, tenantID string) (int64, error)
}

// Deps are the collaborators served by the API. Repo, Cache and Bus are
// optional; endpoints that need a missing one answer 503.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Scorer   *scoring.Engine
	Analyzer *pipeline.Analyzer
	Search   ComparableSearch
	Rules    *rules.Engine
	Presets  *presets.Store

	Version       string
	DefaultPreset string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo          domain.Repository
	cache         domain.Cache
	bus           domain.EventBus
	scorer        *scoring.Engine
	analyzer      *pipeline.Analyzer
	search        ComparableSearch
	rules         *rules.Engine
	presets       *presets.Store
	version       string
	defaultPreset string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.DefaultPreset == "" {
		d.DefaultPreset = domain.PresetDefault
	}
	if d.Presets == nil {
		d.Presets = presets.NewStore()
	}
	return &Handler{
		repo:          d.Repo,
		cache:         d.Cache,
		bus:           d.Bus,
		scorer:        d.Scorer,
		analyzer:      d.Analyzer,
		search:        d.Search,
		rules:         d.Rules,
		presets:       d.Presets,
		version:       d.Version,
		defaultPreset: d.DefaultPreset,
	}
}

// EvaluateRequest is the request body for POST /evaluate, /analyze and /submit.
// Config replaces the preset named by ?preset= when present; Market
// overrides the market context of either.
type EvaluateRequest struct {
	Company  *domain.CompanyData        `json:"company"`
	Config   *domain.ScoringConfig      `json:"config,omitempty"`
	Market   *domain.MarketContext      `json:"market,omitempty"`
	Criteria *domain.ComparableCriteria `json:"criteria,omitempty"`
}

// ResponseMetadata is attached to evaluation responses.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	Preset  string `json:"preset"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	Result   *domain.ScoringResult `json:"result"`
	Metadata ResponseMetadata      `json:"metadata"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	Analysis *domain.Analysis `json:"analysis"`
	Metadata ResponseMetadata `json:"metadata"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req, ok := decodeEvaluateRequest(w, r)
	if !ok {
		return
	}

	cfg, warnings, err := h.resolveConfig(tenantID, r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.scorer.EvaluateCompany(ctx, req.Company, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	result.Warnings = append(result.Warnings, warnings...)

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Result:   result,
		Metadata: h.metadata(ctx, cfg.Name, start),
	})
}

// Analyze handles POST /analyze: scoring, comparables and valuation.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req, ok := decodeEvaluateRequest(w, r)
	if !ok {
		return
	}

	cfg, warnings, err := h.resolveConfig(tenantID, r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	var criteria domain.ComparableCriteria
	if req.Criteria != nil {
		criteria = *req.Criteria
	}

	analysis, err := h.analyzer.AnalyzeWithCriteria(ctx, tenantID, req.Company, cfg, criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	analysis.Scoring.Warnings = append(analysis.Scoring.Warnings, warnings...)

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Analysis: analysis,
		Metadata: h.metadata(ctx, cfg.Name, start),
	})
}

// Submit handles POST /submit: queues a company for the async worker.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req, ok := decodeEvaluateRequest(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("preset")
	if name == "" {
		name = h.defaultPreset
	}
	if _, err := h.presets.Get(tenantID, name); err != nil {
		writeError(w, err)
		return
	}

	if err := worker.Submit(ctx, h.bus, tenantID, req.Company, name); err != nil {
		slog.Error("failed to submit company", "company_id", req.Company.ID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "submitted",
		"companyId": req.Company.ID,
		"preset":    name,
	})
}

// Validate handles POST /validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var company domain.CompanyData
	if err := json.NewDecoder(r.Body).Decode(&company); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result := h.scorer.ValidateInputData(&company)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validation":    result,
		"missingFields": scoring.MissingFields(&company),
	})
}

// ReweightRequest is the request body for POST /reweight.
type ReweightRequest struct {
	PillarScores domain.PillarScores `json:"pillarScores"`
	Weights      domain.WeightConfig `json:"weights"`
}

// Reweight handles POST /reweight: recomputes the aggregate of supplied
// pillar scores under new weights without re-scoring.
func (h *Handler) Reweight(w http.ResponseWriter, r *http.Request) {
	var req ReweightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.scorer.Reweight(req.PillarScores, req.Weights)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// ReadyResponse reports component checks and delivery counters.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
	Cache  *CacheStats       `json:"cache,omitempty"`
	Bus    *domain.BusStats  `json:"bus,omitempty"`
}

// CacheStats is the local cache occupancy.
type CacheStats struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

// localCache is implemented by caches with an in-process tier.
type localCache interface {
	Stats() (size int, capacity int)
}

// Ready answers 200 when every configured component responds and 503
// otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := ReadyResponse{Ready: true, Checks: map[string]string{}}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			resp.Ready = false
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
		if lc, ok := h.cache.(localCache); ok {
			size, capacity := lc.Stats()
			resp.Cache = &CacheStats{Entries: size, Capacity: capacity}
		}
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
		stats := h.bus.Stats()
		resp.Bus = &stats
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetAnalysis retrieves a stored analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get analysis", "id", id, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// ============================================================================
// COMPARABLE HANDLERS
// ============================================================================

// SearchRequest is the request body for POST /comparables/search. The target
// is derived from Company when Target is absent.
type SearchRequest struct {
	Company  *domain.CompanyData       `json:"company,omitempty"`
	Target   *domain.TargetProfile     `json:"target,omitempty"`
	Criteria domain.ComparableCriteria `json:"criteria"`
}

// SearchComparables handles POST /comparables/search.
func (h *Handler) SearchComparables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "comparable search not available",
		})
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var target domain.TargetProfile
	switch {
	case req.Target != nil:
		target = *req.Target
	case req.Company != nil:
		target = domain.ProfileFromCompany(req.Company)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "company or target is required",
		})
		return
	}

	result, err := h.search.FindComparables(ctx, tenantID, target, req.Criteria)
	if err != nil {
		slog.Error("comparable search failed", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListComparables returns the tenant's comparable pool.
func (h *Handler) ListComparables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pool, err := h.repo.ListComparables(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list comparables", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"comparables": pool,
		"count":       len(pool),
	})
}

// CreateComparable adds or replaces a comparable and refreshes the search
// cache.
func (h *Handler) CreateComparable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var c domain.Comparable
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := validateComparable(&c); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.SaveComparable(ctx, tenantID, &c); err != nil {
		slog.Error("failed to save comparable", "id", c.ID, "error", err)
		writeError(w, err)
		return
	}

	event, err := h.refreshPool(ctx, tenantID)
	if err != nil {
		slog.Error("failed to refresh comparable pool", "error", err)
	}

	slog.Info("comparable saved", "id", c.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"comparable": c,
		"generation": event.Generation,
	})
}

// RefreshComparables handles POST /comparables/refresh: retires cached
// searches after the pool was changed outside the API.
func (h *Handler) RefreshComparables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	event, err := h.refreshPool(ctx, tenantID)
	if err != nil {
		slog.Error("failed to refresh comparable pool", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// refreshPool bumps the search cache generation and announces the refresh.
func (h *Handler) refreshPool(ctx context.Context, tenantID string) (bus.PoolRefreshed, error) {
	event := bus.PoolRefreshed{RefreshedAt: time.Now().UTC()}

	if h.repo != nil {
		pool, err := h.repo.ListComparables(ctx, tenantID)
		if err != nil {
			return event, err
		}
		event.Size = len(pool)
	}

	if h.search != nil {
		gen, err := h.search.Invalidate(ctx, tenantID)
		if err != nil {
			return event, err
		}
		event.Generation = gen
	}

	if h.bus != nil {
		if err := bus.PublishEvent(ctx, h.bus, tenantID, domain.TopicPoolRefreshed, event); err != nil {
			slog.Error("failed to publish pool refresh", "error", err)
		}
	}
	return event, nil
}

func validateComparable(c *domain.Comparable) error {
	switch {
	case c.ID == "":
		return &domain.InputError{Field: "id", Reason: "comparable id is required"}
	case c.Valuation < 0:
		return &domain.InputError{Field: "valuation", Reason: "valuation must not be negative"}
	case c.DataConfidence < 0 || c.DataConfidence > 1:
		return &domain.InputError{Field: "dataConfidence", Reason: "data confidence must be in [0,1]"}
	}
	return nil
}

// ============================================================================
// PRESET HANDLERS
// ============================================================================

// ListPresets returns the presets visible to the tenant.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	list := h.presets.List(GetTenantID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": list,
		"count":   len(list),
	})
}

// GetPreset returns one preset by name.
func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.presets.Get(GetTenantID(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutPreset validates, normalizes and stores a tenant preset.
func (h *Handler) PutPreset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var cfg domain.ScoringConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	stored, warnings, err := h.presets.Put(tenantID, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScoringConfig(ctx, tenantID, &stored); err != nil {
			slog.Error("failed to save preset", "name", stored.Name, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save preset",
			})
			return
		}
	}

	slog.Info("preset saved", "name", stored.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"preset":   stored,
		"warnings": warnings,
	})
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// ListRules returns all loaded screening rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a screening rule, loads it and saves it globally.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.rules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save rule config", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if rule.Enabled {
		if err := h.rules.LoadRule(rule); err != nil {
			writeError(w, err)
			return
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// ReloadRules replaces the loaded rules with the ones in the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", h.rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.rules.RulesCount(),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func decodeEvaluateRequest(w http.ResponseWriter, r *http.Request) (*EvaluateRequest, bool) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	if req.Company == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "company is required",
		})
		return nil, false
	}
	return &req, true
}

// resolveConfig picks the inline config or the named preset and applies the
// market override. Inline weights are normalized; the normalization
// warnings are returned.
func (h *Handler) resolveConfig(tenantID string, r *http.Request, req *EvaluateRequest) (domain.ScoringConfig, []string, error) {
	var cfg domain.ScoringConfig
	var warnings []string

	if req.Config != nil {
		cfg = *req.Config
		if cfg.Name == "" {
			cfg.Name = "custom"
		}
		weights, w, err := cfg.Weights.ValidateAndNormalize()
		if err != nil {
			return cfg, nil, err
		}
		cfg.Weights = weights
		warnings = w
	} else {
		name := r.URL.Query().Get("preset")
		if name == "" {
			name = h.defaultPreset
		}
		preset, err := h.presets.Get(tenantID, name)
		if err != nil {
			return cfg, nil, err
		}
		cfg = preset
	}

	if req.Market != nil {
		cfg.Market = *req.Market
	}
	return cfg, warnings, nil
}

func (h *Handler) metadata(ctx context.Context, preset string, start time.Time) ResponseMetadata {
	return ResponseMetadata{
		TraceID: GetTraceID(ctx),
		Preset:  preset,
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
