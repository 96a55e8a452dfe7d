// Kestrel - Biotech scoring and comparables valuation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/comparables"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/presets"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/valuation"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnv(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"default_preset", cfg.Engine.DefaultPreset,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize screening rules
	ruleEngine, err := rules.NewEngine(cfg.Engine.RuleWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Scoring presets: built-ins plus whatever tenants stored
	presetStore := presets.NewStore()
	tenantIDs := cfg.Server.Tenants
	for _, tenantID := range tenantIDs {
		if err := presetStore.Load(ctx, repo, tenantID); err != nil {
			slog.Warn("failed to load presets", "tenant_id", tenantID, "error", err)
		}
	}
	if path := os.Getenv("KESTREL_PRESETS_FILE"); path != "" {
		for _, tenantID := range tenantIDs {
			if err := presetStore.LoadFile(tenantID, path); err != nil {
				slog.Error("failed to load preset file", "path", path, "error", err)
				os.Exit(1)
			}
		}
	}
	if _, err := presetStore.Get("", cfg.Engine.DefaultPreset); err != nil {
		slog.Error("unknown default preset", "preset", cfg.Engine.DefaultPreset)
		os.Exit(1)
	}

	// Comparable search over the stored pool, cached per pool generation
	matcher := comparables.NewMatcher(repo,
		comparables.WithHorizon(cfg.Engine.TimeHorizonYears),
		comparables.WithMaxResults(cfg.Engine.MaxResults),
	)
	search := comparables.NewCachedMatcher(matcher, cacheImpl, cfg.Engine.SearchCacheTTL)

	scorer := scoring.NewEngine(
		scoring.WithScreener(ruleEngine),
		scoring.WithWorkers(cfg.Engine.PillarWorkers),
	)
	valuer := valuation.NewEngine(valuation.WithTopK(cfg.Engine.TopK))

	analyzer := pipeline.NewAnalyzer(scorer, valuer,
		pipeline.WithSearcher(search),
		pipeline.WithHistory(repo),
		pipeline.WithEventBus(busImpl),
	)
	slog.Info("analyzer initialized",
		"top_k", valuer.TopK(),
		"search_cache_ttl", cfg.Engine.SearchCacheTTL.String(),
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, analyzer, presetStore, cfg.Engine.DefaultPreset)

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:          repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		Scorer:        scorer,
		Analyzer:      analyzer,
		Search:        search,
		Rules:         ruleEngine,
		Presets:       presetStore,
		Version:       Version,
		DefaultPreset: cfg.Engine.DefaultPreset,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnv overrides configuration from KESTREL_* variables.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, err := strconv.Atoi(os.Getenv("KESTREL_PORT")); err == nil && v > 0 {
		cfg.Server.Port = v
	}
	cfg.Server.Tenants = tenantsFromEnv()
	if v := os.Getenv("KESTREL_CORS_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_DEFAULT_PRESET"); v != "" {
		cfg.Engine.DefaultPreset = v
	}
	if v, err := strconv.Atoi(os.Getenv("KESTREL_TOP_K")); err == nil && v > 0 {
		cfg.Engine.TopK = v
	}
	if v, err := time.ParseDuration(os.Getenv("KESTREL_SEARCH_CACHE_TTL")); err == nil {
		cfg.Engine.SearchCacheTTL = v
	}
}

// tenantsFromEnv parses the comma-separated KESTREL_TENANTS list.
func tenantsFromEnv() []string {
	return splitList(os.Getenv("KESTREL_TENANTS"))
}

func splitList(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// loadRulesFromDatabase loads the global screening rules. An empty rule
// table is seeded with the default rules.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return engine.LoadRules(rules.DefaultRules())
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	defaults := rules.DefaultRules()
	for _, rule := range defaults {
		rule.TenantID = api.GlobalTenantID
		if err := repo.SaveRuleConfig(ctx, api.GlobalTenantID, rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	slog.Info("seeded default screening rules", "count", len(defaults))
	return engine.LoadRules(defaults)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL")
	fmt.Println("  Biotech scoring and comparables valuation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate             - Score a company")
	fmt.Println("    POST /analyze              - Score, match comparables and value")
	fmt.Println("    POST /submit               - Queue a company for async analysis")
	fmt.Println("    GET  /analyses/{id}        - Get analysis by ID")
	fmt.Println("    POST /reweight             - Re-weight stored pillar scores")
	fmt.Println("    POST /comparables/search   - Search the comparable pool")
	fmt.Println("    GET  /presets              - List scoring presets")
	fmt.Println("    GET  /rules                - List screening rules")
	fmt.Println("    POST /rules/reload         - Hot-reload rules from database")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
