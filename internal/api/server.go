package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins)) // CORS for browser clients
	router.Use(RecoverMiddleware)                  // Recover from panics
	router.Use(TracingMiddleware)                  // OpenTelemetry tracing
	router.Use(LoggingMiddleware)                  // Request logging
	router.Use(middleware.RealIP)                  // Extract real IP
	router.Use(middleware.Compress(5))             // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware(cfg.Tenants))

		// Scoring and analysis
		r.Post("/evaluate", handler.Evaluate)
		r.Post("/analyze", handler.Analyze)
		r.Post("/submit", handler.Submit)
		r.Post("/validate", handler.Validate)
		r.Post("/reweight", handler.Reweight)

		// Score history
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Comparable pool
		r.Get("/comparables", handler.ListComparables)
		r.Post("/comparables", handler.CreateComparable)
		r.Post("/comparables/search", handler.SearchComparables)
		r.Post("/comparables/refresh", handler.RefreshComparables)

		// Scoring presets
		r.Get("/presets", handler.ListPresets)
		r.Put("/presets", handler.PutPreset)
		r.Get("/presets/{name}", handler.GetPreset)

		// Screening rules
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
