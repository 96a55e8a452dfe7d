// Package domain defines the core records and collaborator interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Comparable pool
	SaveComparable(ctx context.Context, tenantID string, c *Comparable) error
	GetComparable(ctx context.Context, tenantID string, id string) (*Comparable, error)
	ListComparables(ctx context.Context, tenantID string) ([]Comparable, error)
	DeleteComparable(ctx context.Context, tenantID string, id string) error

	// Score history (write-only from the engine's point of view)
	SaveAnalysis(ctx context.Context, tenantID string, a *Analysis) error
	GetAnalysis(ctx context.Context, tenantID string, id string) (*Analysis, error)

	// Scoring presets
	SaveScoringConfig(ctx context.Context, tenantID string, cfg *ScoringConfig) error
	ListScoringConfigs(ctx context.Context, tenantID string) ([]*ScoringConfig, error)

	// Screening rules
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
