// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != MemoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// nullableJSON encodes v, or returns NULL for a nil pointer.
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// SaveComparable inserts or replaces a comparable with tenant isolation.
func (r *SQLRepository) SaveComparable(ctx context.Context, tenantID string, c *domain.Comparable) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: comparable id is required", ErrInvalidInput)
	}

	areas, err := json.Marshal(c.TherapeuticAreas)
	if err != nil {
		return fmt.Errorf("failed to encode therapeutic areas: %w", err)
	}
	program, err := json.Marshal(c.Program)
	if err != nil {
		return fmt.Errorf("failed to encode program: %w", err)
	}
	financials, err := nullableJSON(c.Financials)
	if err != nil {
		return fmt.Errorf("failed to encode financials: %w", err)
	}
	deal, err := nullableJSON(c.DealStructure)
	if err != nil {
		return fmt.Errorf("failed to encode deal structure: %w", err)
	}

	disclosed := 0
	if c.ValuationDisclosed {
		disclosed = 1
	}

	query := `
		INSERT INTO comparables (
			id, tenant_id, company_name, acquirer, transaction_type, transaction_date,
			valuation, valuation_disclosed, stage, therapeutic_areas, program,
			market_size, financials, deal_structure, data_confidence, source, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			company_name = excluded.company_name,
			acquirer = excluded.acquirer,
			transaction_type = excluded.transaction_type,
			transaction_date = excluded.transaction_date,
			valuation = excluded.valuation,
			valuation_disclosed = excluded.valuation_disclosed,
			stage = excluded.stage,
			therapeutic_areas = excluded.therapeutic_areas,
			program = excluded.program,
			market_size = excluded.market_size,
			financials = excluded.financials,
			deal_structure = excluded.deal_structure,
			data_confidence = excluded.data_confidence,
			source = excluded.source,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.CompanyName, c.Acquirer, string(c.TransactionType), c.TransactionDate.UTC(),
		c.Valuation, disclosed, string(c.Stage), string(areas), string(program),
		c.MarketSize, financials, deal, c.DataConfidence, c.Source, time.Now().UTC(),
	)
	return err
}

const comparableColumns = `
	id, company_name, acquirer, transaction_type, transaction_date,
	valuation, valuation_disclosed, stage, therapeutic_areas, program,
	market_size, financials, deal_structure, data_confidence, source
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComparable(row rowScanner) (domain.Comparable, error) {
	var c domain.Comparable
	var acquirer, financials, deal, source sql.NullString
	var txType, stage, areas, program string
	var disclosed int

	if err := row.Scan(
		&c.ID, &c.CompanyName, &acquirer, &txType, &c.TransactionDate,
		&c.Valuation, &disclosed, &stage, &areas, &program,
		&c.MarketSize, &financials, &deal, &c.DataConfidence, &source,
	); err != nil {
		return c, err
	}

	c.Acquirer = acquirer.String
	c.Source = source.String
	c.TransactionType = domain.TransactionType(txType)
	c.Stage = domain.DevelopmentStage(stage)
	c.ValuationDisclosed = disclosed == 1
	c.TransactionDate = c.TransactionDate.UTC()

	if err := json.Unmarshal([]byte(areas), &c.TherapeuticAreas); err != nil {
		return c, fmt.Errorf("failed to parse therapeutic areas for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(program), &c.Program); err != nil {
		return c, fmt.Errorf("failed to parse program for %s: %w", c.ID, err)
	}
	if financials.Valid {
		c.Financials = &domain.FinancialSnapshot{}
		if err := json.Unmarshal([]byte(financials.String), c.Financials); err != nil {
			return c, fmt.Errorf("failed to parse financials for %s: %w", c.ID, err)
		}
	}
	if deal.Valid {
		c.DealStructure = &domain.DealStructure{}
		if err := json.Unmarshal([]byte(deal.String), c.DealStructure); err != nil {
			return c, fmt.Errorf("failed to parse deal structure for %s: %w", c.ID, err)
		}
	}

	return c, nil
}

// GetComparable retrieves a comparable by ID with tenant isolation.
func (r *SQLRepository) GetComparable(ctx context.Context, tenantID string, id string) (*domain.Comparable, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + comparableColumns + ` FROM comparables WHERE tenant_id = ? AND id = ?`

	c, err := scanComparable(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComparables returns the tenant's whole pool ordered by ID, which makes
// it usable directly as a comparables source snapshot.
func (r *SQLRepository) ListComparables(ctx context.Context, tenantID string) ([]domain.Comparable, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + comparableColumns + ` FROM comparables WHERE tenant_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pool := []domain.Comparable{}
	for rows.Next() {
		c, err := scanComparable(rows)
		if err != nil {
			return nil, err
		}
		pool = append(pool, c)
	}

	return pool, rows.Err()
}

// DeleteComparable removes a comparable from the pool.
func (r *SQLRepository) DeleteComparable(ctx context.Context, tenantID string, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM comparables WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveAnalysis stores a finished analysis with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, a *domain.Analysis) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}

	scoring, err := nullableJSON(a.Scoring)
	if err != nil {
		return fmt.Errorf("failed to encode scoring: %w", err)
	}
	comparables, err := nullableJSON(a.Comparables)
	if err != nil {
		return fmt.Errorf("failed to encode comparables: %w", err)
	}
	valuation, err := nullableJSON(a.Valuation)
	if err != nil {
		return fmt.Errorf("failed to encode valuation: %w", err)
	}
	metadata, _ := json.Marshal(a.Metadata)

	var recommendation string
	var overall, base float64
	if a.Scoring != nil {
		recommendation = string(a.Scoring.Recommendation)
		overall = a.Scoring.OverallScore
	}
	if a.Valuation != nil {
		base = a.Valuation.BaseValuation
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, company_id, company_name, recommendation,
			overall_score, base_valuation, timestamp,
			scoring, comparables, valuation, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.CompanyID, a.CompanyName, recommendation,
		overall, base, a.Timestamp.UTC(),
		scoring, comparables, valuation, string(metadata),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, id string) (*domain.Analysis, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, company_id, company_name, timestamp,
			   scoring, comparables, valuation, metadata
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.Analysis
	var scoring, comparables, valuation sql.NullString
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&a.ID, &a.TenantID, &a.CompanyID, &a.CompanyName, &a.Timestamp,
		&scoring, &comparables, &valuation, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Timestamp = a.Timestamp.UTC()

	if scoring.Valid {
		a.Scoring = &domain.ScoringResult{}
		if err := json.Unmarshal([]byte(scoring.String), a.Scoring); err != nil {
			return nil, fmt.Errorf("failed to parse scoring for %s: %w", id, err)
		}
	}
	if comparables.Valid {
		a.Comparables = &domain.ComparableSearchResult{}
		if err := json.Unmarshal([]byte(comparables.String), a.Comparables); err != nil {
			return nil, fmt.Errorf("failed to parse comparables for %s: %w", id, err)
		}
	}
	if valuation.Valid {
		a.Valuation = &domain.ValuationResult{}
		if err := json.Unmarshal([]byte(valuation.String), a.Valuation); err != nil {
			return nil, fmt.Errorf("failed to parse valuation for %s: %w", id, err)
		}
	}
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// SaveScoringConfig inserts or replaces a named scoring preset.
func (r *SQLRepository) SaveScoringConfig(ctx context.Context, tenantID string, cfg *domain.ScoringConfig) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("%w: preset name is required", ErrInvalidInput)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode scoring config: %w", err)
	}

	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT INTO scoring_configs (name, tenant_id, description, config, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, tenant_id) DO UPDATE SET
			description = excluded.description,
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		cfg.Name, tenantID, cfg.Description, string(raw), updated.UTC(),
	)
	return err
}

// ListScoringConfigs returns the tenant's presets ordered by name.
func (r *SQLRepository) ListScoringConfigs(ctx context.Context, tenantID string) ([]*domain.ScoringConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT name, config FROM scoring_configs WHERE tenant_id = ? ORDER BY name`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ScoringConfig
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}

		var cfg domain.ScoringConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse scoring config %s: %w", name, err)
		}
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveRuleConfig stores a screening rule with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO screening_rules (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a screening rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM screening_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var description sql.NullString
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListRuleConfigs retrieves all enabled screening rules for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM screening_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, version
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
