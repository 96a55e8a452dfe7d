package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaComparables holds the comparable transaction pool. Lists and
// optional structures are stored as JSON text.
const schemaComparables = `
CREATE TABLE IF NOT EXISTS comparables (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    company_name TEXT NOT NULL,
    acquirer TEXT,
    transaction_type TEXT NOT NULL,
    transaction_date TIMESTAMP NOT NULL,
    valuation DOUBLE PRECISION NOT NULL DEFAULT 0,
    valuation_disclosed INTEGER NOT NULL DEFAULT 0,
    stage TEXT NOT NULL,
    therapeutic_areas TEXT NOT NULL,
    program TEXT NOT NULL,
    market_size DOUBLE PRECISION NOT NULL DEFAULT 0,
    financials TEXT,
    deal_structure TEXT,
    data_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    source TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_comparables_tenant ON comparables(tenant_id);
CREATE INDEX IF NOT EXISTS idx_comparables_date ON comparables(tenant_id, transaction_date);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    company_name TEXT NOT NULL,
    recommendation TEXT,
    overall_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    base_valuation DOUBLE PRECISION NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    scoring TEXT,
    comparables TEXT,
    valuation TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_company ON analyses(tenant_id, company_id);
CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(tenant_id, timestamp);
`

const schemaScoringConfigs = `
CREATE TABLE IF NOT EXISTS scoring_configs (
    name TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    description TEXT,
    config TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_scoring_configs_tenant ON scoring_configs(tenant_id);
`

const schemaScreeningRules = `
CREATE TABLE IF NOT EXISTS screening_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_screening_rules_tenant ON screening_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_screening_rules_enabled ON screening_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaComparables,
		schemaAnalyses,
		schemaScoringConfigs,
		schemaScreeningRules,
	}
}
