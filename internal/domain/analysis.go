package domain

import (
	"context"
	"time"
)

// Analysis is the full result of one company run: scoring, comparables and valuation.
type Analysis struct {
	ID          string                  `json:"id"`
	TenantID    string                  `json:"tenantId"`
	CompanyID   string                  `json:"companyId"`
	CompanyName string                  `json:"companyName"`
	Scoring     *ScoringResult          `json:"scoring"`
	Comparables *ComparableSearchResult `json:"comparables,omitempty"`
	Valuation   *ValuationResult        `json:"valuation,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
	Metadata    AnalysisMetadata        `json:"metadata"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID       string `json:"traceId"`
	SearchMs      int64  `json:"searchMs"`
	ScoringMs     int64  `json:"scoringMs"`
	ValuationMs   int64  `json:"valuationMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// HistorySink receives finished analyses. The core never reads it back.
type HistorySink interface {
	SaveAnalysis(ctx context.Context, tenantID string, a *Analysis) error
}
