package domain

import (
	"context"
	"time"
)

// TransactionType is the kind of historical deal.
type TransactionType string

const (
	TransactionAcquisition TransactionType = "acquisition"
	TransactionLicensing   TransactionType = "licensing"
	TransactionPartnership TransactionType = "partnership"
	TransactionIPO         TransactionType = "ipo"
	TransactionMerger      TransactionType = "merger"
)

// Comparable is a historical BD/IPO transaction used as a valuation benchmark.
// Read-only to the core; owned by the comparables database.
type Comparable struct {
	ID                 string             `json:"id" yaml:"id"`
	CompanyName        string             `json:"companyName" yaml:"companyName"`
	Acquirer           string             `json:"acquirer,omitempty" yaml:"acquirer,omitempty"`
	TransactionType    TransactionType    `json:"transactionType" yaml:"transactionType"`
	TransactionDate    time.Time          `json:"transactionDate" yaml:"transactionDate"`
	Valuation          float64            `json:"valuation" yaml:"valuation"`
	ValuationDisclosed bool               `json:"valuationDisclosed" yaml:"valuationDisclosed"`
	Stage              DevelopmentStage   `json:"stage" yaml:"stage"`
	TherapeuticAreas   []string           `json:"therapeuticAreas" yaml:"therapeuticAreas"`
	Program            ComparableProgram  `json:"program" yaml:"program"`
	MarketSize         float64            `json:"marketSize" yaml:"marketSize"`
	Financials         *FinancialSnapshot `json:"financials,omitempty" yaml:"financials,omitempty"`
	DealStructure      *DealStructure     `json:"dealStructure,omitempty" yaml:"dealStructure,omitempty"`
	DataConfidence     float64            `json:"dataConfidence" yaml:"dataConfidence"`
	Source             string             `json:"source,omitempty" yaml:"source,omitempty"`
}

// ComparableProgram summarizes the lead asset of a comparable.
type ComparableProgram struct {
	Name                string              `json:"name,omitempty" yaml:"name,omitempty"`
	Indication          string              `json:"indication,omitempty" yaml:"indication,omitempty"`
	Mechanism           string              `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
	CompetitivePosition CompetitivePosition `json:"competitivePosition,omitempty" yaml:"competitivePosition,omitempty"`
}

// FinancialSnapshot is the financial state at transaction time.
type FinancialSnapshot struct {
	CashPosition float64 `json:"cashPosition" yaml:"cashPosition"`
	BurnRate     float64 `json:"burnRate" yaml:"burnRate"`
	RunwayMonths float64 `json:"runwayMonths" yaml:"runwayMonths"`
}

// DealStructure holds optional deal terms.
type DealStructure struct {
	Upfront        float64 `json:"upfront" yaml:"upfront"`
	Milestones     float64 `json:"milestones" yaml:"milestones"`
	RoyaltyRatePct float64 `json:"royaltyRatePct,omitempty" yaml:"royaltyRatePct,omitempty"`
	EquityStakePct float64 `json:"equityStakePct,omitempty" yaml:"equityStakePct,omitempty"`
}

// ComparableCriteria are optional pre-filter bounds. Zero values mean "no bound".
type ComparableCriteria struct {
	TherapeuticAreas []string           `json:"therapeuticAreas,omitempty"`
	Stages           []DevelopmentStage `json:"stages,omitempty"`
	TransactionTypes []TransactionType  `json:"transactionTypes,omitempty"`
	MinMarketSize    float64            `json:"minMarketSize,omitempty"`
	MaxMarketSize    float64            `json:"maxMarketSize,omitempty"`
	MinValuation     float64            `json:"minValuation,omitempty"`
	MaxValuation     float64            `json:"maxValuation,omitempty"`
	MaxAgeYears      float64            `json:"maxAgeYears,omitempty"`
	MinConfidence    float64            `json:"minConfidence,omitempty"`
	MinSimilarity    float64            `json:"minSimilarity,omitempty"`
	MaxResults       int                `json:"maxResults,omitempty"`

	// AsOf pins the reference date for age and time relevance.
	AsOf time.Time `json:"asOf,omitempty"`
}

// TargetProfile is the subset of CompanyData the matcher compares against.
type TargetProfile struct {
	CompanyID           string              `json:"companyId,omitempty"`
	TherapeuticAreas    []string            `json:"therapeuticAreas"`
	Stage               DevelopmentStage    `json:"stage"`
	MarketSize          float64             `json:"marketSize"`
	Mechanism           string              `json:"mechanism"`
	CompetitivePosition CompetitivePosition `json:"competitivePosition"`
	Financials          *FinancialSnapshot  `json:"financials,omitempty"`
}

// ProfileFromCompany derives the matcher profile from company data.
func ProfileFromCompany(c *CompanyData) TargetProfile {
	p := TargetProfile{
		CompanyID:        c.ID,
		TherapeuticAreas: c.Profile.TherapeuticAreas,
		Stage:            c.LeadStage(),
		MarketSize:       c.Market.AddressableMarket,
	}
	if lead, ok := c.LeadProgram(); ok {
		p.Mechanism = lead.Mechanism
		p.CompetitivePosition = lead.CompetitivePosition
	}
	if c.Financials.CashPosition > 0 || c.Financials.BurnRate > 0 {
		p.Financials = &FinancialSnapshot{
			CashPosition: c.Financials.CashPosition,
			BurnRate:     c.Financials.BurnRate,
			RunwayMonths: c.Financials.RunwayMonths(),
		}
	}
	return p
}

// MatchingFactors are the seven similarity sub-scores, each in [0,1].
type MatchingFactors struct {
	TherapeuticArea     float64 `json:"therapeuticArea"`
	Stage               float64 `json:"stage"`
	MarketSize          float64 `json:"marketSize"`
	Mechanism           float64 `json:"mechanism"`
	CompetitivePosition float64 `json:"competitivePosition"`
	TimeRelevance       float64 `json:"timeRelevance"`
	Financial           float64 `json:"financial"`
}

// ComparableMatch is a scored candidate.
type ComparableMatch struct {
	Comparable    Comparable      `json:"comparable"`
	Factors       MatchingFactors `json:"factors"`
	Similarity    float64         `json:"similarity"`
	Confidence    float64         `json:"confidence"`
	WeightedScore float64         `json:"weightedScore"`
}

// ComparableSearchResult is the ranked output of a search.
type ComparableSearchResult struct {
	Matches           []ComparableMatch  `json:"matches"`
	TotalFound        int                `json:"totalFound"`
	PoolSize          int                `json:"poolSize"`
	AverageConfidence float64            `json:"averageConfidence"`
	Criteria          ComparableCriteria `json:"criteria"`
	Warnings          []string           `json:"warnings,omitempty"`
	SearchedAt        time.Time          `json:"searchedAt"`
}

// ComparableSource supplies the comparable pool. Implementations return a
// snapshot the caller may read without locking.
type ComparableSource interface {
	ListComparables(ctx context.Context, tenantID string) ([]Comparable, error)
}
