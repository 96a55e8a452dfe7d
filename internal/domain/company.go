package domain

import (
	"strings"
	"time"
)

// CompanyData is the input record for an evaluation.
// The core treats it as immutable; only the ingestion layer mutates it.
type CompanyData struct {
	// Identity
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Ticker   string `json:"ticker,omitempty" yaml:"ticker,omitempty"`

	Profile    CompanyProfile `json:"profile" yaml:"profile"`
	Pipeline   []Program      `json:"pipeline" yaml:"pipeline"`
	Financials Financials     `json:"financials" yaml:"financials"`
	Market     MarketData     `json:"market" yaml:"market"`
	Regulatory RegulatoryData `json:"regulatory" yaml:"regulatory"`
}

// CompanyProfile holds the basic profile of a company.
type CompanyProfile struct {
	Sector           string           `json:"sector" yaml:"sector"`
	TherapeuticAreas []string         `json:"therapeuticAreas" yaml:"therapeuticAreas"`
	Stage            DevelopmentStage `json:"stage" yaml:"stage"`
	FoundedYear      int              `json:"foundedYear,omitempty" yaml:"foundedYear,omitempty"`
	Headquarters     string           `json:"headquarters,omitempty" yaml:"headquarters,omitempty"`
	Employees        int              `json:"employees,omitempty" yaml:"employees,omitempty"`
}

// Program is one pipeline asset.
type Program struct {
	Name                string              `json:"name" yaml:"name"`
	Indication          string              `json:"indication" yaml:"indication"`
	Mechanism           string              `json:"mechanism" yaml:"mechanism"`
	Stage               DevelopmentStage    `json:"stage" yaml:"stage"`
	CompetitivePosition CompetitivePosition `json:"competitivePosition,omitempty" yaml:"competitivePosition,omitempty"`
	Differentiators     []string            `json:"differentiators,omitempty" yaml:"differentiators,omitempty"`
	Risks               []string            `json:"risks,omitempty" yaml:"risks,omitempty"`
	Milestones          []Milestone         `json:"milestones,omitempty" yaml:"milestones,omitempty"`
}

// Milestone is a timeline event for a program.
type Milestone struct {
	Name      string    `json:"name" yaml:"name"`
	Date      time.Time `json:"date" yaml:"date"`
	Completed bool      `json:"completed" yaml:"completed"`
}

// Financials is the financial snapshot of a company.
// Amounts are USD; BurnRate is monthly.
type Financials struct {
	CashPosition     float64       `json:"cashPosition" yaml:"cashPosition"`
	BurnRate         float64       `json:"burnRate" yaml:"burnRate"`
	Revenue          float64       `json:"revenue,omitempty" yaml:"revenue,omitempty"`
	LastFundingRound *FundingRound `json:"lastFundingRound,omitempty" yaml:"lastFundingRound,omitempty"`
}

// RunwayMonths returns cash / monthly burn, or 0 when burn is unknown.
func (f Financials) RunwayMonths() float64 {
	if f.BurnRate <= 0 || f.CashPosition <= 0 {
		return 0
	}
	return f.CashPosition / f.BurnRate
}

// FundingRound describes the most recent financing.
type FundingRound struct {
	Type      string    `json:"type" yaml:"type"`
	Amount    float64   `json:"amount" yaml:"amount"`
	Date      time.Time `json:"date" yaml:"date"`
	Investors []string  `json:"investors,omitempty" yaml:"investors,omitempty"`
}

// MarketData describes the addressable market.
type MarketData struct {
	AddressableMarket float64      `json:"addressableMarket" yaml:"addressableMarket"`
	GrowthRate        *float64     `json:"growthRate,omitempty" yaml:"growthRate,omitempty"` // annual, 0.12 = 12%; nil when unknown
	Competitors       []Competitor `json:"competitors,omitempty" yaml:"competitors,omitempty"`
	Dynamics          []string     `json:"dynamics,omitempty" yaml:"dynamics,omitempty"`
}

// Growth returns the annual growth rate and whether it is known. A flat
// market reports 0 with ok set.
func (m MarketData) Growth() (rate float64, ok bool) {
	if m.GrowthRate == nil {
		return 0, false
	}
	return *m.GrowthRate, true
}

// Competitor is one competing company or asset.
type Competitor struct {
	Name        string           `json:"name" yaml:"name"`
	Stage       DevelopmentStage `json:"stage,omitempty" yaml:"stage,omitempty"`
	MarketShare float64          `json:"marketShare,omitempty" yaml:"marketShare,omitempty"`
}

// RegulatoryData holds approvals, trials and strategy.
type RegulatoryData struct {
	Approvals      []Approval         `json:"approvals,omitempty" yaml:"approvals,omitempty"`
	ClinicalTrials []ClinicalTrial    `json:"clinicalTrials,omitempty" yaml:"clinicalTrials,omitempty"`
	Strategy       RegulatoryStrategy `json:"strategy" yaml:"strategy"`
}

// Approval is a granted marketing authorization.
type Approval struct {
	Indication string    `json:"indication" yaml:"indication"`
	Agency     string    `json:"agency" yaml:"agency"`
	Date       time.Time `json:"date" yaml:"date"`
}

// ClinicalTrial is a registered study.
type ClinicalTrial struct {
	ID         string           `json:"id" yaml:"id"`
	Phase      DevelopmentStage `json:"phase" yaml:"phase"`
	Status     TrialStatus      `json:"status" yaml:"status"`
	Indication string           `json:"indication,omitempty" yaml:"indication,omitempty"`
	Enrollment int              `json:"enrollment,omitempty" yaml:"enrollment,omitempty"`
}

// TrialStatus is the registry status of a trial.
type TrialStatus string

const (
	TrialPlanned    TrialStatus = "planned"
	TrialRecruiting TrialStatus = "recruiting"
	TrialActive     TrialStatus = "active"
	TrialCompleted  TrialStatus = "completed"
	TrialSuspended  TrialStatus = "suspended"
	TrialTerminated TrialStatus = "terminated"
)

// RegulatoryStrategy describes the planned path to approval.
type RegulatoryStrategy struct {
	Pathway            string   `json:"pathway,omitempty" yaml:"pathway,omitempty"` // e.g. "BLA", "NDA", "505(b)(2)", "accelerated"
	Designations       []string `json:"designations,omitempty" yaml:"designations,omitempty"`
	AgencyInteractions int      `json:"agencyInteractions,omitempty" yaml:"agencyInteractions,omitempty"`
}

// LeadProgram returns the most advanced program, first listed on ties.
func (c *CompanyData) LeadProgram() (Program, bool) {
	if len(c.Pipeline) == 0 {
		return Program{}, false
	}
	lead := c.Pipeline[0]
	for _, p := range c.Pipeline[1:] {
		if p.Stage.Ordinal() > lead.Stage.Ordinal() {
			lead = p
		}
	}
	return lead, true
}

// LeadStage returns the stage of the lead program, falling back to the profile stage.
func (c *CompanyData) LeadStage() DevelopmentStage {
	if lead, ok := c.LeadProgram(); ok && lead.Stage.Valid() {
		return lead.Stage
	}
	return c.Profile.Stage
}

// DevelopmentStage is the ordinal clinical stage.
type DevelopmentStage string

const (
	StagePreclinical DevelopmentStage = "preclinical"
	StagePhaseI      DevelopmentStage = "phase_1"
	StagePhaseII     DevelopmentStage = "phase_2"
	StagePhaseIII    DevelopmentStage = "phase_3"
	StageApproved    DevelopmentStage = "approved"
	StageMarketed    DevelopmentStage = "marketed"
)

// MaxStageDistance is the ordinal distance between Preclinical and Marketed.
const MaxStageDistance = 5

var stageOrdinals = map[DevelopmentStage]int{
	StagePreclinical: 0,
	StagePhaseI:      1,
	StagePhaseII:     2,
	StagePhaseIII:    3,
	StageApproved:    4,
	StageMarketed:    5,
}

// Ordinal returns the position of the stage, or -1 when unknown.
func (s DevelopmentStage) Ordinal() int {
	if o, ok := stageOrdinals[s.normalize()]; ok {
		return o
	}
	return -1
}

// Valid reports whether the stage is one of the known stages.
func (s DevelopmentStage) Valid() bool {
	return s.Ordinal() >= 0
}

func (s DevelopmentStage) normalize() DevelopmentStage {
	v := strings.ToLower(strings.TrimSpace(string(s)))
	switch v {
	case "phase i", "phase1", "phasei", "phase_i":
		return StagePhaseI
	case "phase ii", "phase2", "phaseii", "phase_ii":
		return StagePhaseII
	case "phase iii", "phase3", "phaseiii", "phase_iii":
		return StagePhaseIII
	}
	return DevelopmentStage(v)
}

// CompetitivePosition is the program's position versus competitors.
type CompetitivePosition string

const (
	PositionFirstInClass CompetitivePosition = "first_in_class"
	PositionBestInClass  CompetitivePosition = "best_in_class"
	PositionFastFollower CompetitivePosition = "fast_follower"
	PositionMeToo        CompetitivePosition = "me_too"
)

// Ordinal returns 0 (first-in-class) to 3 (me-too), or -1 when unknown.
func (p CompetitivePosition) Ordinal() int {
	switch CompetitivePosition(strings.ToLower(strings.TrimSpace(string(p)))) {
	case PositionFirstInClass:
		return 0
	case PositionBestInClass:
		return 1
	case PositionFastFollower:
		return 2
	case PositionMeToo:
		return 3
	default:
		return -1
	}
}
