package model

import "time"

// SignalCategory classifies a detected buying signal.
type SignalCategory string

const (
	CategoryFunding    SignalCategory = "funding"
	CategoryHiring     SignalCategory = "hiring"
	CategoryTechnology SignalCategory = "technology"
	CategoryExpansion  SignalCategory = "expansion"
	CategoryExecutive  SignalCategory = "executive"
	CategoryFinancial  SignalCategory = "financial"
)

// KnownCategories lists every recognized signal category in the order
// category counts are reported.
var KnownCategories = []SignalCategory{
	CategoryFunding,
	CategoryHiring,
	CategoryTechnology,
	CategoryExpansion,
	CategoryExecutive,
	CategoryFinancial,
}

// Valid reports whether the category is one of the known values.
func (c SignalCategory) Valid() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Signal is a discrete detected event about a company (funding round,
// hiring spree, executive change, etc.).
type Signal struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"company_id"`
	OrgID       string         `json:"org_id"`
	Category    SignalCategory `json:"category"`
	Source      string         `json:"source,omitempty"`
	Description string         `json:"description,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// Momentum is a categorical trend label describing signal frequency
// trajectory for a company.
type Momentum string

const (
	MomentumAccelerating Momentum = "accelerating"
	MomentumStable       Momentum = "stable"
	MomentumDecelerating Momentum = "decelerating"
)

// ParseMomentum maps a free-form upstream label onto the closed set of
// momentum values. Unrecognized labels are treated as stable so they
// score neutrally.
func ParseMomentum(s string) Momentum {
	switch Momentum(s) {
	case MomentumAccelerating:
		return MomentumAccelerating
	case MomentumDecelerating:
		return MomentumDecelerating
	default:
		return MomentumStable
	}
}

// SignalAggregate is a rolled-up summary of a company's signals over
// fixed trailing windows. It is produced by the aggregate provider and
// read-only to the scoring engine.
type SignalAggregate struct {
	CompanyID string `json:"company_id"`
	OrgID     string `json:"org_id"`

	SignalCount30d    int     `json:"signal_count_30d"`
	SignalCount60d    int     `json:"signal_count_60d"`
	SignalCount90d    int     `json:"signal_count_90d"`
	SignalVelocity30d float64 `json:"signal_velocity_30d"`

	FundingSignals    int `json:"funding_signals"`
	HiringSignals     int `json:"hiring_signals"`
	TechnologySignals int `json:"technology_signals"`
	ExpansionSignals  int `json:"expansion_signals"`
	ExecutiveSignals  int `json:"executive_signals"`
	FinancialSignals  int `json:"financial_signals"`

	HasFundingHiringCombo bool `json:"has_funding_hiring_combo"`
	HasExpansionTechCombo bool `json:"has_expansion_tech_combo"`

	SignalMomentum Momentum `json:"signal_momentum"`

	ComputedAt time.Time `json:"computed_at"`
}

// CategoryCount returns the aggregate's count for a single category.
func (a *SignalAggregate) CategoryCount(c SignalCategory) int {
	switch c {
	case CategoryFunding:
		return a.FundingSignals
	case CategoryHiring:
		return a.HiringSignals
	case CategoryTechnology:
		return a.TechnologySignals
	case CategoryExpansion:
		return a.ExpansionSignals
	case CategoryExecutive:
		return a.ExecutiveSignals
	case CategoryFinancial:
		return a.FinancialSignals
	default:
		return 0
	}
}
