package model

import (
	"fmt"
	"time"
)

// ConfidenceLevel grades how much trust to place in a prediction.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Model identity recorded alongside every stored prediction. Opaque
// passthrough fields so future learned-model variants can be swapped
// without touching callers.
const (
	ModelVersion = "1.0.0"
	ModelType    = "rule_based"
)

// PredictionTTL is how long a stored prediction stays valid before it
// must be re-derived from a fresh aggregate.
const PredictionTTL = 7 * 24 * time.Hour

// PredictionResult is the scoring engine's output for one company.
// It is a value object: created fresh on every scoring invocation and
// never mutated afterward.
type PredictionResult struct {
	BuyingProbability     float64         `json:"buying_probability"`
	PredictedTimelineDays int             `json:"predicted_timeline_days"`
	ConfidenceLevel       ConfidenceLevel `json:"confidence_level"`

	// Echoed from the input aggregate for traceability.
	SignalCount30d int     `json:"signal_count_30d"`
	SignalCount60d int     `json:"signal_count_60d"`
	SignalCount90d int     `json:"signal_count_90d"`
	SignalVelocity float64 `json:"signal_velocity"`

	StrongestSignals   []string `json:"strongest_signals"`
	CompositeSignals   []string `json:"composite_signals"`
	RecommendedActions []string `json:"recommended_actions"`

	PriorityScore int `json:"priority_score"`
}

// Prediction is a PredictionResult as persisted, keyed by
// (company_id, org_id) with a rolling expiry.
type Prediction struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	OrgID     string `json:"org_id"`

	PredictionResult

	ModelVersion string    `json:"model_version"`
	ModelType    string    `json:"model_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Alert thresholds: a prediction clearing both triggers a critical
// high-probability alert.
const (
	AlertProbabilityThreshold = 75.0
	AlertConfidenceThreshold  = ConfidenceHigh
)

// PredictionAlert is created when a stored prediction crosses the
// high-probability threshold.
type PredictionAlert struct {
	ID            string    `json:"id"`
	PredictionID  string    `json:"prediction_id"`
	CompanyID     string    `json:"company_id"`
	OrgID         string    `json:"org_id"`
	AlertType     string    `json:"alert_type"`
	AlertPriority string    `json:"alert_priority"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewHighProbabilityAlert builds the alert record for a prediction that
// cleared the thresholds.
func NewHighProbabilityAlert(p *Prediction) PredictionAlert {
	return PredictionAlert{
		PredictionID:  p.ID,
		CompanyID:     p.CompanyID,
		OrgID:         p.OrgID,
		AlertType:     "high_probability",
		AlertPriority: "critical",
		Message: fmt.Sprintf(
			"High buying intent detected: %.2f%% probability with %d signals in the last 30 days",
			p.BuyingProbability, p.SignalCount30d,
		),
	}
}

// ShouldAlert reports whether a prediction clears the alert thresholds.
func ShouldAlert(r *PredictionResult) bool {
	return r.BuyingProbability >= AlertProbabilityThreshold &&
		r.ConfidenceLevel == AlertConfidenceThreshold
}
