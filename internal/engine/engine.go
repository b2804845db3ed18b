// Package engine implements the rule-based buying-intent scorer. It is
// a pure computation: no I/O, no errors, no shared state, safe to call
// from any number of goroutines.
package engine

import (
	"math"

	"github.com/leadsignal/intent-cli/internal/model"
)

// Strongest-signal tags. A tag appears at most once per prediction
// because each rule fires at most once.
const (
	TagHighRecentActivity   = "high_recent_activity"
	TagAcceleratingMomentum = "accelerating_momentum"
	TagFundingEvent         = "funding_event"
	TagAggressiveHiring     = "aggressive_hiring"
	TagLeadershipChange     = "leadership_change"
	TagTechAdoption         = "tech_adoption"
	TagExpansionActivity    = "expansion_activity"
	TagMomentumAccelerating = "momentum_accelerating"
)

// Composite-signal tags.
const (
	TagFundingHiringCombo = "funding_hiring_combo"
	TagExpansionTechCombo = "expansion_tech_combo"
)

// Recommended action strings.
const (
	ActionReferenceFunding   = "Reference recent funding in outreach"
	ActionTeamScaling        = "Highlight team scaling solutions"
	ActionReachExecutive     = "Reach out to new executive directly"
	ActionScalingInfra       = "Position for scaling infrastructure"
	ActionPrioritizeOutreach = "High-intent prospect - prioritize immediate outreach"
	ActionMonitorSignals     = "Monitor for additional signals"
	ActionResearchGrowth     = "Research company growth indicators"
)

// categoryRule is one entry in the per-category bonus table: a
// predicate over the aggregate, a point delta, and the tag/action
// emitted when it fires. Keeping the table explicit lets future model
// versions replace it behind the same model_version/model_type fields.
type categoryRule struct {
	fires  func(*model.SignalAggregate) bool
	points float64
	tag    string
	action string
}

// categoryRules are evaluated independently, in order. Order is part of
// the contract: it fixes the sequence of tags and actions in the output.
var categoryRules = []categoryRule{
	{
		fires:  func(a *model.SignalAggregate) bool { return a.FundingSignals > 0 },
		points: 15,
		tag:    TagFundingEvent,
		action: ActionReferenceFunding,
	},
	{
		fires:  func(a *model.SignalAggregate) bool { return a.HiringSignals >= 3 },
		points: 10,
		tag:    TagAggressiveHiring,
		action: ActionTeamScaling,
	},
	{
		fires:  func(a *model.SignalAggregate) bool { return a.ExecutiveSignals > 0 },
		points: 12,
		tag:    TagLeadershipChange,
		action: ActionReachExecutive,
	},
	{
		fires:  func(a *model.SignalAggregate) bool { return a.TechnologySignals > 0 },
		points: 8,
		tag:    TagTechAdoption,
	},
	{
		fires:  func(a *model.SignalAggregate) bool { return a.ExpansionSignals > 0 },
		points: 10,
		tag:    TagExpansionActivity,
		action: ActionScalingInfra,
	},
}

// Score converts a signal aggregate into a prediction. The rules run in
// a fixed order because later ones read state set by earlier ones: the
// velocity rule sets the provisional timeline, and the confidence rule
// at the end recomputes confidence from the final probability. Inputs
// are assumed already coerced (non-negative counts, momentum parsed);
// callers default missing fields before invoking.
func Score(agg model.SignalAggregate) model.PredictionResult {
	result := model.PredictionResult{
		PredictedTimelineDays: 90,
		ConfidenceLevel:       model.ConfidenceLow,
		SignalCount30d:        agg.SignalCount30d,
		SignalCount60d:        agg.SignalCount60d,
		SignalCount90d:        agg.SignalCount90d,
		SignalVelocity:        agg.SignalVelocity30d,
		StrongestSignals:      []string{},
		CompositeSignals:      []string{},
		RecommendedActions:    []string{},
	}

	var points float64

	// Base activity from the 30-day count.
	switch {
	case agg.SignalCount30d >= 5:
		points += 40
		result.StrongestSignals = append(result.StrongestSignals, TagHighRecentActivity)
	case agg.SignalCount30d >= 3:
		points += 25
	case agg.SignalCount30d >= 1:
		points += 10
	}

	// Velocity bonus. This is also where the provisional timeline is set.
	switch {
	case agg.SignalVelocity30d > 1.5:
		points += 20
		result.StrongestSignals = append(result.StrongestSignals, TagAcceleratingMomentum)
		result.PredictedTimelineDays = 30
	case agg.SignalVelocity30d > 1.0:
		points += 10
		result.PredictedTimelineDays = 60
	}

	// Per-category bonuses.
	for _, rule := range categoryRules {
		if !rule.fires(&agg) {
			continue
		}
		points += rule.points
		result.StrongestSignals = append(result.StrongestSignals, rule.tag)
		if rule.action != "" {
			result.RecommendedActions = append(result.RecommendedActions, rule.action)
		}
	}

	// Composite patterns.
	if agg.HasFundingHiringCombo {
		points += 15
		result.CompositeSignals = append(result.CompositeSignals, TagFundingHiringCombo)
		// This assignment never survives: confidence is recomputed from
		// the final probability below. Kept to match shipped behavior;
		// treating it as a floor instead is a pending product decision.
		result.ConfidenceLevel = model.ConfidenceHigh
		result.RecommendedActions = append(result.RecommendedActions, ActionPrioritizeOutreach)
	}
	if agg.HasExpansionTechCombo {
		points += 12
		result.CompositeSignals = append(result.CompositeSignals, TagExpansionTechCombo)
	}

	// Momentum adjustment. Unrecognized labels were already parsed to
	// stable and score neutrally.
	switch agg.SignalMomentum {
	case model.MomentumAccelerating:
		points += 10
		result.StrongestSignals = append(result.StrongestSignals, TagMomentumAccelerating)
	case model.MomentumDecelerating:
		points -= 5
	}

	// Clamp the raw sum; rounding happens last.
	probability := clamp(points, 0, 100)

	// Confidence is derived from the final probability and recent
	// volume, overwriting anything set by the composite rule above.
	switch {
	case probability >= 70 && agg.SignalCount30d >= 4:
		result.ConfidenceLevel = model.ConfidenceHigh
	case probability >= 50 || agg.SignalCount30d >= 2:
		result.ConfidenceLevel = model.ConfidenceMedium
	default:
		result.ConfidenceLevel = model.ConfidenceLow
	}

	result.PriorityScore = priorityScore(probability, agg.SignalCount30d, result.ConfidenceLevel)

	// A prediction always carries at least one next step.
	if len(result.RecommendedActions) == 0 {
		result.RecommendedActions = append(result.RecommendedActions,
			ActionMonitorSignals,
			ActionResearchGrowth,
		)
	}

	result.BuyingProbability = math.Round(probability*100) / 100

	return result
}

// priorityScore blends probability, recent volume, and confidence into
// a 0-100 lead ranking value.
func priorityScore(probability float64, count30d int, confidence model.ConfidenceLevel) int {
	volume := math.Min(float64(count30d)*5, 20)

	var bonus float64
	switch confidence {
	case model.ConfidenceHigh:
		bonus = 20
	case model.ConfidenceMedium:
		bonus = 10
	}

	score := int(math.Round(0.6*probability + volume + bonus))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
