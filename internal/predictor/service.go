// Package predictor orchestrates a scoring run: aggregate lookup,
// engine invocation, persistence, and alerting.
package predictor

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/engine"
	"github.com/leadsignal/intent-cli/internal/model"
)

// AggregateProvider serves signal rollups, recomputing stale ones.
type AggregateProvider interface {
	Get(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error)
}

// PredictionStore is the slice of the store the service writes to.
type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p *model.Prediction) error
	CreateAlert(ctx context.Context, alert *model.PredictionAlert) error
}

// Notifier delivers an alert to an external channel. Implementations
// are best-effort and must not block the scoring response.
type Notifier interface {
	Notify(ctx context.Context, alert model.PredictionAlert)
}

// Outcome is the result of one scoring run. Prediction is nil, with an
// explanatory Message, when the company has no signal data.
type Outcome struct {
	Prediction *model.Prediction `json:"prediction"`
	Message    string            `json:"message,omitempty"`
}

// Service runs predictions end to end.
type Service struct {
	aggregates AggregateProvider
	store      PredictionStore
	notifier   Notifier
}

// NewService wires a prediction service. notifier may be nil when no
// webhook is configured.
func NewService(aggregates AggregateProvider, store PredictionStore, notifier Notifier) *Service {
	return &Service{aggregates: aggregates, store: store, notifier: notifier}
}

// Predict scores one company and persists the result. Persistence
// failure is logged but does not fail the run: the computed result is
// still returned, and the next run overwrites cleanly.
func (s *Service) Predict(ctx context.Context, companyID, orgID string) (*Outcome, error) {
	if companyID == "" {
		return nil, eris.New("predictor: company id is required")
	}
	if orgID == "" {
		return nil, eris.New("predictor: org id is required")
	}

	agg, err := s.aggregates.Get(ctx, companyID, orgID)
	if err != nil {
		return nil, eris.Wrapf(err, "predictor: load aggregate for %s", companyID)
	}
	if agg == nil {
		return &Outcome{Message: "no signal data available for company"}, nil
	}

	result := engine.Score(*agg)
	pred := &model.Prediction{
		CompanyID:        companyID,
		OrgID:            orgID,
		PredictionResult: result,
		ModelVersion:     model.ModelVersion,
		ModelType:        model.ModelType,
	}

	persisted := true
	if err := s.store.UpsertPrediction(ctx, pred); err != nil {
		persisted = false
		zap.L().Warn("failed to persist prediction",
			zap.String("company_id", companyID),
			zap.String("org_id", orgID),
			zap.Error(err))
	}

	// Alerts reference the stored row, so nothing to alert on when the
	// upsert did not land.
	if persisted && model.ShouldAlert(&result) {
		s.raiseAlert(ctx, pred)
	}

	zap.L().Info("prediction computed",
		zap.String("company_id", companyID),
		zap.Float64("probability", result.BuyingProbability),
		zap.String("confidence", string(result.ConfidenceLevel)),
		zap.Int("priority", result.PriorityScore))

	return &Outcome{Prediction: pred}, nil
}

func (s *Service) raiseAlert(ctx context.Context, pred *model.Prediction) {
	alert := model.NewHighProbabilityAlert(pred)
	if err := s.store.CreateAlert(ctx, &alert); err != nil {
		zap.L().Warn("failed to record prediction alert",
			zap.String("company_id", pred.CompanyID),
			zap.Error(err))
		return
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, alert)
	}
}
