package store

import (
	"context"
	"time"

	"github.com/leadsignal/intent-cli/internal/model"
)

// ListFilter specifies criteria for listing predictions.
type ListFilter struct {
	OrgID string `json:"org_id"`
	Limit int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for signals, aggregates,
// predictions, and alerts. Prediction reads never return expired rows.
type Store interface {
	// Predictions. Upsert is keyed (company_id, org_id) and refreshes
	// the 7-day expiry on every write; concurrent writers for the same
	// company are last-write-wins.
	UpsertPrediction(ctx context.Context, p *model.Prediction) error
	GetPrediction(ctx context.Context, companyID, orgID string) (*model.Prediction, error)
	ListPredictions(ctx context.Context, filter ListFilter) ([]model.Prediction, error)

	// Alerts
	CreateAlert(ctx context.Context, alert *model.PredictionAlert) error
	ListAlerts(ctx context.Context, orgID string, limit int) ([]model.PredictionAlert, error)

	// Signals
	InsertSignal(ctx context.Context, sig *model.Signal) error
	ImportSignals(ctx context.Context, sigs []model.Signal) (int64, error)
	ListSignalsSince(ctx context.Context, companyID, orgID string, since time.Time) ([]model.Signal, error)

	// Aggregates
	GetAggregate(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error)
	SaveAggregate(ctx context.Context, agg *model.SignalAggregate) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
