package predictor

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadsignal/intent-cli/internal/model"
)

type fakeAggregates struct {
	agg *model.SignalAggregate
	err error
}

func (f *fakeAggregates) Get(context.Context, string, string) (*model.SignalAggregate, error) {
	return f.agg, f.err
}

type fakePredictionStore struct {
	upsertErr   error
	alertErr    error
	predictions []*model.Prediction
	alerts      []*model.PredictionAlert
}

func (f *fakePredictionStore) UpsertPrediction(_ context.Context, p *model.Prediction) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	p.ID = "pred-stored"
	f.predictions = append(f.predictions, p)
	return nil
}

func (f *fakePredictionStore) CreateAlert(_ context.Context, alert *model.PredictionAlert) error {
	if f.alertErr != nil {
		return f.alertErr
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeNotifier struct {
	delivered []model.PredictionAlert
}

func (f *fakeNotifier) Notify(_ context.Context, alert model.PredictionAlert) {
	f.delivered = append(f.delivered, alert)
}

// hotAggregate scores 100 with high confidence, crossing the alert gate.
func hotAggregate() *model.SignalAggregate {
	return &model.SignalAggregate{
		CompanyID:             "acme",
		OrgID:                 "org-1",
		SignalCount30d:        5,
		SignalCount60d:        7,
		SignalCount90d:        9,
		SignalVelocity30d:     2.0,
		FundingSignals:        1,
		HiringSignals:         3,
		HasFundingHiringCombo: true,
		SignalMomentum:        model.MomentumAccelerating,
	}
}

func mildAggregate() *model.SignalAggregate {
	return &model.SignalAggregate{
		CompanyID:      "acme",
		OrgID:          "org-1",
		SignalCount30d: 2,
		SignalCount60d: 3,
		SignalCount90d: 4,
	}
}

func TestPredict_PersistsAndAlertsHotCompany(t *testing.T) {
	st := &fakePredictionStore{}
	notifier := &fakeNotifier{}
	svc := NewService(&fakeAggregates{agg: hotAggregate()}, st, notifier)

	out, err := svc.Predict(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, out.Prediction)

	assert.Equal(t, 100.0, out.Prediction.BuyingProbability)
	assert.Equal(t, model.ConfidenceHigh, out.Prediction.ConfidenceLevel)
	assert.Equal(t, model.ModelVersion, out.Prediction.ModelVersion)
	assert.Equal(t, model.ModelType, out.Prediction.ModelType)

	require.Len(t, st.predictions, 1)
	require.Len(t, st.alerts, 1)
	assert.Equal(t, "pred-stored", st.alerts[0].PredictionID)
	assert.Equal(t, "high_probability", st.alerts[0].AlertType)

	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, st.alerts[0].Message, notifier.delivered[0].Message)
}

func TestPredict_NoAlertBelowThreshold(t *testing.T) {
	st := &fakePredictionStore{}
	notifier := &fakeNotifier{}
	svc := NewService(&fakeAggregates{agg: mildAggregate()}, st, notifier)

	out, err := svc.Predict(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, out.Prediction)

	assert.Len(t, st.predictions, 1)
	assert.Empty(t, st.alerts)
	assert.Empty(t, notifier.delivered)
}

func TestPredict_NoSignalData(t *testing.T) {
	st := &fakePredictionStore{}
	svc := NewService(&fakeAggregates{}, st, nil)

	out, err := svc.Predict(context.Background(), "never-seen", "org-1")
	require.NoError(t, err)
	assert.Nil(t, out.Prediction)
	assert.Equal(t, "no signal data available for company", out.Message)
	assert.Empty(t, st.predictions)
}

func TestPredict_UpsertFailureStillReturnsResult(t *testing.T) {
	st := &fakePredictionStore{upsertErr: eris.New("connection reset")}
	notifier := &fakeNotifier{}
	svc := NewService(&fakeAggregates{agg: hotAggregate()}, st, notifier)

	out, err := svc.Predict(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, out.Prediction)
	assert.Equal(t, 100.0, out.Prediction.BuyingProbability)

	// No stored row, so no alert and no webhook delivery.
	assert.Empty(t, st.alerts)
	assert.Empty(t, notifier.delivered)
}

func TestPredict_AlertFailureSkipsWebhook(t *testing.T) {
	st := &fakePredictionStore{alertErr: eris.New("constraint violation")}
	notifier := &fakeNotifier{}
	svc := NewService(&fakeAggregates{agg: hotAggregate()}, st, notifier)

	out, err := svc.Predict(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, out.Prediction)
	assert.Empty(t, notifier.delivered)
}

func TestPredict_ValidatesIDs(t *testing.T) {
	svc := NewService(&fakeAggregates{}, &fakePredictionStore{}, nil)

	_, err := svc.Predict(context.Background(), "", "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company id is required")

	_, err = svc.Predict(context.Background(), "acme", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org id is required")
}

func TestPredict_AggregateErrorPropagates(t *testing.T) {
	svc := NewService(&fakeAggregates{err: eris.New("db down")}, &fakePredictionStore{}, nil)

	_, err := svc.Predict(context.Background(), "acme", "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load aggregate")
}

func TestPredict_NilNotifierIsSafe(t *testing.T) {
	st := &fakePredictionStore{}
	svc := NewService(&fakeAggregates{agg: hotAggregate()}, st, nil)

	out, err := svc.Predict(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, out.Prediction)
	assert.Len(t, st.alerts, 1)
}
