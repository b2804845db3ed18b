package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadsignal/intent-cli/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var predictionColumns = []string{
	"id", "company_id", "org_id", "buying_probability", "predicted_timeline_days", "confidence_level",
	"signal_count_30d", "signal_count_60d", "signal_count_90d", "signal_velocity",
	"strongest_signals", "composite_signals", "recommended_actions", "priority_score",
	"model_version", "model_type", "expires_at", "created_at", "updated_at",
}

func predictionRow(mock pgxmock.PgxPoolIface, id, companyID string, probability float64, priority int) *pgxmock.Rows {
	now := time.Now().UTC()
	return mock.NewRows(predictionColumns).AddRow(
		id, companyID, "org-1", probability, 30, "high",
		5, 7, 9, 2.0,
		[]byte(`["funding_event"]`), []byte(`["funding_hiring_combo"]`), []byte(`["Reference recent funding in outreach"]`), priority,
		model.ModelVersion, model.ModelType, now.Add(model.PredictionTTL), now, now,
	)
}

func TestPostgres_GetPrediction(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM predictions WHERE company_id = \$1 AND org_id = \$2`).
		WithArgs("acme", "org-1").
		WillReturnRows(predictionRow(mock, "pred-1", "acme", 88.5, 92))

	got, err := st.GetPrediction(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pred-1", got.ID)
	assert.Equal(t, 88.5, got.BuyingProbability)
	assert.Equal(t, model.ConfidenceHigh, got.ConfidenceLevel)
	assert.Equal(t, []string{"funding_event"}, got.StrongestSignals)
	assert.Equal(t, []string{"funding_hiring_combo"}, got.CompositeSignals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetPrediction_NotFound(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM predictions WHERE company_id = \$1`).
		WithArgs("ghost", "org-1").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetPrediction(context.Background(), "ghost", "org-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertPrediction(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO predictions`).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at", "expires_at"}).
			AddRow("pred-1", now, now, now.Add(model.PredictionTTL)))

	p := &model.Prediction{
		CompanyID: "acme",
		OrgID:     "org-1",
		PredictionResult: model.PredictionResult{
			BuyingProbability:  88.5,
			ConfidenceLevel:    model.ConfidenceHigh,
			StrongestSignals:   []string{"funding_event"},
			CompositeSignals:   []string{},
			RecommendedActions: []string{"Reference recent funding in outreach"},
		},
		ModelVersion: model.ModelVersion,
		ModelType:    model.ModelType,
	}
	require.NoError(t, st.UpsertPrediction(context.Background(), p))

	// The stored row's identity and timestamps are written back.
	assert.Equal(t, "pred-1", p.ID)
	assert.False(t, p.ExpiresAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListPredictions(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	rows := predictionRow(mock, "pred-1", "hot-co", 91.0, 95)
	rows.AddRow(
		"pred-2", "warm-co", "org-1", 55.0, 60, "medium",
		2, 3, 4, 1.0,
		[]byte(`[]`), []byte(`[]`), []byte(`["Monitor for additional signals"]`), 48,
		model.ModelVersion, model.ModelType,
		time.Now().UTC().Add(model.PredictionTTL), time.Now().UTC(), time.Now().UTC(),
	)

	mock.ExpectQuery(`SELECT .+ FROM predictions WHERE org_id = \$1 .+ ORDER BY priority_score DESC`).
		WithArgs("org-1", 50).
		WillReturnRows(rows)

	list, err := st.ListPredictions(context.Background(), ListFilter{OrgID: "org-1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hot-co", list[0].CompanyID)
	assert.Equal(t, "warm-co", list[1].CompanyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListPredictions_DefaultLimit(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM predictions WHERE org_id = \$1`).
		WithArgs("org-1", 100).
		WillReturnRows(mock.NewRows(predictionColumns))

	list, err := st.ListPredictions(context.Background(), ListFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateAlert(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO prediction_alerts`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	alert := &model.PredictionAlert{
		PredictionID:  "pred-1",
		CompanyID:     "acme",
		OrgID:         "org-1",
		AlertType:     "high_probability",
		AlertPriority: "critical",
		Message:       "High buying intent detected",
	}
	require.NoError(t, st.CreateAlert(context.Background(), alert))
	assert.NotEmpty(t, alert.ID)
	assert.False(t, alert.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListAlerts(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM prediction_alerts WHERE org_id = \$1`).
		WithArgs("org-1", 10).
		WillReturnRows(mock.NewRows([]string{
			"id", "prediction_id", "company_id", "org_id", "alert_type", "alert_priority", "message", "created_at",
		}).AddRow("alert-1", "pred-1", "acme", "org-1", "high_probability", "critical", "msg", now))

	alerts, err := st.ListAlerts(context.Background(), "org-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high_probability", alerts[0].AlertType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertSignal(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO signals`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sig := &model.Signal{CompanyID: "acme", OrgID: "org-1", Category: model.CategoryFunding}
	require.NoError(t, st.InsertSignal(context.Background(), sig))
	assert.NotEmpty(t, sig.ID)
	assert.False(t, sig.DetectedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ImportSignals(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_signals"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_signals"},
		[]string{"id", "company_id", "org_id", "category", "source", "description", "detected_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "signals"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := st.ImportSignals(context.Background(), []model.Signal{
		{ID: "sig-1", CompanyID: "acme", OrgID: "org-1", Category: model.CategoryFunding, DetectedAt: now},
		{ID: "sig-2", CompanyID: "acme", OrgID: "org-1", Category: model.CategoryHiring, DetectedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ImportSignals_Empty(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	n, err := st.ImportSignals(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListSignalsSince(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	since := now.Add(-90 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM signals WHERE company_id = \$1 AND org_id = \$2 AND detected_at >= \$3`).
		WithArgs("acme", "org-1", since).
		WillReturnRows(mock.NewRows([]string{
			"id", "company_id", "org_id", "category", "source", "description", "detected_at",
		}).AddRow("sig-1", "acme", "org-1", "funding", "news", "Series B announced", now))

	sigs, err := st.ListSignalsSince(context.Background(), "acme", "org-1", since)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, model.CategoryFunding, sigs[0].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetAggregate(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM signal_aggregates WHERE company_id = \$1`).
		WithArgs("acme", "org-1").
		WillReturnRows(mock.NewRows([]string{
			"company_id", "org_id", "signal_count_30d", "signal_count_60d", "signal_count_90d",
			"signal_velocity_30d", "funding_signals", "hiring_signals", "technology_signals",
			"expansion_signals", "executive_signals", "financial_signals",
			"has_funding_hiring_combo", "has_expansion_tech_combo", "signal_momentum", "computed_at",
		}).AddRow("acme", "org-1", 5, 7, 9, 2.0, 1, 4, 0, 0, 0, 0, true, false, "accelerating", now))

	agg, err := st.GetAggregate(context.Background(), "acme", "org-1")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 5, agg.SignalCount30d)
	assert.True(t, agg.HasFundingHiringCombo)
	assert.Equal(t, model.MomentumAccelerating, agg.SignalMomentum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetAggregate_NotFound(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM signal_aggregates`).
		WithArgs("ghost", "org-1").
		WillReturnError(pgx.ErrNoRows)

	agg, err := st.GetAggregate(context.Background(), "ghost", "org-1")
	require.NoError(t, err)
	assert.Nil(t, agg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveAggregate(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO signal_aggregates`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	agg := &model.SignalAggregate{CompanyID: "acme", OrgID: "org-1", SignalCount30d: 5}
	require.NoError(t, st.SaveAggregate(context.Background(), agg))
	assert.False(t, agg.ComputedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
