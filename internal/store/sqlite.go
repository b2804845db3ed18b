package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadsignal/intent-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local development and single-operator installs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS signals (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL,
	org_id      TEXT NOT NULL,
	category    TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_company ON signals(company_id, org_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS signal_aggregates (
	company_id               TEXT NOT NULL,
	org_id                   TEXT NOT NULL,
	signal_count_30d         INTEGER NOT NULL DEFAULT 0,
	signal_count_60d         INTEGER NOT NULL DEFAULT 0,
	signal_count_90d         INTEGER NOT NULL DEFAULT 0,
	signal_velocity_30d      REAL NOT NULL DEFAULT 0,
	funding_signals          INTEGER NOT NULL DEFAULT 0,
	hiring_signals           INTEGER NOT NULL DEFAULT 0,
	technology_signals       INTEGER NOT NULL DEFAULT 0,
	expansion_signals        INTEGER NOT NULL DEFAULT 0,
	executive_signals        INTEGER NOT NULL DEFAULT 0,
	financial_signals        INTEGER NOT NULL DEFAULT 0,
	has_funding_hiring_combo INTEGER NOT NULL DEFAULT 0,
	has_expansion_tech_combo INTEGER NOT NULL DEFAULT 0,
	signal_momentum          TEXT NOT NULL DEFAULT 'stable',
	computed_at              DATETIME NOT NULL,
	PRIMARY KEY (company_id, org_id)
);

CREATE TABLE IF NOT EXISTS predictions (
	id                      TEXT PRIMARY KEY,
	company_id              TEXT NOT NULL,
	org_id                  TEXT NOT NULL,
	buying_probability      REAL NOT NULL,
	predicted_timeline_days INTEGER NOT NULL,
	confidence_level        TEXT NOT NULL,
	signal_count_30d        INTEGER NOT NULL DEFAULT 0,
	signal_count_60d        INTEGER NOT NULL DEFAULT 0,
	signal_count_90d        INTEGER NOT NULL DEFAULT 0,
	signal_velocity         REAL NOT NULL DEFAULT 0,
	strongest_signals       TEXT NOT NULL DEFAULT '[]',
	composite_signals       TEXT NOT NULL DEFAULT '[]',
	recommended_actions     TEXT NOT NULL DEFAULT '[]',
	priority_score          INTEGER NOT NULL DEFAULT 0,
	model_version           TEXT NOT NULL,
	model_type              TEXT NOT NULL,
	expires_at              DATETIME NOT NULL,
	created_at              DATETIME NOT NULL,
	updated_at              DATETIME NOT NULL,
	UNIQUE (company_id, org_id)
);

CREATE INDEX IF NOT EXISTS idx_predictions_org_priority ON predictions(org_id, priority_score DESC);

CREATE TABLE IF NOT EXISTS prediction_alerts (
	id             TEXT PRIMARY KEY,
	prediction_id  TEXT NOT NULL REFERENCES predictions(id),
	company_id     TEXT NOT NULL,
	org_id         TEXT NOT NULL,
	alert_type     TEXT NOT NULL,
	alert_priority TEXT NOT NULL,
	message        TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_org ON prediction_alerts(org_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPrediction(ctx context.Context, p *model.Prediction) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	expiresAt := now.Add(model.PredictionTTL)

	strongest, err := json.Marshal(p.StrongestSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal strongest signals")
	}
	composite, err := json.Marshal(p.CompositeSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal composite signals")
	}
	actions, err := json.Marshal(p.RecommendedActions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal recommended actions")
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO predictions
			(id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level,
			 signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity,
			 strongest_signals, composite_signals, recommended_actions, priority_score,
			 model_version, model_type, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, org_id) DO UPDATE SET
			buying_probability = excluded.buying_probability,
			predicted_timeline_days = excluded.predicted_timeline_days,
			confidence_level = excluded.confidence_level,
			signal_count_30d = excluded.signal_count_30d,
			signal_count_60d = excluded.signal_count_60d,
			signal_count_90d = excluded.signal_count_90d,
			signal_velocity = excluded.signal_velocity,
			strongest_signals = excluded.strongest_signals,
			composite_signals = excluded.composite_signals,
			recommended_actions = excluded.recommended_actions,
			priority_score = excluded.priority_score,
			model_version = excluded.model_version,
			model_type = excluded.model_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at, expires_at
	`,
		p.ID, p.CompanyID, p.OrgID, p.BuyingProbability, p.PredictedTimelineDays, string(p.ConfidenceLevel),
		p.SignalCount30d, p.SignalCount60d, p.SignalCount90d, p.SignalVelocity,
		string(strongest), string(composite), string(actions), p.PriorityScore,
		p.ModelVersion, p.ModelType, expiresAt, now, now,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert prediction %s", p.CompanyID)
	}
	return nil
}

const sqlitePredictionColumns = `id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity, strongest_signals, composite_signals, recommended_actions, priority_score, model_version, model_type, expires_at, created_at, updated_at`

func (s *SQLiteStore) GetPrediction(ctx context.Context, companyID, orgID string) (*model.Prediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePredictionColumns+` FROM predictions WHERE company_id = ? AND org_id = ? AND expires_at > ?`,
		companyID, orgID, time.Now().UTC(),
	)

	p, err := scanSQLitePrediction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get prediction %s", companyID)
	}
	return p, nil
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, filter ListFilter) ([]model.Prediction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePredictionColumns+` FROM predictions WHERE org_id = ? AND expires_at > ? ORDER BY priority_score DESC, buying_probability DESC LIMIT ?`,
		filter.OrgID, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanSQLitePrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		predictions = append(predictions, *p)
	}
	return predictions, eris.Wrap(rows.Err(), "sqlite: list predictions iterate")
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePrediction(row rowScanner) (*model.Prediction, error) {
	var p model.Prediction
	var confidence, strongest, composite, actions string

	err := row.Scan(
		&p.ID, &p.CompanyID, &p.OrgID, &p.BuyingProbability, &p.PredictedTimelineDays, &confidence,
		&p.SignalCount30d, &p.SignalCount60d, &p.SignalCount90d, &p.SignalVelocity,
		&strongest, &composite, &actions, &p.PriorityScore,
		&p.ModelVersion, &p.ModelType, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ConfidenceLevel = model.ConfidenceLevel(confidence)
	if err := json.Unmarshal([]byte(strongest), &p.StrongestSignals); err != nil {
		return nil, eris.Wrap(err, "unmarshal strongest signals")
	}
	if err := json.Unmarshal([]byte(composite), &p.CompositeSignals); err != nil {
		return nil, eris.Wrap(err, "unmarshal composite signals")
	}
	if err := json.Unmarshal([]byte(actions), &p.RecommendedActions); err != nil {
		return nil, eris.Wrap(err, "unmarshal recommended actions")
	}
	return &p, nil
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *model.PredictionAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prediction_alerts (id, prediction_id, company_id, org_id, alert_type, alert_priority, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.PredictionID, alert.CompanyID, alert.OrgID,
		alert.AlertType, alert.AlertPriority, alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert alert for %s", alert.CompanyID)
	}
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, orgID string, limit int) ([]model.PredictionAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prediction_id, company_id, org_id, alert_type, alert_priority, message, created_at FROM prediction_alerts WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`,
		orgID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close()

	var alerts []model.PredictionAlert
	for rows.Next() {
		var a model.PredictionAlert
		if err := rows.Scan(&a.ID, &a.PredictionID, &a.CompanyID, &a.OrgID, &a.AlertType, &a.AlertPriority, &a.Message, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *model.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (id, company_id, org_id, category, source, description, detected_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.CompanyID, sig.OrgID, string(sig.Category), sig.Source, sig.Description, sig.DetectedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert signal for %s", sig.CompanyID)
	}
	return nil
}

// ImportSignals inserts signals in a single transaction. SQLite has no
// COPY protocol, so this is a plain upsert loop.
func (s *SQLiteStore) ImportSignals(ctx context.Context, sigs []model.Signal) (int64, error) {
	if len(sigs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO signals (id, company_id, org_id, category, source, description, detected_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET category = excluded.category, source = excluded.source, description = excluded.description, detected_at = excluded.detected_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import")
	}
	defer stmt.Close()

	var n int64
	for i := range sigs {
		sig := &sigs[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		if sig.DetectedAt.IsZero() {
			sig.DetectedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, sig.ID, sig.CompanyID, sig.OrgID, string(sig.Category), sig.Source, sig.Description, sig.DetectedAt); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import signal %s", sig.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return n, nil
}

func (s *SQLiteStore) ListSignalsSince(ctx context.Context, companyID, orgID string, since time.Time) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, org_id, category, source, description, detected_at FROM signals WHERE company_id = ? AND org_id = ? AND detected_at >= ? ORDER BY detected_at DESC`,
		companyID, orgID, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list signals for %s", companyID)
	}
	defer rows.Close()

	var sigs []model.Signal
	for rows.Next() {
		var sig model.Signal
		var category string
		if err := rows.Scan(&sig.ID, &sig.CompanyID, &sig.OrgID, &category, &sig.Source, &sig.Description, &sig.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		sig.Category = model.SignalCategory(category)
		sigs = append(sigs, sig)
	}
	return sigs, eris.Wrap(rows.Err(), "sqlite: list signals iterate")
}

func (s *SQLiteStore) GetAggregate(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error) {
	var a model.SignalAggregate
	var momentum string

	err := s.db.QueryRowContext(ctx,
		`SELECT company_id, org_id, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity_30d, funding_signals, hiring_signals, technology_signals, expansion_signals, executive_signals, financial_signals, has_funding_hiring_combo, has_expansion_tech_combo, signal_momentum, computed_at FROM signal_aggregates WHERE company_id = ? AND org_id = ?`,
		companyID, orgID,
	).Scan(
		&a.CompanyID, &a.OrgID, &a.SignalCount30d, &a.SignalCount60d, &a.SignalCount90d,
		&a.SignalVelocity30d, &a.FundingSignals, &a.HiringSignals, &a.TechnologySignals,
		&a.ExpansionSignals, &a.ExecutiveSignals, &a.FinancialSignals,
		&a.HasFundingHiringCombo, &a.HasExpansionTechCombo, &momentum, &a.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get aggregate %s", companyID)
	}

	a.SignalMomentum = model.ParseMomentum(momentum)
	return &a, nil
}

func (s *SQLiteStore) SaveAggregate(ctx context.Context, agg *model.SignalAggregate) error {
	if agg.ComputedAt.IsZero() {
		agg.ComputedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_aggregates
			(company_id, org_id, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity_30d,
			 funding_signals, hiring_signals, technology_signals, expansion_signals, executive_signals, financial_signals,
			 has_funding_hiring_combo, has_expansion_tech_combo, signal_momentum, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, org_id) DO UPDATE SET
			signal_count_30d = excluded.signal_count_30d,
			signal_count_60d = excluded.signal_count_60d,
			signal_count_90d = excluded.signal_count_90d,
			signal_velocity_30d = excluded.signal_velocity_30d,
			funding_signals = excluded.funding_signals,
			hiring_signals = excluded.hiring_signals,
			technology_signals = excluded.technology_signals,
			expansion_signals = excluded.expansion_signals,
			executive_signals = excluded.executive_signals,
			financial_signals = excluded.financial_signals,
			has_funding_hiring_combo = excluded.has_funding_hiring_combo,
			has_expansion_tech_combo = excluded.has_expansion_tech_combo,
			signal_momentum = excluded.signal_momentum,
			computed_at = excluded.computed_at
	`,
		agg.CompanyID, agg.OrgID, agg.SignalCount30d, agg.SignalCount60d, agg.SignalCount90d,
		agg.SignalVelocity30d, agg.FundingSignals, agg.HiringSignals, agg.TechnologySignals,
		agg.ExpansionSignals, agg.ExecutiveSignals, agg.FinancialSignals,
		agg.HasFundingHiringCombo, agg.HasExpansionTechCombo, string(agg.SignalMomentum), agg.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save aggregate %s", agg.CompanyID)
	}
	return nil
}
