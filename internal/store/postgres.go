package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadsignal/intent-cli/internal/db"
	"github.com/leadsignal/intent-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_prediction": `SELECT id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity, strongest_signals, composite_signals, recommended_actions, priority_score, model_version, model_type, expires_at, created_at, updated_at FROM predictions WHERE company_id = $1 AND org_id = $2 AND expires_at > now()`,
	"get_aggregate":  `SELECT company_id, org_id, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity_30d, funding_signals, hiring_signals, technology_signals, expansion_signals, executive_signals, financial_signals, has_funding_hiring_combo, has_expansion_tech_combo, signal_momentum, computed_at FROM signal_aggregates WHERE company_id = $1 AND org_id = $2`,
	"insert_signal":  `INSERT INTO signals (id, company_id, org_id, category, source, description, detected_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk signal import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS signals (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id  TEXT NOT NULL,
	org_id      TEXT NOT NULL,
	category    TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	detected_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_company ON signals(company_id, org_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_category ON signals(category);

CREATE TABLE IF NOT EXISTS signal_aggregates (
	company_id               TEXT NOT NULL,
	org_id                   TEXT NOT NULL,
	signal_count_30d         INTEGER NOT NULL DEFAULT 0,
	signal_count_60d         INTEGER NOT NULL DEFAULT 0,
	signal_count_90d         INTEGER NOT NULL DEFAULT 0,
	signal_velocity_30d      DOUBLE PRECISION NOT NULL DEFAULT 0,
	funding_signals          INTEGER NOT NULL DEFAULT 0,
	hiring_signals           INTEGER NOT NULL DEFAULT 0,
	technology_signals       INTEGER NOT NULL DEFAULT 0,
	expansion_signals        INTEGER NOT NULL DEFAULT 0,
	executive_signals        INTEGER NOT NULL DEFAULT 0,
	financial_signals        INTEGER NOT NULL DEFAULT 0,
	has_funding_hiring_combo BOOLEAN NOT NULL DEFAULT false,
	has_expansion_tech_combo BOOLEAN NOT NULL DEFAULT false,
	signal_momentum          TEXT NOT NULL DEFAULT 'stable',
	computed_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, org_id)
);

CREATE TABLE IF NOT EXISTS predictions (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id              TEXT NOT NULL,
	org_id                  TEXT NOT NULL,
	buying_probability      DOUBLE PRECISION NOT NULL,
	predicted_timeline_days INTEGER NOT NULL,
	confidence_level        TEXT NOT NULL,
	signal_count_30d        INTEGER NOT NULL DEFAULT 0,
	signal_count_60d        INTEGER NOT NULL DEFAULT 0,
	signal_count_90d        INTEGER NOT NULL DEFAULT 0,
	signal_velocity         DOUBLE PRECISION NOT NULL DEFAULT 0,
	strongest_signals       JSONB NOT NULL DEFAULT '[]',
	composite_signals       JSONB NOT NULL DEFAULT '[]',
	recommended_actions     JSONB NOT NULL DEFAULT '[]',
	priority_score          INTEGER NOT NULL DEFAULT 0,
	model_version           TEXT NOT NULL,
	model_type              TEXT NOT NULL,
	expires_at              TIMESTAMPTZ NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, org_id)
);

CREATE INDEX IF NOT EXISTS idx_predictions_org_priority ON predictions(org_id, priority_score DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_expires_at ON predictions(expires_at);

CREATE TABLE IF NOT EXISTS prediction_alerts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	prediction_id  TEXT NOT NULL REFERENCES predictions(id),
	company_id     TEXT NOT NULL,
	org_id         TEXT NOT NULL,
	alert_type     TEXT NOT NULL,
	alert_priority TEXT NOT NULL,
	message        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alerts_org ON prediction_alerts(org_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertPrediction writes a prediction keyed by (company_id, org_id),
// refreshing the expiry. The stored row's id and timestamps are written
// back into p.
func (s *PostgresStore) UpsertPrediction(ctx context.Context, p *model.Prediction) error {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	expiresAt := now.Add(model.PredictionTTL)

	strongest, err := json.Marshal(p.StrongestSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal strongest signals")
	}
	composite, err := json.Marshal(p.CompositeSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal composite signals")
	}
	actions, err := json.Marshal(p.RecommendedActions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal recommended actions")
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO predictions
			(id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level,
			 signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity,
			 strongest_signals, composite_signals, recommended_actions, priority_score,
			 model_version, model_type, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (company_id, org_id) DO UPDATE SET
			buying_probability = EXCLUDED.buying_probability,
			predicted_timeline_days = EXCLUDED.predicted_timeline_days,
			confidence_level = EXCLUDED.confidence_level,
			signal_count_30d = EXCLUDED.signal_count_30d,
			signal_count_60d = EXCLUDED.signal_count_60d,
			signal_count_90d = EXCLUDED.signal_count_90d,
			signal_velocity = EXCLUDED.signal_velocity,
			strongest_signals = EXCLUDED.strongest_signals,
			composite_signals = EXCLUDED.composite_signals,
			recommended_actions = EXCLUDED.recommended_actions,
			priority_score = EXCLUDED.priority_score,
			model_version = EXCLUDED.model_version,
			model_type = EXCLUDED.model_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at, expires_at
	`,
		id, p.CompanyID, p.OrgID, p.BuyingProbability, p.PredictedTimelineDays, string(p.ConfidenceLevel),
		p.SignalCount30d, p.SignalCount60d, p.SignalCount90d, p.SignalVelocity,
		strongest, composite, actions, p.PriorityScore,
		p.ModelVersion, p.ModelType, expiresAt, now,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert prediction %s", p.CompanyID)
	}
	return nil
}

// GetPrediction returns the stored prediction for a company, or nil if
// none exists or it has expired.
func (s *PostgresStore) GetPrediction(ctx context.Context, companyID, orgID string) (*model.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity, strongest_signals, composite_signals, recommended_actions, priority_score, model_version, model_type, expires_at, created_at, updated_at FROM predictions WHERE company_id = $1 AND org_id = $2 AND expires_at > now()`,
		companyID, orgID,
	)

	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get prediction %s", companyID)
	}
	return p, nil
}

// ListPredictions returns unexpired predictions for an org ranked by
// priority score.
func (s *PostgresStore) ListPredictions(ctx context.Context, filter ListFilter) ([]model.Prediction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, org_id, buying_probability, predicted_timeline_days, confidence_level, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity, strongest_signals, composite_signals, recommended_actions, priority_score, model_version, model_type, expires_at, created_at, updated_at FROM predictions WHERE org_id = $1 AND expires_at > now() ORDER BY priority_score DESC, buying_probability DESC LIMIT $2`,
		filter.OrgID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction")
		}
		predictions = append(predictions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate predictions")
	}
	return predictions, nil
}

// scanPrediction reads one prediction row; works for both pgx.Row and
// pgx.Rows.
func scanPrediction(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	var confidence string
	var strongest, composite, actions []byte

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
	if err := json.Unmarshal(strongest, &p.StrongestSignals); err != nil {
		return nil, fmt.Errorf("unmarshal strongest signals: %w", err)
	}
	if err := json.Unmarshal(composite, &p.CompositeSignals); err != nil {
		return nil, fmt.Errorf("unmarshal composite signals: %w", err)
	}
	if err := json.Unmarshal(actions, &p.RecommendedActions); err != nil {
		return nil, fmt.Errorf("unmarshal recommended actions: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *model.PredictionAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prediction_alerts (id, prediction_id, company_id, org_id, alert_type, alert_priority, message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.PredictionID, alert.CompanyID, alert.OrgID,
		alert.AlertType, alert.AlertPriority, alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert alert for %s", alert.CompanyID)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, orgID string, limit int) ([]model.PredictionAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, prediction_id, company_id, org_id, alert_type, alert_priority, message, created_at FROM prediction_alerts WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var alerts []model.PredictionAlert
	for rows.Next() {
		var a model.PredictionAlert
		if err := rows.Scan(&a.ID, &a.PredictionID, &a.CompanyID, &a.OrgID, &a.AlertType, &a.AlertPriority, &a.Message, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate alerts")
	}
	return alerts, nil
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig *model.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO signals (id, company_id, org_id, category, source, description, detected_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sig.ID, sig.CompanyID, sig.OrgID, string(sig.Category), sig.Source, sig.Description, sig.DetectedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert signal for %s", sig.CompanyID)
	}
	return nil
}

// ImportSignals bulk-loads signals via COPY into a temp table and
// upserts on id, so re-importing the same feed is idempotent.
func (s *PostgresStore) ImportSignals(ctx context.Context, sigs []model.Signal) (int64, error) {
	rows := make([][]any, 0, len(sigs))
	for i := range sigs {
		sig := &sigs[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		if sig.DetectedAt.IsZero() {
			sig.DetectedAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			sig.ID, sig.CompanyID, sig.OrgID, string(sig.Category), sig.Source, sig.Description, sig.DetectedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "signals",
		Columns:      []string{"id", "company_id", "org_id", "category", "source", "description", "detected_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import signals")
	}
	return n, nil
}

func (s *PostgresStore) ListSignalsSince(ctx context.Context, companyID, orgID string, since time.Time) ([]model.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, org_id, category, source, description, detected_at FROM signals WHERE company_id = $1 AND org_id = $2 AND detected_at >= $3 ORDER BY detected_at DESC`,
		companyID, orgID, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list signals for %s", companyID)
	}
	defer rows.Close()

	var sigs []model.Signal
	for rows.Next() {
		var sig model.Signal
		var category string
		if err := rows.Scan(&sig.ID, &sig.CompanyID, &sig.OrgID, &category, &sig.Source, &sig.Description, &sig.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		sig.Category = model.SignalCategory(category)
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate signals")
	}
	return sigs, nil
}

// GetAggregate returns the stored rollup for a company, or nil if none
// has been computed yet.
func (s *PostgresStore) GetAggregate(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error) {
	var a model.SignalAggregate
	var momentum string

	err := s.pool.QueryRow(ctx,
		`SELECT company_id, org_id, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity_30d, funding_signals, hiring_signals, technology_signals, expansion_signals, executive_signals, financial_signals, has_funding_hiring_combo, has_expansion_tech_combo, signal_momentum, computed_at FROM signal_aggregates WHERE company_id = $1 AND org_id = $2`,
		companyID, orgID,
	).Scan(
		&a.CompanyID, &a.OrgID, &a.SignalCount30d, &a.SignalCount60d, &a.SignalCount90d,
		&a.SignalVelocity30d, &a.FundingSignals, &a.HiringSignals, &a.TechnologySignals,
		&a.ExpansionSignals, &a.ExecutiveSignals, &a.FinancialSignals,
		&a.HasFundingHiringCombo, &a.HasExpansionTechCombo, &momentum, &a.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get aggregate %s", companyID)
	}

	a.SignalMomentum = model.ParseMomentum(momentum)
	return &a, nil
}

func (s *PostgresStore) SaveAggregate(ctx context.Context, agg *model.SignalAggregate) error {
	if agg.ComputedAt.IsZero() {
		agg.ComputedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO signal_aggregates
			(company_id, org_id, signal_count_30d, signal_count_60d, signal_count_90d, signal_velocity_30d,
			 funding_signals, hiring_signals, technology_signals, expansion_signals, executive_signals, financial_signals,
			 has_funding_hiring_combo, has_expansion_tech_combo, signal_momentum, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (company_id, org_id) DO UPDATE SET
			signal_count_30d = EXCLUDED.signal_count_30d,
			signal_count_60d = EXCLUDED.signal_count_60d,
			signal_count_90d = EXCLUDED.signal_count_90d,
			signal_velocity_30d = EXCLUDED.signal_velocity_30d,
			funding_signals = EXCLUDED.funding_signals,
			hiring_signals = EXCLUDED.hiring_signals,
			technology_signals = EXCLUDED.technology_signals,
			expansion_signals = EXCLUDED.expansion_signals,
			executive_signals = EXCLUDED.executive_signals,
			financial_signals = EXCLUDED.financial_signals,
			has_funding_hiring_combo = EXCLUDED.has_funding_hiring_combo,
			has_expansion_tech_combo = EXCLUDED.has_expansion_tech_combo,
			signal_momentum = EXCLUDED.signal_momentum,
			computed_at = EXCLUDED.computed_at
	`,
		agg.CompanyID, agg.OrgID, agg.SignalCount30d, agg.SignalCount60d, agg.SignalCount90d,
		agg.SignalVelocity30d, agg.FundingSignals, agg.HiringSignals, agg.TechnologySignals,
		agg.ExpansionSignals, agg.ExecutiveSignals, agg.FinancialSignals,
		agg.HasFundingHiringCombo, agg.HasExpansionTechCombo, string(agg.SignalMomentum), agg.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save aggregate %s", agg.CompanyID)
	}
	return nil
}
