package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/db"
	"github.com/recoup-labs/recovery-cli/internal/model"
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
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_result":           `SELECT id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency, confidence_score, confidence_interval, evidence, related_event_ids, status, discovery_date, deadline_date, days_remaining FROM detection_results WHERE id = $1`,
	"update_result_status": `UPDATE detection_results SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_rate":             `SELECT rate FROM fx_rates WHERE from_currency = $1 AND to_currency = $2 AND rate_date = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

// NewPostgresWithPool wraps an existing pool; tests use it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS detection_results (
	id                  TEXT PRIMARY KEY,
	seller_id           TEXT NOT NULL,
	sync_id             TEXT NOT NULL,
	anomaly_type        TEXT NOT NULL,
	severity            TEXT NOT NULL,
	estimated_value     DOUBLE PRECISION NOT NULL,
	currency            TEXT NOT NULL DEFAULT 'USD',
	confidence_score    DOUBLE PRECISION NOT NULL,
	confidence_interval TEXT,
	evidence            JSONB NOT NULL,
	related_event_ids   JSONB,
	status              TEXT NOT NULL DEFAULT 'pending',
	discovery_date      TIMESTAMPTZ NOT NULL,
	deadline_date       TIMESTAMPTZ,
	days_remaining      INTEGER NOT NULL DEFAULT 0,
	dedupe_key          TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (seller_id, sync_id, anomaly_type, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_results_seller ON detection_results(seller_id);
CREATE INDEX IF NOT EXISTS idx_results_sync ON detection_results(sync_id);
CREATE INDEX IF NOT EXISTS idx_results_type ON detection_results(anomaly_type);
CREATE INDEX IF NOT EXISTS idx_results_status ON detection_results(status);

CREATE TABLE IF NOT EXISTS claim_outcomes (
	id                   TEXT PRIMARY KEY,
	detection_result_id  TEXT NOT NULL UNIQUE,
	seller_id            TEXT NOT NULL,
	anomaly_type         TEXT NOT NULL,
	predicted_confidence DOUBLE PRECISION NOT NULL,
	estimated_value      DOUBLE PRECISION NOT NULL,
	outcome              TEXT NOT NULL DEFAULT 'pending',
	recovery_amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	filed_date           TIMESTAMPTZ NOT NULL,
	resolution_date      TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outcomes_type ON claim_outcomes(anomaly_type);
CREATE INDEX IF NOT EXISTS idx_outcomes_seller ON claim_outcomes(seller_id);

CREATE TABLE IF NOT EXISTS fx_rates (
	from_currency TEXT NOT NULL,
	to_currency   TEXT NOT NULL,
	rate_date     DATE NOT NULL,
	rate          DOUBLE PRECISION NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (from_currency, to_currency, rate_date)
);
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

var resultColumns = []string{
	"id", "seller_id", "sync_id", "anomaly_type", "severity",
	"estimated_value", "currency", "confidence_score", "confidence_interval",
	"evidence", "related_event_ids", "status", "discovery_date",
	"deadline_date", "days_remaining", "dedupe_key",
}

func resultRow(r model.DetectionResult) ([]any, error) {
	evidenceJSON, err := json.Marshal(r.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal evidence")
	}
	relatedJSON, err := json.Marshal(r.RelatedEventIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal related event ids")
	}
	return []any{
		r.ID, r.SellerID, r.SyncID, string(r.AnomalyType), string(r.Severity),
		r.EstimatedValue, r.Currency, r.ConfidenceScore, r.ConfidenceInterval,
		evidenceJSON, relatedJSON, string(r.Status), r.DiscoveryDate,
		r.DeadlineDate, r.DaysRemaining, dedupeKey(r),
	}, nil
}

// InsertResults batch-upserts a detection batch. The conflict target is the
// dedupe fingerprint, so re-running the same sync refreshes scores instead
// of duplicating rows.
func (s *PostgresStore) InsertResults(ctx context.Context, results []model.DetectionResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		row, err := resultRow(r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "detection_results",
		Columns:      resultColumns,
		ConflictKeys: []string{"seller_id", "sync_id", "anomaly_type", "dedupe_key"},
		UpdateCols: []string{
			"severity", "estimated_value", "confidence_score",
			"confidence_interval", "evidence", "status", "deadline_date",
			"days_remaining",
		},
	}, rows)
	return eris.Wrap(err, "postgres: insert results")
}

// UpsertTrapResult writes one behavioral trap record, replacing the prior
// observation for the same fingerprint.
func (s *PostgresStore) UpsertTrapResult(ctx context.Context, result model.DetectionResult) error {
	row, err := resultRow(result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO detection_results
			(id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency,
			 confidence_score, confidence_interval, evidence, related_event_ids, status,
			 discovery_date, deadline_date, days_remaining, dedupe_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (seller_id, sync_id, anomaly_type, dedupe_key) DO UPDATE SET
			severity = EXCLUDED.severity,
			estimated_value = EXCLUDED.estimated_value,
			confidence_score = EXCLUDED.confidence_score,
			confidence_interval = EXCLUDED.confidence_interval,
			evidence = EXCLUDED.evidence,
			days_remaining = EXCLUDED.days_remaining,
			updated_at = now()`,
		row...,
	)
	return eris.Wrapf(err, "postgres: upsert trap result %s", result.ID)
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.DetectionResult, error) {
	query := `SELECT id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency, confidence_score, confidence_interval, evidence, related_event_ids, status, discovery_date, deadline_date, days_remaining FROM detection_results WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SellerID != "" {
		query += fmt.Sprintf(` AND seller_id = $%d`, argIdx)
		args = append(args, filter.SellerID)
		argIdx++
	}
	if filter.SyncID != "" {
		query += fmt.Sprintf(` AND sync_id = $%d`, argIdx)
		args = append(args, filter.SyncID)
		argIdx++
	}
	if filter.AnomalyType != "" {
		query += fmt.Sprintf(` AND anomaly_type = $%d`, argIdx)
		args = append(args, string(filter.AnomalyType))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MinValue > 0 {
		query += fmt.Sprintf(` AND estimated_value >= $%d`, argIdx)
		args = append(args, filter.MinValue)
		argIdx++
	}
	query += ` ORDER BY estimated_value DESC, discovery_date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.DetectionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results rows")
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.DetectionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency, confidence_score, confidence_interval, evidence, related_event_ids, status, discovery_date, deadline_date, days_remaining FROM detection_results WHERE id = $1`,
		id,
	)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("detection result not found: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", id)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateResultStatus(ctx context.Context, id string, status model.DetectionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE detection_results SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update result status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("detection result not found: %s", id)
	}
	return nil
}

// scanTarget is satisfied by both pgx.Row and pgx.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanResult(row scanTarget) (model.DetectionResult, error) {
	var r model.DetectionResult
	var evidenceJSON, relatedJSON []byte
	err := row.Scan(
		&r.ID, &r.SellerID, &r.SyncID, &r.AnomalyType, &r.Severity,
		&r.EstimatedValue, &r.Currency, &r.ConfidenceScore, &r.ConfidenceInterval,
		&evidenceJSON, &relatedJSON, &r.Status, &r.DiscoveryDate,
		&r.DeadlineDate, &r.DaysRemaining,
	)
	if err != nil {
		return model.DetectionResult{}, err
	}
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &r.Evidence); err != nil {
			return model.DetectionResult{}, eris.Wrap(err, "postgres: unmarshal evidence")
		}
	}
	if len(relatedJSON) > 0 {
		if err := json.Unmarshal(relatedJSON, &r.RelatedEventIDs); err != nil {
			return model.DetectionResult{}, eris.Wrap(err, "postgres: unmarshal related event ids")
		}
	}
	return r, nil
}

func (s *PostgresStore) CreateOutcome(ctx context.Context, rec model.OutcomeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claim_outcomes
			(id, detection_result_id, seller_id, anomaly_type, predicted_confidence,
			 estimated_value, outcome, recovery_amount, filed_date, resolution_date,
			 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.DetectionResultID, rec.SellerID, string(rec.AnomalyType),
		rec.PredictedConfidence, rec.EstimatedValue, string(rec.Outcome),
		rec.RecoveryAmount, rec.FiledDate, rec.ResolutionDate,
		rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create outcome for %s", rec.DetectionResultID)
}

func (s *PostgresStore) UpdateOutcome(ctx context.Context, detectionResultID string, update calibration.OutcomeUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	argIdx := 1

	if update.Outcome != nil {
		sets = append(sets, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, string(*update.Outcome))
		argIdx++
	}
	if update.RecoveryAmount != nil {
		sets = append(sets, fmt.Sprintf("recovery_amount = $%d", argIdx))
		args = append(args, *update.RecoveryAmount)
		argIdx++
	}
	if update.ResolutionDate != nil {
		sets = append(sets, fmt.Sprintf("resolution_date = $%d", argIdx))
		args = append(args, *update.ResolutionDate)
		argIdx++
	}

	query := fmt.Sprintf(`UPDATE claim_outcomes SET %s WHERE detection_result_id = $%d`,
		strings.Join(sets, ", "), argIdx)
	args = append(args, detectionResultID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update outcome for %s", detectionResultID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("outcome not found for detection result: %s", detectionResultID)
	}
	return nil
}

const accuracyQuery = `
SELECT
	anomaly_type,
	COUNT(*) AS total_claims,
	COUNT(*) FILTER (WHERE outcome = 'approved') AS approved,
	COUNT(*) FILTER (WHERE outcome = 'rejected') AS rejected,
	COUNT(*) FILTER (WHERE outcome = 'partial')  AS partial,
	COUNT(*) FILTER (WHERE outcome = 'pending')  AS pending,
	COUNT(*) FILTER (WHERE outcome = 'expired')  AS expired,
	COALESCE(AVG(predicted_confidence), 0) AS avg_predicted_confidence,
	COALESCE(AVG(CASE WHEN estimated_value > 0 THEN recovery_amount / estimated_value END), 0) AS avg_recovery_pct,
	COALESCE(AVG(CASE WHEN resolution_date IS NOT NULL
		THEN EXTRACT(EPOCH FROM resolution_date - filed_date) / 86400.0 END), 0) AS avg_days_to_resolution,
	COALESCE(SUM(recovery_amount), 0) AS total_recovered
FROM claim_outcomes
GROUP BY anomaly_type`

// AccuracyByType rebuilds the per-type accuracy rollup from historical
// outcomes. Partial recoveries count as half a win over resolved claims.
func (s *PostgresStore) AccuracyByType(ctx context.Context) ([]model.AnomalyTypeAccuracy, error) {
	rows, err := s.pool.Query(ctx, accuracyQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: accuracy by type")
	}
	defer rows.Close()

	var out []model.AnomalyTypeAccuracy
	for rows.Next() {
		var a model.AnomalyTypeAccuracy
		if err := rows.Scan(
			&a.AnomalyType, &a.TotalClaims, &a.Approved, &a.Rejected,
			&a.Partial, &a.Pending, &a.Expired, &a.AvgPredictedConfidence,
			&a.AvgRecoveryPct, &a.AvgDaysToResolution, &a.TotalRecovered,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan accuracy row")
		}
		if resolved := a.Resolved(); resolved > 0 {
			a.ApprovalRate = (float64(a.Approved) + 0.5*float64(a.Partial)) / float64(resolved)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: accuracy rows")
}

func (s *PostgresStore) GetRate(ctx context.Context, from, to string, day time.Time) (float64, bool, error) {
	var rate float64
	err := s.pool.QueryRow(ctx,
		`SELECT rate FROM fx_rates WHERE from_currency = $1 AND to_currency = $2 AND rate_date = $3`,
		from, to, day.UTC().Truncate(24*time.Hour),
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: get rate %s/%s", from, to)
	}
	return rate, true, nil
}

func (s *PostgresStore) PutRate(ctx context.Context, from, to string, day time.Time, value float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fx_rates (from_currency, to_currency, rate_date, rate, fetched_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (from_currency, to_currency, rate_date)
		 DO UPDATE SET rate = EXCLUDED.rate, fetched_at = EXCLUDED.fetched_at`,
		from, to, day.UTC().Truncate(24*time.Hour), value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put rate %s/%s", from, to)
}
