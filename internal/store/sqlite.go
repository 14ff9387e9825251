package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-process backend for local audits; postgres is the shared one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqldb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS detection_results (
	id                  TEXT PRIMARY KEY,
	seller_id           TEXT NOT NULL,
	sync_id             TEXT NOT NULL,
	anomaly_type        TEXT NOT NULL,
	severity            TEXT NOT NULL,
	estimated_value     REAL NOT NULL,
	currency            TEXT NOT NULL DEFAULT 'USD',
	confidence_score    REAL NOT NULL,
	confidence_interval TEXT,
	evidence            TEXT NOT NULL,
	related_event_ids   TEXT,
	status              TEXT NOT NULL DEFAULT 'pending',
	discovery_date      DATETIME NOT NULL,
	deadline_date       DATETIME,
	days_remaining      INTEGER NOT NULL DEFAULT 0,
	dedupe_key          TEXT NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
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
	predicted_confidence REAL NOT NULL,
	estimated_value      REAL NOT NULL,
	outcome              TEXT NOT NULL DEFAULT 'pending',
	recovery_amount      REAL NOT NULL DEFAULT 0,
	filed_date           DATETIME NOT NULL,
	resolution_date      DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_outcomes_type ON claim_outcomes(anomaly_type);
CREATE INDEX IF NOT EXISTS idx_outcomes_seller ON claim_outcomes(seller_id);

CREATE TABLE IF NOT EXISTS fx_rates (
	from_currency TEXT NOT NULL,
	to_currency   TEXT NOT NULL,
	rate_date     TEXT NOT NULL,
	rate          REAL NOT NULL,
	fetched_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (from_currency, to_currency, rate_date)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertResult = `
INSERT INTO detection_results
	(id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency,
	 confidence_score, confidence_interval, evidence, related_event_ids, status,
	 discovery_date, deadline_date, days_remaining, dedupe_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (seller_id, sync_id, anomaly_type, dedupe_key) DO UPDATE SET
	severity = excluded.severity,
	estimated_value = excluded.estimated_value,
	confidence_score = excluded.confidence_score,
	confidence_interval = excluded.confidence_interval,
	evidence = excluded.evidence,
	status = excluded.status,
	deadline_date = excluded.deadline_date,
	days_remaining = excluded.days_remaining,
	updated_at = datetime('now')`

func (s *SQLiteStore) InsertResults(ctx context.Context, results []model.DetectionResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertResult)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare result upsert")
	}
	defer stmt.Close()

	for _, r := range results {
		args, err := sqliteResultArgs(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) UpsertTrapResult(ctx context.Context, result model.DetectionResult) error {
	args, err := sqliteResultArgs(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertResult, args...)
	return eris.Wrapf(err, "sqlite: upsert trap result %s", result.ID)
}

func sqliteResultArgs(r model.DetectionResult) ([]any, error) {
	evidenceJSON, err := json.Marshal(r.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal evidence")
	}
	relatedJSON, err := json.Marshal(r.RelatedEventIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal related event ids")
	}
	return []any{
		r.ID, r.SellerID, r.SyncID, string(r.AnomalyType), string(r.Severity),
		r.EstimatedValue, r.Currency, r.ConfidenceScore, r.ConfidenceInterval,
		string(evidenceJSON), string(relatedJSON), string(r.Status),
		r.DiscoveryDate.UTC(), r.DeadlineDate, r.DaysRemaining, dedupeKey(r),
	}, nil
}

const sqliteResultSelect = `SELECT id, seller_id, sync_id, anomaly_type, severity, estimated_value, currency, confidence_score, confidence_interval, evidence, related_event_ids, status, discovery_date, deadline_date, days_remaining FROM detection_results`

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.DetectionResult, error) {
	query := sqliteResultSelect + ` WHERE 1=1`
	args := []any{}

	if filter.SellerID != "" {
		query += ` AND seller_id = ?`
		args = append(args, filter.SellerID)
	}
	if filter.SyncID != "" {
		query += ` AND sync_id = ?`
		args = append(args, filter.SyncID)
	}
	if filter.AnomalyType != "" {
		query += ` AND anomaly_type = ?`
		args = append(args, string(filter.AnomalyType))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.MinValue > 0 {
		query += ` AND estimated_value >= ?`
		args = append(args, filter.MinValue)
	}
	query += ` ORDER BY estimated_value DESC, discovery_date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.DetectionResult
	for rows.Next() {
		r, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results rows")
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.DetectionResult, error) {
	row := s.db.QueryRowContext(ctx, sqliteResultSelect+` WHERE id = ?`, id)
	r, err := scanSQLiteResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("detection result not found: %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get result %s", id)
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateResultStatus(ctx context.Context, id string, status model.DetectionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE detection_results SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update result status %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("detection result not found: %s", id)
	}
	return nil
}

func scanSQLiteResult(row scanTarget) (model.DetectionResult, error) {
	var r model.DetectionResult
	var evidenceJSON, relatedJSON sql.NullString
	var interval sql.NullString
	var deadline sql.NullTime
	err := row.Scan(
		&r.ID, &r.SellerID, &r.SyncID, &r.AnomalyType, &r.Severity,
		&r.EstimatedValue, &r.Currency, &r.ConfidenceScore, &interval,
		&evidenceJSON, &relatedJSON, &r.Status, &r.DiscoveryDate,
		&deadline, &r.DaysRemaining,
	)
	if err != nil {
		return model.DetectionResult{}, err
	}
	r.ConfidenceInterval = interval.String
	if deadline.Valid {
		d := deadline.Time
		r.DeadlineDate = &d
	}
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		if err := json.Unmarshal([]byte(evidenceJSON.String), &r.Evidence); err != nil {
			return model.DetectionResult{}, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
	}
	if relatedJSON.Valid && relatedJSON.String != "" {
		if err := json.Unmarshal([]byte(relatedJSON.String), &r.RelatedEventIDs); err != nil {
			return model.DetectionResult{}, eris.Wrap(err, "sqlite: unmarshal related event ids")
		}
	}
	return r, nil
}

func (s *SQLiteStore) CreateOutcome(ctx context.Context, rec model.OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claim_outcomes
			(id, detection_result_id, seller_id, anomaly_type, predicted_confidence,
			 estimated_value, outcome, recovery_amount, filed_date, resolution_date,
			 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DetectionResultID, rec.SellerID, string(rec.AnomalyType),
		rec.PredictedConfidence, rec.EstimatedValue, string(rec.Outcome),
		rec.RecoveryAmount, rec.FiledDate.UTC(), rec.ResolutionDate,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create outcome for %s", rec.DetectionResultID)
}

func (s *SQLiteStore) UpdateOutcome(ctx context.Context, detectionResultID string, update calibration.OutcomeUpdate) error {
	sets := []string{"updated_at = datetime('now')"}
	args := []any{}

	if update.Outcome != nil {
		sets = append(sets, "outcome = ?")
		args = append(args, string(*update.Outcome))
	}
	if update.RecoveryAmount != nil {
		sets = append(sets, "recovery_amount = ?")
		args = append(args, *update.RecoveryAmount)
	}
	if update.ResolutionDate != nil {
		sets = append(sets, "resolution_date = ?")
		args = append(args, update.ResolutionDate.UTC())
	}
	args = append(args, detectionResultID)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE claim_outcomes SET %s WHERE detection_result_id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update outcome for %s", detectionResultID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("outcome not found for detection result: %s", detectionResultID)
	}
	return nil
}

const sqliteAccuracyQuery = `
SELECT
	anomaly_type,
	COUNT(*) AS total_claims,
	SUM(CASE WHEN outcome = 'approved' THEN 1 ELSE 0 END) AS approved,
	SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END) AS rejected,
	SUM(CASE WHEN outcome = 'partial'  THEN 1 ELSE 0 END) AS partial,
	SUM(CASE WHEN outcome = 'pending'  THEN 1 ELSE 0 END) AS pending,
	SUM(CASE WHEN outcome = 'expired'  THEN 1 ELSE 0 END) AS expired,
	COALESCE(AVG(predicted_confidence), 0) AS avg_predicted_confidence,
	COALESCE(AVG(CASE WHEN estimated_value > 0 THEN recovery_amount / estimated_value END), 0) AS avg_recovery_pct,
	COALESCE(AVG(CASE WHEN resolution_date IS NOT NULL
		THEN (julianday(resolution_date) - julianday(filed_date)) END), 0) AS avg_days_to_resolution,
	COALESCE(SUM(recovery_amount), 0) AS total_recovered
FROM claim_outcomes
GROUP BY anomaly_type`

func (s *SQLiteStore) AccuracyByType(ctx context.Context) ([]model.AnomalyTypeAccuracy, error) {
	rows, err := s.db.QueryContext(ctx, sqliteAccuracyQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: accuracy by type")
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
			return nil, eris.Wrap(err, "sqlite: scan accuracy row")
		}
		if resolved := a.Resolved(); resolved > 0 {
			a.ApprovalRate = (float64(a.Approved) + 0.5*float64(a.Partial)) / float64(resolved)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: accuracy rows")
}

func rateDay(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

func (s *SQLiteStore) GetRate(ctx context.Context, from, to string, day time.Time) (float64, bool, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx,
		`SELECT rate FROM fx_rates WHERE from_currency = ? AND to_currency = ? AND rate_date = ?`,
		from, to, rateDay(day),
	).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: get rate %s/%s", from, to)
	}
	return rate, true, nil
}

func (s *SQLiteStore) PutRate(ctx context.Context, from, to string, day time.Time, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fx_rates (from_currency, to_currency, rate_date, rate, fetched_at)
		 VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (from_currency, to_currency, rate_date)
		 DO UPDATE SET rate = excluded.rate, fetched_at = datetime('now')`,
		from, to, rateDay(day), value,
	)
	return eris.Wrapf(err, "sqlite: put rate %s/%s", from, to)
}
