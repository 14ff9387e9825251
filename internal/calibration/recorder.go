package calibration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// OutcomeStore persists claim outcomes.
type OutcomeStore interface {
	CreateOutcome(ctx context.Context, rec model.OutcomeRecord) error
	UpdateOutcome(ctx context.Context, detectionResultID string, update OutcomeUpdate) error
}

// OutcomeUpdate carries the mutable fields of an outcome. Nil fields are
// left untouched.
type OutcomeUpdate struct {
	Outcome        *model.ClaimOutcome `json:"outcome,omitempty"`
	RecoveryAmount *float64            `json:"recovery_amount,omitempty"`
	ResolutionDate *time.Time          `json:"resolution_date,omitempty"`
}

// Recorder writes claim outcomes and invalidates the calibration cache on
// every write, so the next calibration sees fresh history.
type Recorder struct {
	store      OutcomeStore
	calibrator *Calibrator
}

// NewRecorder creates a recorder. The calibrator may be nil when no
// calibration cache is running in this process.
func NewRecorder(store OutcomeStore, calibrator *Calibrator) *Recorder {
	return &Recorder{store: store, calibrator: calibrator}
}

// RecordOutcome persists a new outcome for a previously emitted detection.
func (r *Recorder) RecordOutcome(ctx context.Context, rec model.OutcomeRecord) (model.OutcomeRecord, error) {
	if rec.DetectionResultID == "" {
		return rec, eris.New("calibration: outcome requires a detection result id")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.FiledDate.IsZero() {
		rec.FiledDate = now
	}

	if err := r.store.CreateOutcome(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "calibration: record outcome")
	}
	r.invalidate()

	zap.L().Info("outcome recorded",
		zap.String("detection_result_id", rec.DetectionResultID),
		zap.String("anomaly_type", string(rec.AnomalyType)),
		zap.String("outcome", string(rec.Outcome)),
	)
	return rec, nil
}

// UpdateOutcome applies a partial update to an existing outcome.
func (r *Recorder) UpdateOutcome(ctx context.Context, detectionResultID string, update OutcomeUpdate) error {
	if err := r.store.UpdateOutcome(ctx, detectionResultID, update); err != nil {
		return eris.Wrapf(err, "calibration: update outcome %s", detectionResultID)
	}
	r.invalidate()
	return nil
}

func (r *Recorder) invalidate() {
	if r.calibrator != nil {
		r.calibrator.Invalidate()
	}
}
