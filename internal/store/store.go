package store

import (
	"context"
	"strings"
	"time"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

// ResultFilter specifies criteria for listing detection results.
type ResultFilter struct {
	SellerID    string                `json:"seller_id,omitempty"`
	SyncID      string                `json:"sync_id,omitempty"`
	AnomalyType model.AnomalyType     `json:"anomaly_type,omitempty"`
	Status      model.DetectionStatus `json:"status,omitempty"`
	MinValue    float64               `json:"min_value,omitempty"`
	Limit       int                   `json:"limit,omitempty"`
	Offset      int                   `json:"offset,omitempty"`
}

// Store defines the persistence interface for the audit engine: detection
// results from the detectors, claim outcomes for the calibrator, and a
// durable exchange-rate tier for the FX resolver. It satisfies
// calibration.OutcomeStore and calibration.AccuracySource.
type Store interface {
	// Detection results
	InsertResults(ctx context.Context, results []model.DetectionResult) error
	UpsertTrapResult(ctx context.Context, result model.DetectionResult) error
	ListResults(ctx context.Context, filter ResultFilter) ([]model.DetectionResult, error)
	GetResult(ctx context.Context, id string) (*model.DetectionResult, error)
	UpdateResultStatus(ctx context.Context, id string, status model.DetectionStatus) error

	// Claim outcomes
	CreateOutcome(ctx context.Context, rec model.OutcomeRecord) error
	UpdateOutcome(ctx context.Context, detectionResultID string, update calibration.OutcomeUpdate) error
	AccuracyByType(ctx context.Context) ([]model.AnomalyTypeAccuracy, error)

	// Exchange rates
	GetRate(ctx context.Context, from, to string, day time.Time) (float64, bool, error)
	PutRate(ctx context.Context, from, to string, day time.Time, value float64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RateCache adapts a Store to the fx cache interface so resolved rates
// survive process restarts.
type RateCache struct {
	S Store
}

func (r RateCache) Get(ctx context.Context, from, to string, day time.Time) (float64, bool, error) {
	return r.S.GetRate(ctx, from, to, day)
}

func (r RateCache) Put(ctx context.Context, from, to string, day time.Time, value float64) error {
	return r.S.PutRate(ctx, from, to, day, value)
}

// dedupeKey is the stable fingerprint that keeps re-runs of the same sync
// batch from duplicating a result. Results with no related events fall
// back to the anomaly type alone, which is correct for the one-per-batch
// detectors.
func dedupeKey(r model.DetectionResult) string {
	if len(r.RelatedEventIDs) == 0 {
		return string(r.AnomalyType)
	}
	return strings.Join(r.RelatedEventIDs, "|")
}
