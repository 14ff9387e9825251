// Package detector implements the anomaly detectors of the recovery audit
// engine. Each detector is a pure function of its input collections; the
// only shared services are the injected caches (FX, cost, calibration).
package detector

import (
	"context"
	"sort"
	"time"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Input carries one seller's pre-filtered event collections for a single
// sync batch. Collections are already scoped to the caller's lookback
// window; detectors only sub-window internally.
type Input struct {
	SellerID string
	SyncID   string
	Currency string // seller's home currency, defaults to USD

	Orders      []model.Order
	Returns     []model.Return
	Refunds     []model.Refund
	Snapshots   []model.InventorySnapshot
	Adjustments []model.InventoryAdjustment
	Shipments   []model.Shipment
	Removals    []model.RemovalEvent
	Claims      []model.ClaimRecord
	Listings    []model.ListingPerformance
	Prices      []model.PricePoint

	// Now pins the reference time for age arithmetic. Zero means wall clock.
	Now time.Time
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now().UTC()
	}
	return in.Now
}

func (in Input) currency() string {
	if in.Currency == "" {
		return "USD"
	}
	return in.Currency
}

// Detector is the shared contract for all anomaly detectors.
type Detector interface {
	// Name identifies the detector for logging and registry lookups.
	Name() string

	// MinValue is the smallest expected recovery worth emitting.
	MinValue() float64

	// ShowThreshold is the minimum confidence score worth emitting.
	ShowThreshold() float64

	// Detect analyzes the input and returns detections sorted by financial
	// impact descending. Candidates below MinValue or ShowThreshold must be
	// silently dropped, not returned with a low-confidence flag.
	Detect(ctx context.Context, in Input) ([]model.DetectionResult, error)
}

// Registry holds the detectors to run, in registration order.
type Registry struct {
	detectors []Detector
}

// NewRegistry creates a registry pre-loaded with the given detectors.
func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// Register appends a detector.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// All returns the registered detectors.
func (r *Registry) All() []Detector {
	return r.detectors
}

// DefaultRegistry returns a registry with all eight production detectors.
// unitValue estimation in shrinkage/suppression/return-anomaly detectors
// falls back to the given default when no price history exists.
func DefaultRegistry(defaultUnitValue float64) *Registry {
	return NewRegistry(
		NewRefundNoReturn(),
		NewPhantomRefund(),
		NewReturnAbuse(),
		NewShrinkageDrift(defaultUnitValue),
		NewOrderDiscrepancy(),
		NewClaimGaps(),
		NewReturnAnomalies(defaultUnitValue),
		NewSilentSuppression(defaultUnitValue),
	)
}

// sortByImpact orders results by estimated value descending so downstream
// consumers can truncate safely.
func sortByImpact(results []model.DetectionResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EstimatedValue > results[j].EstimatedValue
	})
}

// gate drops candidates below the detector's value and confidence floors.
func gate(results []model.DetectionResult, minValue, showThreshold float64) []model.DetectionResult {
	kept := results[:0]
	for _, r := range results {
		if r.EstimatedValue < minValue || r.ConfidenceScore < showThreshold {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// daysBetween returns whole days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// round2 rounds a currency amount to cents.
func round2(v float64) float64 {
	return model.Round2(v)
}
