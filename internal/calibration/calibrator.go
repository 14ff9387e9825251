// Package calibration rewrites detector confidence scores using the
// historical approval rate of each anomaly type. It is a closed-form
// statistical adjustment, not a trained model.
package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Calibration contract constants.
const (
	// MinSamples is the smallest historical sample that permits any
	// adjustment; below it the raw score passes through unchanged.
	MinSamples = 5

	// FullWeightSamples is the sample size at which historical evidence
	// carries full weight.
	FullWeightSamples = 50

	// MediumIntervalSamples is the floor for the "medium" interval label.
	MediumIntervalSamples = 20

	factorFloor = 0.5
	factorCeil  = 1.5

	calibratedFloor = 0.1
	calibratedCeil  = 0.99

	// DefaultTTL bounds how stale the accuracy cache may get between
	// outcome writes.
	DefaultTTL = 5 * time.Minute
)

// Result is the output of one calibration.
type Result struct {
	AnomalyType  model.AnomalyType `json:"anomaly_type"`
	Raw          float64           `json:"raw"`
	Calibrated   float64           `json:"calibrated"`
	Interval     string            `json:"interval"` // high, medium, low
	SampleSize   int               `json:"sample_size"`
	ApprovalRate float64           `json:"approval_rate"`
	Factor       float64           `json:"factor"`
}

// AccuracySource supplies the per-type outcome rollups, usually backed by
// the outcomes table.
type AccuracySource interface {
	AccuracyByType(ctx context.Context) ([]model.AnomalyTypeAccuracy, error)
}

// Calibrator holds the process-wide accuracy cache. Reads are lock-cheap;
// a refresh is an idempotent rebuild, so two concurrent refreshes converge
// to the same state.
type Calibrator struct {
	source AccuracySource
	ttl    time.Duration

	mu        sync.RWMutex
	cache     map[model.AnomalyType]model.AnomalyTypeAccuracy
	fetchedAt time.Time
}

// New creates a calibrator. A non-positive ttl selects DefaultTTL.
func New(source AccuracySource, ttl time.Duration) *Calibrator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Calibrator{source: source, ttl: ttl}
}

// Calibrate adjusts a raw confidence using the type's historical approval
// rate, weighted by how much evidence exists.
func (c *Calibrator) Calibrate(ctx context.Context, anomalyType model.AnomalyType, raw float64) (Result, error) {
	res := Result{AnomalyType: anomalyType, Raw: raw, Calibrated: raw, Interval: "low", Factor: 1.0}

	acc, err := c.accuracy(ctx, anomalyType)
	if err != nil {
		return res, err
	}

	resolved := acc.Resolved()
	res.SampleSize = resolved
	res.ApprovalRate = acc.ApprovalRate

	if resolved < MinSamples || raw <= 0 {
		// Not enough history to second-guess the algorithm.
		return res, nil
	}

	factor := clamp(acc.ApprovalRate/raw, factorFloor, factorCeil)
	weight := float64(resolved) / FullWeightSamples
	if weight > 1 {
		weight = 1
	}
	adjusted := 1 + (factor-1)*weight

	res.Factor = adjusted
	res.Calibrated = clamp(raw*adjusted, calibratedFloor, calibratedCeil)
	res.Interval = interval(resolved)
	return res, nil
}

// Invalidate drops the cached rollups; the next Calibrate refetches.
func (c *Calibrator) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// accuracy returns the cached rollup for a type, refreshing past the TTL.
func (c *Calibrator) accuracy(ctx context.Context, anomalyType model.AnomalyType) (model.AnomalyTypeAccuracy, error) {
	c.mu.RLock()
	cache, fetchedAt := c.cache, c.fetchedAt
	c.mu.RUnlock()

	if cache == nil || time.Since(fetchedAt) > c.ttl {
		fresh, err := c.refresh(ctx)
		if err != nil {
			if cache != nil {
				// Stale data beats no data.
				zap.L().Warn("calibration: accuracy refresh failed, serving stale cache", zap.Error(err))
				return cache[anomalyType], nil
			}
			return model.AnomalyTypeAccuracy{}, err
		}
		cache = fresh
	}

	return cache[anomalyType], nil
}

func (c *Calibrator) refresh(ctx context.Context) (map[model.AnomalyType]model.AnomalyTypeAccuracy, error) {
	rollups, err := c.source.AccuracyByType(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "calibration: fetch accuracy rollups")
	}

	fresh := make(map[model.AnomalyType]model.AnomalyTypeAccuracy, len(rollups))
	for _, r := range rollups {
		fresh[r.AnomalyType] = r
	}

	c.mu.Lock()
	c.cache = fresh
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return fresh, nil
}

func interval(samples int) string {
	switch {
	case samples >= FullWeightSamples:
		return "high"
	case samples >= MediumIntervalSamples:
		return "medium"
	default:
		return "low"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
