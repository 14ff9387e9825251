package calibration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

type fakeSource struct {
	calls    atomic.Int64
	rollups  []model.AnomalyTypeAccuracy
	err      error
	failNext atomic.Bool
}

func (s *fakeSource) AccuracyByType(context.Context) ([]model.AnomalyTypeAccuracy, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.failNext.Swap(false) {
		return nil, eris.New("db gone")
	}
	return s.rollups, nil
}

func accuracy(anomaly model.AnomalyType, approved, rejected int, rate float64) model.AnomalyTypeAccuracy {
	return model.AnomalyTypeAccuracy{
		AnomalyType:  anomaly,
		TotalClaims:  approved + rejected,
		Approved:     approved,
		Rejected:     rejected,
		ApprovalRate: rate,
	}
}

func TestCalibrate(t *testing.T) {
	ctx := context.Background()

	t.Run("thin history passes the raw score through", func(t *testing.T) {
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyRefundNoReturn, 3, 1, 0.75),
		}}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		assert.Equal(t, 0.90, res.Calibrated)
		assert.Equal(t, "low", res.Interval)
		assert.Equal(t, 4, res.SampleSize)
		assert.Equal(t, 1.0, res.Factor)
	})

	t.Run("overconfident detector is pulled down by a poor approval rate", func(t *testing.T) {
		// 60 resolved claims, 40% approved: raw 0.90 gets the full 0.5x
		// factor floor.
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyShrinkageDrift, 24, 36, 0.40),
		}}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalyShrinkageDrift, 0.90)
		require.NoError(t, err)
		assert.InDelta(t, 0.45, res.Calibrated, 1e-9)
		assert.Equal(t, "high", res.Interval)
		assert.Equal(t, 60, res.SampleSize)
		assert.Less(t, res.Calibrated, res.Raw)
	})

	t.Run("underconfident detector is lifted", func(t *testing.T) {
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyPhantomRefund, 45, 5, 0.90),
		}}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalyPhantomRefund, 0.60)
		require.NoError(t, err)
		// factor = 0.90/0.60 = 1.5 at full weight
		assert.InDelta(t, 0.90, res.Calibrated, 1e-9)
		assert.Greater(t, res.Calibrated, res.Raw)
	})

	t.Run("partial weight with a medium sample", func(t *testing.T) {
		// 25 resolved: factor 0.5 weighted by 25/50 -> adjusted 0.75.
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyRefundNoReturn, 10, 15, 0.40),
		}}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		assert.InDelta(t, 0.675, res.Calibrated, 1e-9)
		assert.Equal(t, "medium", res.Interval)
	})

	t.Run("calibrated score never exceeds the ceiling", func(t *testing.T) {
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyPhantomRefund, 50, 0, 1.0),
		}}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalyPhantomRefund, 0.95)
		require.NoError(t, err)
		assert.Equal(t, 0.99, res.Calibrated)
	})

	t.Run("unknown type has no history and passes through", func(t *testing.T) {
		src := &fakeSource{}
		c := New(src, time.Minute)

		res, err := c.Calibrate(ctx, model.AnomalySilentSuppression, 0.70)
		require.NoError(t, err)
		assert.Equal(t, 0.70, res.Calibrated)
		assert.Equal(t, 0, res.SampleSize)
	})

	t.Run("source failure with a cold cache surfaces the error", func(t *testing.T) {
		src := &fakeSource{err: eris.New("db unavailable")}
		c := New(src, time.Minute)

		_, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.80)
		assert.Error(t, err)
	})
}

func TestCalibratorCache(t *testing.T) {
	ctx := context.Background()

	t.Run("rollups are fetched once within the TTL", func(t *testing.T) {
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyRefundNoReturn, 24, 36, 0.40),
		}}
		c := New(src, time.Minute)

		for i := 0; i < 5; i++ {
			_, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(1), src.calls.Load())
	})

	t.Run("invalidate forces a refetch", func(t *testing.T) {
		src := &fakeSource{}
		c := New(src, time.Minute)

		_, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		c.Invalidate()
		_, err = c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		assert.Equal(t, int64(2), src.calls.Load())
	})

	t.Run("stale cache is served when a refresh fails", func(t *testing.T) {
		src := &fakeSource{rollups: []model.AnomalyTypeAccuracy{
			accuracy(model.AnomalyRefundNoReturn, 24, 36, 0.40),
		}}
		c := New(src, time.Nanosecond) // force expiry on every call

		res, err := c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		require.Equal(t, 60, res.SampleSize)

		src.failNext.Store(true)
		time.Sleep(time.Millisecond)
		res, err = c.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.90)
		require.NoError(t, err)
		assert.Equal(t, 60, res.SampleSize)
	})
}
