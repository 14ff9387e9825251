package calibration

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

type fakeOutcomeStore struct {
	created []model.OutcomeRecord
	updates map[string]OutcomeUpdate
	err     error
}

func (s *fakeOutcomeStore) CreateOutcome(_ context.Context, rec model.OutcomeRecord) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, rec)
	return nil
}

func (s *fakeOutcomeStore) UpdateOutcome(_ context.Context, id string, update OutcomeUpdate) error {
	if s.err != nil {
		return s.err
	}
	if s.updates == nil {
		s.updates = map[string]OutcomeUpdate{}
	}
	s.updates[id] = update
	return nil
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("fills id and timestamps and invalidates the cache", func(t *testing.T) {
		store := &fakeOutcomeStore{}
		src := &fakeSource{}
		cal := New(src, time.Hour)

		// Warm the cache so the invalidation is observable.
		_, err := cal.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.8)
		require.NoError(t, err)
		require.Equal(t, int64(1), src.calls.Load())

		r := NewRecorder(store, cal)
		rec, err := r.RecordOutcome(ctx, model.OutcomeRecord{
			DetectionResultID:   "det-1",
			SellerID:            "seller-1",
			AnomalyType:         model.AnomalyRefundNoReturn,
			PredictedConfidence: 0.8,
			EstimatedValue:      120,
			Outcome:             model.OutcomeApproved,
			RecoveryAmount:      120,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.False(t, rec.FiledDate.IsZero())
		require.Len(t, store.created, 1)

		_, err = cal.Calibrate(ctx, model.AnomalyRefundNoReturn, 0.8)
		require.NoError(t, err)
		assert.Equal(t, int64(2), src.calls.Load(), "cache should have been invalidated")
	})

	t.Run("missing detection result id is rejected", func(t *testing.T) {
		r := NewRecorder(&fakeOutcomeStore{}, nil)
		_, err := r.RecordOutcome(ctx, model.OutcomeRecord{Outcome: model.OutcomeApproved})
		assert.Error(t, err)
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		r := NewRecorder(&fakeOutcomeStore{err: eris.New("insert failed")}, nil)
		_, err := r.RecordOutcome(ctx, model.OutcomeRecord{DetectionResultID: "det-1"})
		assert.Error(t, err)
	})
}

func TestUpdateOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("partial update passes through", func(t *testing.T) {
		store := &fakeOutcomeStore{}
		r := NewRecorder(store, nil)

		outcome := model.OutcomePartial
		amount := 45.0
		err := r.UpdateOutcome(ctx, "det-2", OutcomeUpdate{
			Outcome:        &outcome,
			RecoveryAmount: &amount,
		})
		require.NoError(t, err)

		update, ok := store.updates["det-2"]
		require.True(t, ok)
		assert.Equal(t, model.OutcomePartial, *update.Outcome)
		assert.Equal(t, 45.0, *update.RecoveryAmount)
		assert.Nil(t, update.ResolutionDate)
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		r := NewRecorder(&fakeOutcomeStore{err: eris.New("update failed")}, nil)
		err := r.UpdateOutcome(ctx, "det-2", OutcomeUpdate{})
		assert.Error(t, err)
	})
}
