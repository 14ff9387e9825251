package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testResult(sellerID, syncID string, typ model.AnomalyType, value float64) model.DetectionResult {
	return model.DetectionResult{
		ID:              uuid.New().String(),
		SellerID:        sellerID,
		SyncID:          syncID,
		AnomalyType:     typ,
		Severity:        model.SeverityMedium,
		EstimatedValue:  value,
		Currency:        "USD",
		ConfidenceScore: 0.8,
		Evidence: model.Evidence{
			Reasons: []string{"refund issued with no matching return"},
			Metrics: map[string]float64{"refund_amount": value},
		},
		RelatedEventIDs: []string{"refund-" + uuid.New().String()[:8]},
		Status:          model.StatusPending,
		DiscoveryDate:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("insert and list with filters", func(t *testing.T) {
		batch := []model.DetectionResult{
			testResult("S1", "sync-1", model.AnomalyRefundNoReturn, 120),
			testResult("S1", "sync-1", model.AnomalyPhantomRefund, 45),
			testResult("S2", "sync-2", model.AnomalyRefundNoReturn, 300),
		}
		require.NoError(t, s.InsertResults(ctx, batch))

		all, err := s.ListResults(ctx, ResultFilter{SellerID: "S1"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		// Highest impact first.
		assert.InDelta(t, 120, all[0].EstimatedValue, 0.001)

		typed, err := s.ListResults(ctx, ResultFilter{AnomalyType: model.AnomalyRefundNoReturn})
		require.NoError(t, err)
		assert.Len(t, typed, 2)

		valued, err := s.ListResults(ctx, ResultFilter{MinValue: 100})
		require.NoError(t, err)
		assert.Len(t, valued, 2)
	})

	t.Run("re-inserting the same batch does not duplicate", func(t *testing.T) {
		r := testResult("S3", "sync-3", model.AnomalyExcessRefund, 75)
		require.NoError(t, s.InsertResults(ctx, []model.DetectionResult{r}))

		// Same fingerprint, fresh ID and score, as a re-run would produce.
		rerun := r
		rerun.ID = uuid.New().String()
		rerun.ConfidenceScore = 0.9
		require.NoError(t, s.InsertResults(ctx, []model.DetectionResult{rerun}))

		results, err := s.ListResults(ctx, ResultFilter{SellerID: "S3"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 0.9, results[0].ConfidenceScore, 0.001)
	})

	t.Run("trap upsert replaces prior observation", func(t *testing.T) {
		r := testResult("S4", "sync-4", model.AnomalySerialReturner, 50)
		require.NoError(t, s.UpsertTrapResult(ctx, r))

		r2 := r
		r2.ID = uuid.New().String()
		r2.EstimatedValue = 85
		require.NoError(t, s.UpsertTrapResult(ctx, r2))

		results, err := s.ListResults(ctx, ResultFilter{SellerID: "S4"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 85, results[0].EstimatedValue, 0.001)
	})

	t.Run("get round-trips evidence", func(t *testing.T) {
		r := testResult("S5", "sync-5", model.AnomalyShrinkageDrift, 200)
		deadline := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
		r.DeadlineDate = &deadline
		require.NoError(t, s.InsertResults(ctx, []model.DetectionResult{r}))

		got, err := s.GetResult(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Evidence.Reasons, got.Evidence.Reasons)
		assert.Equal(t, r.RelatedEventIDs, got.RelatedEventIDs)
		require.NotNil(t, got.DeadlineDate)
	})

	t.Run("status update", func(t *testing.T) {
		r := testResult("S6", "sync-6", model.AnomalyFeeOvercharge, 30)
		require.NoError(t, s.InsertResults(ctx, []model.DetectionResult{r}))
		require.NoError(t, s.UpdateResultStatus(ctx, r.ID, model.StatusFiled))

		got, err := s.GetResult(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFiled, got.Status)

		assert.Error(t, s.UpdateResultStatus(ctx, "missing", model.StatusFiled))
	})

	t.Run("missing result is an error", func(t *testing.T) {
		_, err := s.GetResult(ctx, "nope")
		assert.Error(t, err)
	})
}

func testOutcome(typ model.AnomalyType, outcome model.ClaimOutcome, predicted, estimated, recovered float64) model.OutcomeRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return model.OutcomeRecord{
		ID:                  uuid.New().String(),
		DetectionResultID:   uuid.New().String(),
		SellerID:            "S1",
		AnomalyType:         typ,
		PredictedConfidence: predicted,
		EstimatedValue:      estimated,
		Outcome:             outcome,
		RecoveryAmount:      recovered,
		FiledDate:           now.Add(-10 * 24 * time.Hour),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestSQLiteOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("create then update", func(t *testing.T) {
		rec := testOutcome(model.AnomalyRefundNoReturn, model.OutcomePending, 0.8, 100, 0)
		require.NoError(t, s.CreateOutcome(ctx, rec))

		approved := model.OutcomeApproved
		amount := 92.50
		resolved := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.UpdateOutcome(ctx, rec.DetectionResultID, calibration.OutcomeUpdate{
			Outcome:        &approved,
			RecoveryAmount: &amount,
			ResolutionDate: &resolved,
		}))

		assert.Error(t, s.UpdateOutcome(ctx, "missing", calibration.OutcomeUpdate{Outcome: &approved}))
	})

	t.Run("accuracy rollup", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			require.NoError(t, s.CreateOutcome(ctx, testOutcome(model.AnomalyPhantomRefund, model.OutcomeApproved, 0.9, 100, 95)))
		}
		for i := 0; i < 2; i++ {
			require.NoError(t, s.CreateOutcome(ctx, testOutcome(model.AnomalyPhantomRefund, model.OutcomeRejected, 0.9, 100, 0)))
		}
		require.NoError(t, s.CreateOutcome(ctx, testOutcome(model.AnomalyPhantomRefund, model.OutcomePending, 0.9, 100, 0)))

		rollup, err := s.AccuracyByType(ctx)
		require.NoError(t, err)

		var acc *model.AnomalyTypeAccuracy
		for i := range rollup {
			if rollup[i].AnomalyType == model.AnomalyPhantomRefund {
				acc = &rollup[i]
			}
		}
		require.NotNil(t, acc)
		assert.Equal(t, 9, acc.TotalClaims)
		assert.Equal(t, 6, acc.Approved)
		assert.Equal(t, 2, acc.Rejected)
		assert.Equal(t, 1, acc.Pending)
		assert.Equal(t, 8, acc.Resolved())
		// 6 wins over 8 resolved; the pending claim carries no signal.
		assert.InDelta(t, 0.75, acc.ApprovalRate, 0.001)
		assert.InDelta(t, 570, acc.TotalRecovered, 0.001)
	})
}

func TestSQLiteRates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	_, ok, err := s.GetRate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutRate(ctx, "EUR", "USD", day, 1.0871))

	rate, ok, err := s.GetRate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0871, rate, 0.0001)

	// Upsert on the same day replaces the value.
	require.NoError(t, s.PutRate(ctx, "EUR", "USD", day, 1.0902))
	rate, ok, err = s.GetRate(ctx, "EUR", "USD", day.Add(6*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0902, rate, 0.0001)
}
