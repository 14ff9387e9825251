package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func refundFixture(amount float64, ageDays int) model.Refund {
	return model.Refund{
		SellerID:   "seller-1",
		RefundID:   "ref-1",
		OrderID:    "order-1",
		SKU:        "SKU-1",
		RefundDate: daysAgo(ageDays),
		Amount:     amount,
		Currency:   "USD",
		Quantity:   1,
	}
}

func TestRefundNoReturn(t *testing.T) {
	d := NewRefundNoReturn()

	t.Run("aged refund with no return is flagged at high confidence", func(t *testing.T) {
		in := Input{
			SellerID: "seller-1",
			SyncID:   "sync-1",
			Refunds:  []model.Refund{refundFixture(50, 70)},
			Now:      testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)

		r := results[0]
		assert.Equal(t, model.AnomalyRefundNoReturn, r.AnomalyType)
		assert.Equal(t, 50.0, r.EstimatedValue)
		assert.Equal(t, 0.95, r.ConfidenceScore)
		assert.Equal(t, model.StatusPending, r.Status)
		require.NotNil(t, r.DeadlineDate)
		assert.Equal(t, daysAgo(70).AddDate(0, 0, 90), *r.DeadlineDate)
		assert.Equal(t, 20, r.DaysRemaining)
		assert.Contains(t, r.RelatedEventIDs, "ref-1")
	})

	t.Run("refund inside the return window is ignored", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{refundFixture(50, 40)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("refund past the window but under 60 days scores 0.75", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{refundFixture(50, 50)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 0.75, results[0].ConfidenceScore)
	})

	t.Run("matching return on the same order clears the refund", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{refundFixture(50, 70)},
			Returns: []model.Return{{OrderID: "order-1", SKU: "SKU-1", ReturnDate: daysAgo(65)}},
			Now:     testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("return for a different SKU on the order does not clear", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{refundFixture(50, 70)},
			Returns: []model.Return{{OrderID: "order-1", SKU: "SKU-OTHER"}},
			Now:     testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("prior reimbursement clears the refund", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{refundFixture(50, 70)},
			Adjustments: []model.InventoryAdjustment{{
				OrderID:  "order-1",
				Quantity: 1,
				Type:     model.AdjustmentCustomerReturn,
			}},
			Now: testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("small refunds fall below the value gate", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{refundFixture(8, 70)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("results come back sorted by value", func(t *testing.T) {
		small := refundFixture(25, 70)
		small.RefundID, small.OrderID = "ref-2", "order-2"
		big := refundFixture(400, 70)

		in := Input{Refunds: []model.Refund{small, big}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 400.0, results[0].EstimatedValue)
		assert.Equal(t, 25.0, results[1].EstimatedValue)
	})
}
