package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func phantomFixture(qty int, amount float64, ageDays int) model.Refund {
	return model.Refund{
		SellerID:          "seller-1",
		RefundID:          "ref-9",
		OrderID:           "order-9",
		SKU:               "SKU-9",
		RefundDate:        daysAgo(ageDays),
		Amount:            amount,
		Currency:          "USD",
		Quantity:          qty,
		ReturnStatus:      model.RefundReturnReceived,
		TrackingConfirmed: true,
	}
}

func TestPhantomRefund(t *testing.T) {
	d := NewPhantomRefund()

	t.Run("received return with no credit is flagged", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{phantomFixture(2, 80, 30)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)

		r := results[0]
		assert.Equal(t, model.AnomalyPhantomRefund, r.AnomalyType)
		assert.Equal(t, 80.0, r.EstimatedValue)
		// All five factors met: 0.30+0.25+0.25+0.15+0.05.
		assert.InDelta(t, 1.0, r.ConfidenceScore, 1e-9)
		assert.Equal(t, 2.0, r.Evidence.Metrics["phantom_quantity"])
		assert.Len(t, r.Evidence.Factors, 5)
	})

	t.Run("late refund earns the age bonus", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{phantomFixture(1, 40, 60)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 1.0, results[0].ConfidenceScore)
	})

	t.Run("refund without received status is ignored", func(t *testing.T) {
		refund := phantomFixture(2, 80, 30)
		refund.ReturnStatus = ""
		in := Input{Refunds: []model.Refund{refund}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("inside the grace period the credit may still arrive", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{phantomFixture(2, 80, 10)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("full credit by order id clears the refund", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{phantomFixture(2, 80, 30)},
			Adjustments: []model.InventoryAdjustment{{
				OrderID:        "order-9",
				SKU:            "SKU-9",
				AdjustmentDate: daysAgo(25),
				Quantity:       2,
				Type:           model.AdjustmentCustomerReturn,
			}},
			Now: testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("partial credit flags only the shortfall", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{phantomFixture(3, 90, 30)},
			Adjustments: []model.InventoryAdjustment{{
				SKU:            "SKU-9",
				AdjustmentDate: daysAgo(25),
				Quantity:       1,
				Type:           model.AdjustmentCustomerReturn,
			}},
			Now: testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)
		// 2 of 3 units missing at $30/unit.
		assert.Equal(t, 60.0, results[0].EstimatedValue)
		assert.Equal(t, 1.0, results[0].Evidence.Metrics["credited_quantity"])
	})

	t.Run("credit outside the match window does not count", func(t *testing.T) {
		in := Input{
			Refunds: []model.Refund{phantomFixture(2, 80, 60)},
			Adjustments: []model.InventoryAdjustment{{
				OrderID:        "order-9",
				AdjustmentDate: daysAgo(5), // 55 days after refund, past +45
				Quantity:       2,
				Type:           model.AdjustmentCustomerReturn,
			}},
			Now: testNow,
		}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("value below the floor is dropped", func(t *testing.T) {
		in := Input{Refunds: []model.Refund{phantomFixture(1, 12, 30)}, Now: testNow}
		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
