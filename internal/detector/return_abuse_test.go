package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func abuseInput() Input {
	return Input{
		SellerID: "seller-1",
		SyncID:   "sync-1",
		Currency: "USD",
		Now:      testNow,
	}
}

func typesOf(results []model.DetectionResult) []model.AnomalyType {
	types := make([]model.AnomalyType, len(results))
	for i, r := range results {
		types[i] = r.AnomalyType
	}
	return types
}

func TestReturnAbuse(t *testing.T) {
	d := NewReturnAbuse()

	t.Run("refund with no return past the grace period", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{
			OrderID:      "order-1",
			PurchaseDate: daysAgo(90),
			Lines:        []model.OrderLine{{SKU: "SKU-1", UnitPrice: 60}},
		}}
		in.Refunds = []model.Refund{{
			RefundID:   "ref-1",
			OrderID:    "order-1",
			SKU:        "SKU-1",
			RefundDate: daysAgo(50),
			Amount:     60,
			Currency:   "USD",
			Quantity:   1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, model.AnomalyAbuseNoReturn, results[0].AnomalyType)
		assert.Equal(t, 60.0, results[0].EstimatedValue)
	})

	t.Run("refund with no return still inside the grace period", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{OrderID: "order-1", PurchaseDate: daysAgo(60)}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-1", OrderID: "order-1", RefundDate: daysAgo(40),
			Amount: 60, Currency: "USD", Quantity: 1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("wrong item returned recovers the full refund", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{
			OrderID:      "order-2",
			PurchaseDate: daysAgo(40),
			Lines:        []model.OrderLine{{SKU: "SKU-2", Category: "electronics", UnitPrice: 120}},
		}}
		in.Returns = []model.Return{{
			OrderID: "order-2", SKU: "SKU-2", ReturnDate: daysAgo(25),
			Quantity: 1, Status: "received",
			Condition: model.ReturnConditionWrongItem, ConditionDocumented: true,
		}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-2", OrderID: "order-2", SKU: "SKU-2",
			RefundDate: daysAgo(24), Amount: 120, OriginalCharge: 120,
			Currency: "USD", Quantity: 1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)

		types := typesOf(results)
		assert.Contains(t, types, model.AnomalyAbuseWrongItem)
		// Wrong-item condition is non-sellable with no restocking fee charged.
		assert.Contains(t, types, model.AnomalyAbuseMissingRestock)

		for _, r := range results {
			if r.AnomalyType == model.AnomalyAbuseWrongItem {
				assert.Equal(t, 120.0, r.EstimatedValue)
			}
			if r.AnomalyType == model.AnomalyAbuseMissingRestock {
				// electronics restocking rate 0.15
				assert.Equal(t, 18.0, r.EstimatedValue)
			}
		}
	})

	t.Run("customer-damaged full refund owes the restocking fee", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{
			OrderID:      "order-3",
			PurchaseDate: daysAgo(40),
			Lines:        []model.OrderLine{{SKU: "SKU-3", Category: "apparel", UnitPrice: 100}},
		}}
		in.Returns = []model.Return{{
			OrderID: "order-3", SKU: "SKU-3", ReturnDate: daysAgo(20),
			Quantity: 1, Status: "received",
			Condition: model.ReturnConditionCustomerDamaged, ConditionDocumented: true,
			RestockingFee: 20, // fee was charged, so no missing-restock finding
		}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-3", OrderID: "order-3", SKU: "SKU-3",
			RefundDate: daysAgo(19), Amount: 100, OriginalCharge: 100,
			Currency: "USD", Quantity: 1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, model.AnomalyAbuseDamagedRefund, results[0].AnomalyType)
		// apparel restocking rate 0.20
		assert.Equal(t, 20.0, results[0].EstimatedValue)
	})

	t.Run("late return outside the policy window", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{
			OrderID:      "order-4",
			PurchaseDate: daysAgo(80),
			Lines:        []model.OrderLine{{SKU: "SKU-4", UnitPrice: 150}},
		}}
		in.Returns = []model.Return{{
			OrderID: "order-4", SKU: "SKU-4", ReturnDate: daysAgo(30),
			Quantity: 1, Status: "received", Condition: model.ReturnConditionSellable,
			ConditionDocumented: true,
		}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-4", OrderID: "order-4", SKU: "SKU-4",
			RefundDate: daysAgo(29), Amount: 150, Currency: "USD", Quantity: 1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)

		r := results[0]
		assert.Equal(t, model.AnomalyAbuseLateReturn, r.AnomalyType)
		// default restocking rate 0.15, returned 20 days late
		assert.Equal(t, 22.5, r.EstimatedValue)
		assert.Equal(t, 20.0, r.Evidence.Metrics["days_late"])
	})

	t.Run("partial return flags the missing units", func(t *testing.T) {
		in := abuseInput()
		in.Orders = []model.Order{{
			OrderID:      "order-5",
			PurchaseDate: daysAgo(25),
			Lines:        []model.OrderLine{{SKU: "SKU-5", UnitPrice: 40}},
		}}
		in.Returns = []model.Return{{
			OrderID: "order-5", SKU: "SKU-5", ReturnDate: daysAgo(15),
			Quantity: 1, Status: "received", Condition: model.ReturnConditionSellable,
			ConditionDocumented: true,
		}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-5", OrderID: "order-5", SKU: "SKU-5",
			RefundDate: daysAgo(14), Amount: 120, Currency: "USD", Quantity: 3,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, results, 1)

		r := results[0]
		assert.Equal(t, model.AnomalyAbusePartialReturn, r.AnomalyType)
		assert.Equal(t, 80.0, r.EstimatedValue)
		assert.Equal(t, 2.0, r.Evidence.Metrics["missing_units"])
	})

	t.Run("undocumented condition lowers confidence below the gate", func(t *testing.T) {
		in := abuseInput()
		// No order record, condition not documented: only clear_refund_record
		// (0.30) and return_status_clear (0.25) fire, 0.55 < 0.60.
		in.Returns = []model.Return{{
			OrderID: "order-6", SKU: "SKU-6", ReturnDate: daysAgo(10),
			Quantity: 1, Status: "received", Condition: model.ReturnConditionCustomerDamaged,
		}}
		in.Refunds = []model.Refund{{
			RefundID: "ref-6", OrderID: "order-6", SKU: "SKU-6",
			RefundDate: daysAgo(9), Amount: 200, OriginalCharge: 200,
			Currency: "USD", Quantity: 1,
		}}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSerialReturner(t *testing.T) {
	d := NewReturnAbuse()

	buyerOrders := func(buyerID string, n int) []model.Order {
		orders := make([]model.Order, n)
		for i := range orders {
			orders[i] = model.Order{
				OrderID:      string(rune('a'+i)) + "-" + buyerID,
				BuyerID:      buyerID,
				PurchaseDate: daysAgo(100 - i),
			}
		}
		return orders
	}

	t.Run("extreme tier at 50 percent return rate", func(t *testing.T) {
		in := abuseInput()
		in.Orders = buyerOrders("buyer-x", 6)
		for i := 0; i < 3; i++ {
			in.Refunds = append(in.Refunds, model.Refund{
				RefundID: string(rune('r' + i)), OrderID: in.Orders[i].OrderID,
				BuyerID: "buyer-x", RefundDate: daysAgo(20 + i),
				Amount: 50, Currency: "USD", Quantity: 1,
			})
		}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)

		var trap *model.DetectionResult
		for i := range results {
			if results[i].AnomalyType == model.AnomalySerialReturner {
				trap = &results[i]
			}
		}
		require.NotNil(t, trap)
		assert.Equal(t, 0.80, trap.ConfidenceScore)
		assert.Equal(t, "extreme", trap.Evidence.MatchedFields["tier"])
		// half of the 150 refunded
		assert.Equal(t, 75.0, trap.EstimatedValue)
		assert.Len(t, trap.RelatedEventIDs, 3)
		assert.Nil(t, trap.DeadlineDate)
	})

	t.Run("medium tier between 30 and 50 percent", func(t *testing.T) {
		in := abuseInput()
		in.Orders = buyerOrders("buyer-y", 10)
		for i := 0; i < 4; i++ {
			in.Refunds = append(in.Refunds, model.Refund{
				RefundID: string(rune('r' + i)), OrderID: in.Orders[i].OrderID,
				BuyerID: "buyer-y", RefundDate: daysAgo(20 + i),
				Amount: 25, Currency: "USD", Quantity: 1,
			})
		}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)

		found := false
		for _, r := range results {
			if r.AnomalyType == model.AnomalySerialReturner {
				found = true
				assert.Equal(t, 0.65, r.ConfidenceScore)
				assert.Equal(t, "medium", r.Evidence.MatchedFields["tier"])
			}
		}
		assert.True(t, found)
	})

	t.Run("too few orders means no pattern", func(t *testing.T) {
		in := abuseInput()
		in.Orders = buyerOrders("buyer-z", 3)
		for i := 0; i < 3; i++ {
			in.Refunds = append(in.Refunds, model.Refund{
				RefundID: string(rune('r' + i)), OrderID: in.Orders[i].OrderID,
				BuyerID: "buyer-z", RefundDate: daysAgo(20),
				Amount: 100, Currency: "USD", Quantity: 1,
			})
		}

		results, err := d.Detect(context.Background(), in)
		require.NoError(t, err)
		assert.NotContains(t, typesOf(results), model.AnomalySerialReturner)
	})
}
