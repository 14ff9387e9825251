package detector

import (
	"context"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Refund-without-return constants. The 45-day window is the marketplace
// return window; it is intentionally distinct from the 30-day window used
// by the abuse detector (separate claim classes, pending product
// confirmation).
const (
	refundReturnWindowDays   = 45
	refundHighConfidenceDays = 60
	refundMinAmount          = 3.0

	refundNoReturnMinValue      = 10.0
	refundNoReturnShowThreshold = 0.55

	refundClaimWindowDays = 90 // filing deadline measured from the refund
)

// RefundNoReturn flags refunds where the buyer kept the money and the item:
// the refund aged past the return window with no matching return or
// reimbursement on record.
type RefundNoReturn struct{}

// NewRefundNoReturn creates the detector.
func NewRefundNoReturn() *RefundNoReturn { return &RefundNoReturn{} }

func (d *RefundNoReturn) Name() string           { return "refund_no_return" }
func (d *RefundNoReturn) MinValue() float64      { return refundNoReturnMinValue }
func (d *RefundNoReturn) ShowThreshold() float64 { return refundNoReturnShowThreshold }

// Detect scans every refund in the window.
func (d *RefundNoReturn) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	returnsByOrder := indexReturns(in.Returns)
	reimbursedOrders := reimbursementIndex(in.Adjustments)

	var results []model.DetectionResult
	for _, refund := range in.Refunds {
		age := daysBetween(refund.RefundDate, now)
		if age < refundReturnWindowDays {
			// Still inside the return window; the item may yet come back.
			continue
		}
		if refund.Amount < refundMinAmount {
			continue
		}

		if hasMatchingReturn(returnsByOrder, refund) {
			continue
		}
		if reimbursedOrders[refund.OrderID] {
			continue
		}

		confidence := 0.75
		if age > refundHighConfidenceDays {
			confidence = 0.95
		}

		deadline := refund.RefundDate.AddDate(0, 0, refundClaimWindowDays)
		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     model.AnomalyRefundNoReturn,
			Severity:        severityFor(refund.Amount, &deadline, now),
			EstimatedValue:  round2(refund.Amount),
			Currency:        refund.Currency,
			ConfidenceScore: confidence,
			Evidence: model.Evidence{
				Reasons: []string{
					"refund issued with no matching return or reimbursement",
				},
				MatchedFields: map[string]string{
					"order_id": refund.OrderID,
					"sku":      refund.SKU,
				},
				Metrics: map[string]float64{
					"refund_age_days": float64(age),
					"refund_amount":   refund.Amount,
				},
			},
			RelatedEventIDs: []string{refund.RefundID, refund.OrderID},
			Status:          model.StatusPending,
			DiscoveryDate:   now,
			DeadlineDate:    &deadline,
			DaysRemaining:   daysBetween(now, deadline),
		})
	}

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}

// indexReturns groups returns by order id.
func indexReturns(returns []model.Return) map[string][]model.Return {
	byOrder := make(map[string][]model.Return, len(returns))
	for _, r := range returns {
		byOrder[r.OrderID] = append(byOrder[r.OrderID], r)
	}
	return byOrder
}

// reimbursementIndex marks orders that already received a positive
// customer-return credit.
func reimbursementIndex(adjustments []model.InventoryAdjustment) map[string]bool {
	idx := make(map[string]bool)
	for _, a := range adjustments {
		if a.OrderID != "" && a.Quantity > 0 && a.Type == model.AdjustmentCustomerReturn {
			idx[a.OrderID] = true
		}
	}
	return idx
}

// hasMatchingReturn checks for a return on the refund's order, narrowing by
// SKU when the refund carries one.
func hasMatchingReturn(byOrder map[string][]model.Return, refund model.Refund) bool {
	candidates := byOrder[refund.OrderID]
	if len(candidates) == 0 {
		return false
	}
	if refund.SKU == "" {
		return true
	}
	for _, r := range candidates {
		if r.SKU == refund.SKU {
			return true
		}
	}
	return false
}
