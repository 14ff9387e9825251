package detector

import (
	"context"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Phantom refund constants. The 14-day grace period gives the fulfillment
// center time to credit a received return before the missing credit counts
// as an anomaly.
const (
	phantomGraceDays        = 14
	phantomWindowBeforeDays = 7
	phantomWindowAfterDays  = 45
	phantomLateBonusDays    = 45

	phantomMinValue      = 15.0
	phantomShowThreshold = 0.60

	phantomClaimWindowDays = 90
)

// Phantom refund confidence factors. Weights are contract values.
const (
	phantomWeightReturnReceived = 0.30
	phantomWeightSufficientWait = 0.25
	phantomWeightNoAdjustment   = 0.25
	phantomWeightClearMismatch  = 0.15
	phantomWeightTracking       = 0.05
	phantomLateBonus            = 0.10
)

// PhantomRefund flags refunds the marketplace marked as "return received"
// where the received units were never credited back to inventory.
type PhantomRefund struct{}

// NewPhantomRefund creates the detector.
func NewPhantomRefund() *PhantomRefund { return &PhantomRefund{} }

func (d *PhantomRefund) Name() string           { return "phantom_refund" }
func (d *PhantomRefund) MinValue() float64      { return phantomMinValue }
func (d *PhantomRefund) ShowThreshold() float64 { return phantomShowThreshold }

// Detect scans refunds marked received/delivered and looks for the matching
// positive customer-return adjustment within a -7/+45 day window around the
// refund, first by order id and then by SKU.
func (d *PhantomRefund) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	var results []model.DetectionResult
	for _, refund := range in.Refunds {
		if refund.ReturnStatus != model.RefundReturnReceived && refund.ReturnStatus != model.RefundReturnDelivered {
			continue
		}
		if refund.Quantity <= 0 || refund.Amount <= 0 {
			continue
		}

		age := daysBetween(refund.RefundDate, now)
		if age < phantomGraceDays {
			// Credit may still be in flight.
			continue
		}

		credited := creditedQuantity(in.Adjustments, refund)
		phantomQty := refund.Quantity - credited
		if phantomQty <= 0 {
			continue
		}

		unitValue := refund.Amount / float64(refund.Quantity)
		value := round2(unitValue * float64(phantomQty))

		var bd Breakdown
		bd.Add("return_marked_received", phantomWeightReturnReceived, true)
		bd.Add("sufficient_wait", phantomWeightSufficientWait, age >= phantomGraceDays)
		bd.Add("no_matching_adjustment", phantomWeightNoAdjustment, credited == 0)
		bd.Add("clear_mismatch", phantomWeightClearMismatch, credited == 0 || phantomQty >= 2)
		bd.Add("tracking_confirmed", phantomWeightTracking, refund.TrackingConfirmed)
		if age > phantomLateBonusDays {
			bd.Bonus(phantomLateBonus)
		}

		deadline := refund.RefundDate.AddDate(0, 0, phantomClaimWindowDays)
		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     model.AnomalyPhantomRefund,
			Severity:        severityFor(value, &deadline, now),
			EstimatedValue:  value,
			Currency:        refund.Currency,
			ConfidenceScore: bd.Score(),
			Evidence: model.Evidence{
				Reasons: []string{
					"return marked received but units were never credited to inventory",
				},
				MatchedFields: map[string]string{
					"order_id":      refund.OrderID,
					"sku":           refund.SKU,
					"return_status": refund.ReturnStatus,
				},
				Metrics: map[string]float64{
					"refunded_quantity": float64(refund.Quantity),
					"credited_quantity": float64(credited),
					"phantom_quantity":  float64(phantomQty),
					"unit_value":        round2(unitValue),
					"refund_age_days":   float64(age),
				},
				Factors: bd.Factors(),
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

// creditedQuantity sums positive customer-return adjustments within the
// match window, preferring order-id matches and falling back to SKU.
func creditedQuantity(adjustments []model.InventoryAdjustment, refund model.Refund) int {
	windowStart := refund.RefundDate.AddDate(0, 0, -phantomWindowBeforeDays)
	windowEnd := refund.RefundDate.AddDate(0, 0, phantomWindowAfterDays)

	var byOrder, bySKU int
	for _, a := range adjustments {
		if a.Type != model.AdjustmentCustomerReturn || a.Quantity <= 0 {
			continue
		}
		if a.AdjustmentDate.Before(windowStart) || a.AdjustmentDate.After(windowEnd) {
			continue
		}
		if a.OrderID != "" && a.OrderID == refund.OrderID {
			byOrder += a.Quantity
			continue
		}
		if refund.SKU != "" && a.SKU == refund.SKU {
			bySKU += a.Quantity
		}
	}
	if byOrder > 0 {
		return byOrder
	}
	return bySKU
}
