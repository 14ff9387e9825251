package detector

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Return anomaly constants. These four checks run over the full dataset and
// are close to deterministic, so each carries a flat per-type confidence.
const (
	returnAnomaliesMinValue      = 10.0
	returnAnomaliesShowThreshold = 0.55

	restockWaitDays        = 7
	excessRefundTolerance  = 1.05
	returnAnomalyClaimDays = 90

	missingRestockConfidence       = 0.90
	excessRefundConfidence         = 0.95
	canceledShipmentConfidence     = 0.90
	unauthorizedDisposalConfidence = 0.85
)

// ReturnAnomalies runs four dataset-wide consistency checks: received
// returns that never restocked, refunds exceeding the original charge,
// canceled shipments still carrying fees, and destruction without consent.
type ReturnAnomalies struct {
	defaultUnitValue float64
}

// NewReturnAnomalies creates the detector.
func NewReturnAnomalies(defaultUnitValue float64) *ReturnAnomalies {
	if defaultUnitValue <= 0 {
		defaultUnitValue = shrinkageDefaultUnitValue
	}
	return &ReturnAnomalies{defaultUnitValue: defaultUnitValue}
}

func (d *ReturnAnomalies) Name() string           { return "return_anomalies" }
func (d *ReturnAnomalies) MinValue() float64      { return returnAnomaliesMinValue }
func (d *ReturnAnomalies) ShowThreshold() float64 { return returnAnomaliesShowThreshold }

// Detect runs all four checks.
func (d *ReturnAnomalies) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	var results []model.DetectionResult
	emit := func(anomaly model.AnomalyType, value, confidence float64, currency, reason string, related []string, metrics map[string]float64) {
		deadline := now.AddDate(0, 0, returnAnomalyClaimDays)
		if currency == "" {
			currency = in.currency()
		}
		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     anomaly,
			Severity:        severityFor(value, &deadline, now),
			EstimatedValue:  round2(value),
			Currency:        currency,
			ConfidenceScore: confidence,
			Evidence: model.Evidence{
				Reasons: []string{reason},
				Metrics: metrics,
			},
			RelatedEventIDs: related,
			Status:          model.StatusPending,
			DiscoveryDate:   now,
			DeadlineDate:    &deadline,
			DaysRemaining:   daysBetween(now, deadline),
		})
	}

	// 1. Return marked received with no restock credit within 7 days.
	for _, ret := range in.Returns {
		if ret.Status != "received" || daysBetween(ret.ReturnDate, now) < restockWaitDays {
			continue
		}
		if restockedWithin(in.Adjustments, ret, restockWaitDays) {
			continue
		}
		value := float64(ret.Quantity) * d.unitValue(in, ret.SKU)
		emit(model.AnomalyMissingRestock, value, missingRestockConfidence, "",
			"received return never restocked",
			[]string{ret.OrderID},
			map[string]float64{"quantity": float64(ret.Quantity)})
	}

	// 2. Refund exceeding the original charge beyond tolerance.
	for _, refund := range in.Refunds {
		if refund.OriginalCharge <= 0 || refund.Amount <= refund.OriginalCharge*excessRefundTolerance {
			continue
		}
		excess := refund.Amount - refund.OriginalCharge
		emit(model.AnomalyExcessRefund, excess, excessRefundConfidence, refund.Currency,
			fmt.Sprintf("refund %.2f exceeds original charge %.2f", refund.Amount, refund.OriginalCharge),
			[]string{refund.RefundID, refund.OrderID},
			map[string]float64{
				"refund_amount":   refund.Amount,
				"original_charge": refund.OriginalCharge,
			})
	}

	// 3. Canceled shipment still carrying a fulfillment fee.
	for _, sh := range in.Shipments {
		if sh.Status != "canceled" || sh.FulfillmentFee <= 0 {
			continue
		}
		emit(model.AnomalyCanceledShipmentFee, sh.FulfillmentFee, canceledShipmentConfidence, "",
			"fulfillment fee charged on a canceled shipment",
			[]string{sh.ShipmentID},
			map[string]float64{"fulfillment_fee": sh.FulfillmentFee})
	}

	// 4. Inventory destroyed or disposed without seller consent.
	for _, adj := range in.Adjustments {
		if adj.Type != model.AdjustmentDestroyed && adj.Type != model.AdjustmentDisposed {
			continue
		}
		if adj.SellerConsent || adj.Quantity >= 0 {
			continue
		}
		qty := math.Abs(float64(adj.Quantity))
		value := qty * d.unitValue(in, adj.SKU)
		emit(model.AnomalyUnauthorizedDisposal, value, unauthorizedDisposalConfidence, "",
			fmt.Sprintf("%s without seller consent", adj.Type),
			[]string{adj.AdjustmentID},
			map[string]float64{"quantity": qty})
	}

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}

// restockedWithin reports whether a positive customer-return adjustment for
// the return's order or SKU landed within the wait window.
func restockedWithin(adjustments []model.InventoryAdjustment, ret model.Return, days int) bool {
	windowEnd := ret.ReturnDate.AddDate(0, 0, days)
	for _, a := range adjustments {
		if a.Type != model.AdjustmentCustomerReturn || a.Quantity <= 0 {
			continue
		}
		if a.AdjustmentDate.Before(ret.ReturnDate) || a.AdjustmentDate.After(windowEnd) {
			continue
		}
		if (a.OrderID != "" && a.OrderID == ret.OrderID) || a.SKU == ret.SKU {
			return true
		}
	}
	return false
}

// unitValue estimates unit value from the order history, falling back to
// price history and then the configured default.
func (d *ReturnAnomalies) unitValue(in Input, sku string) float64 {
	var sum float64
	var n int
	for _, o := range in.Orders {
		for _, line := range o.Lines {
			if line.SKU == sku && line.UnitPrice > 0 {
				sum += line.UnitPrice
				n++
			}
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	for _, p := range in.Prices {
		if p.SKU == sku && p.Price > 0 {
			sum += p.Price
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	return d.defaultUnitValue
}
