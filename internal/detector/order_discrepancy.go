package detector

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Order-level discrepancy constants.
const (
	orderDiscrepancyMinValue      = 10.0
	orderDiscrepancyShowThreshold = 0.55
	orderDiscrepancyConfidence    = 0.75

	priceMismatchFloor    = 1.0
	feeOverchargeFloor    = 0.50
	proceedsMismatchFloor = 1.0

	orderClaimWindowDays = 90
)

// OrderDiscrepancy recomputes each order line's quantity, price, fee, and
// net-proceeds math independently. A single order can yield multiple
// results, one per check that fires. The signal is close to deterministic
// arithmetic, so confidence is fixed.
type OrderDiscrepancy struct{}

// NewOrderDiscrepancy creates the detector.
func NewOrderDiscrepancy() *OrderDiscrepancy { return &OrderDiscrepancy{} }

func (d *OrderDiscrepancy) Name() string           { return "order_discrepancy" }
func (d *OrderDiscrepancy) MinValue() float64      { return orderDiscrepancyMinValue }
func (d *OrderDiscrepancy) ShowThreshold() float64 { return orderDiscrepancyShowThreshold }

// Detect checks every line of every order.
func (d *OrderDiscrepancy) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	var results []model.DetectionResult
	emit := func(order model.Order, line model.OrderLine, anomaly model.AnomalyType, value float64, reason string, metrics map[string]float64) {
		deadline := order.PurchaseDate.AddDate(0, 0, orderClaimWindowDays)
		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     anomaly,
			Severity:        severityFor(value, &deadline, now),
			EstimatedValue:  round2(value),
			Currency:        order.Currency,
			ConfidenceScore: orderDiscrepancyConfidence,
			Evidence: model.Evidence{
				Reasons: []string{reason},
				MatchedFields: map[string]string{
					"order_id": order.OrderID,
					"sku":      line.SKU,
				},
				Metrics: metrics,
			},
			RelatedEventIDs: []string{order.OrderID},
			Status:          model.StatusPending,
			DiscoveryDate:   now,
			DeadlineDate:    &deadline,
			DaysRemaining:   daysBetween(now, deadline),
		})
	}

	for _, order := range in.Orders {
		if order.Status == "canceled" {
			continue
		}
		for _, line := range order.Lines {
			// Quantity: units ordered but never shipped.
			if short := line.QuantityOrdered - line.QuantityShipped; short > 0 {
				emit(order, line, model.AnomalyQuantityMismatch,
					float64(short)*line.UnitPrice,
					fmt.Sprintf("%d of %d ordered units shipped", line.QuantityShipped, line.QuantityOrdered),
					map[string]float64{
						"missing_units": float64(short),
						"unit_price":    line.UnitPrice,
					})
			}

			// Price: buyer charged a different price than listed.
			if diff := math.Abs(line.ChargedPrice-line.UnitPrice) * float64(line.QuantityShipped); diff >= priceMismatchFloor && line.UnitPrice > 0 {
				emit(order, line, model.AnomalyPriceMismatch, diff,
					"charged price diverges from the listed price",
					map[string]float64{
						"unit_price":    line.UnitPrice,
						"charged_price": line.ChargedPrice,
					})
			}

			// Fee: actual fee above the schedule estimate.
			if over := line.ChargedFee - line.EstimatedFee; over >= feeOverchargeFloor && line.EstimatedFee > 0 {
				emit(order, line, model.AnomalyFeeOvercharge, over,
					"charged fee exceeds the fee-schedule estimate",
					map[string]float64{
						"estimated_fee": line.EstimatedFee,
						"charged_fee":   line.ChargedFee,
					})
			}

			// Proceeds: recomputed payout disagrees with the reported one.
			expected := line.ChargedPrice*float64(line.QuantityShipped) - line.ChargedFee
			if short := expected - line.NetProceeds; short >= proceedsMismatchFloor {
				emit(order, line, model.AnomalyProceedsMismatch, short,
					"reported net proceeds below the recomputed amount",
					map[string]float64{
						"expected_proceeds": round2(expected),
						"reported_proceeds": line.NetProceeds,
					})
			}
		}
	}

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}
