package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Return abuse constants. The 30-day window here is the buyer-facing return
// policy window; it is deliberately not unified with the 45-day refund
// window used elsewhere.
const (
	abuseReturnWindowDays = 30
	abuseGraceDays        = 15

	abuseMinValue      = 15.0
	abuseShowThreshold = 0.60

	abuseClaimWindowDays = 60

	serialReturnerMediumRate  = 0.30
	serialReturnerExtremeRate = 0.50
	serialReturnerRecoveryPct = 0.50
	serialReturnerMinOrders   = 4
)

// Return abuse confidence factor weights.
const (
	abuseWeightClearRefund      = 0.30
	abuseWeightReturnStatus     = 0.25
	abuseWeightWindowVerifiable = 0.20
	abuseWeightCondition        = 0.15
	abuseWeightBuyerPattern     = 0.10
)

// Category restocking-fee rates applied when a return's condition makes it
// non-resellable. Wrong-item returns recover the full refund.
var restockingRates = map[string]float64{
	"electronics": 0.15,
	"media":       0.10,
	"apparel":     0.20,
	"luxury":      0.20,
}

const defaultRestockingRate = 0.15

// ReturnAbuse inspects each refund/return pair for six independent abuse
// patterns and additionally flags serial-returner buyers.
type ReturnAbuse struct{}

// NewReturnAbuse creates the detector.
func NewReturnAbuse() *ReturnAbuse { return &ReturnAbuse{} }

func (d *ReturnAbuse) Name() string           { return "return_abuse" }
func (d *ReturnAbuse) MinValue() float64      { return abuseMinValue }
func (d *ReturnAbuse) ShowThreshold() float64 { return abuseShowThreshold }

// Detect runs the per-pair sub-checks plus the serial-returner rollup.
func (d *ReturnAbuse) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	returnsByOrder := indexReturns(in.Returns)
	ordersByID := make(map[string]model.Order, len(in.Orders))
	for _, o := range in.Orders {
		ordersByID[o.OrderID] = o
	}
	buyerOrders, buyerRefunds := buyerHistories(in.Orders, in.Refunds)

	var results []model.DetectionResult
	for _, refund := range in.Refunds {
		ret, hasReturn := matchReturn(returnsByOrder, refund)
		order, hasOrder := ordersByID[refund.OrderID]

		patternKnown := len(buyerOrders[refund.BuyerID]) >= serialReturnerMinOrders

		bd := abuseBreakdown(refund, ret, hasReturn, hasOrder, patternKnown)
		confidence := bd.Score()

		for _, finding := range abuseFindings(refund, ret, hasReturn, order, hasOrder, now) {
			deadline := refund.RefundDate.AddDate(0, 0, abuseClaimWindowDays)
			results = append(results, model.DetectionResult{
				ID:              uuid.New().String(),
				SellerID:        in.SellerID,
				SyncID:          in.SyncID,
				AnomalyType:     finding.anomaly,
				Severity:        severityFor(finding.value, &deadline, now),
				EstimatedValue:  round2(finding.value),
				Currency:        refund.Currency,
				ConfidenceScore: confidence,
				Evidence: model.Evidence{
					Reasons: []string{finding.reason},
					MatchedFields: map[string]string{
						"order_id": refund.OrderID,
						"sku":      refund.SKU,
						"buyer_id": refund.BuyerID,
					},
					Metrics: finding.metrics,
					Factors: bd.Factors(),
				},
				RelatedEventIDs: []string{refund.RefundID, refund.OrderID},
				Status:          model.StatusPending,
				DiscoveryDate:   now,
				DeadlineDate:    &deadline,
				DaysRemaining:   daysBetween(now, deadline),
			})
		}
	}

	results = append(results, d.serialReturners(in, buyerOrders, buyerRefunds, now)...)

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}

// abuseFinding is one fired sub-check for a refund/return pair.
type abuseFinding struct {
	anomaly model.AnomalyType
	value   float64
	reason  string
	metrics map[string]float64
}

// abuseFindings evaluates the six independent sub-checks.
func abuseFindings(refund model.Refund, ret model.Return, hasReturn bool, order model.Order, hasOrder bool, now time.Time) []abuseFinding {
	var findings []abuseFinding

	category := ""
	unitPrice := 0.0
	if hasOrder {
		if line, ok := orderLine(order, refund.SKU); ok {
			category = line.Category
			unitPrice = line.UnitPrice
		}
	}
	if unitPrice == 0 && refund.Quantity > 0 {
		unitPrice = refund.Amount / float64(refund.Quantity)
	}

	// 1. Refund issued, grace period long past, item never came back.
	if !hasReturn {
		if age := daysBetween(refund.RefundDate, now); age > abuseReturnWindowDays+abuseGraceDays {
			findings = append(findings, abuseFinding{
				anomaly: model.AnomalyAbuseNoReturn,
				value:   refund.Amount,
				reason:  "no return received after the grace period",
				metrics: map[string]float64{"refund_age_days": float64(age)},
			})
		}
		return findings
	}

	rate := restockingRate(category)

	// 2. Wrong item in the return box: full refund recoverable.
	if ret.Condition == model.ReturnConditionWrongItem {
		findings = append(findings, abuseFinding{
			anomaly: model.AnomalyAbuseWrongItem,
			value:   refund.Amount,
			reason:  "returned item does not match the item sold",
			metrics: map[string]float64{"restocking_rate": 1.0},
		})
	}

	// 3. Customer-damaged item refunded in full: restocking fee owed.
	if ret.Condition == model.ReturnConditionCustomerDamaged && refund.Amount >= refund.OriginalCharge && refund.OriginalCharge > 0 {
		findings = append(findings, abuseFinding{
			anomaly: model.AnomalyAbuseDamagedRefund,
			value:   refund.Amount * rate,
			reason:  "customer-damaged return refunded in full",
			metrics: map[string]float64{"restocking_rate": rate},
		})
	}

	// 4. Return physically outside the 30-day policy window.
	if hasOrder {
		if lateDays := daysBetween(order.PurchaseDate, ret.ReturnDate) - abuseReturnWindowDays; lateDays > 0 {
			findings = append(findings, abuseFinding{
				anomaly: model.AnomalyAbuseLateReturn,
				value:   refund.Amount * rate,
				reason:  "return accepted outside the policy window",
				metrics: map[string]float64{
					"days_late":       float64(lateDays),
					"restocking_rate": rate,
				},
			})
		}
	}

	// 5. Fewer units returned than refunded.
	if ret.Quantity > 0 && refund.Quantity > ret.Quantity {
		missing := refund.Quantity - ret.Quantity
		findings = append(findings, abuseFinding{
			anomaly: model.AnomalyAbusePartialReturn,
			value:   float64(missing) * unitPrice,
			reason:  fmt.Sprintf("%d of %d refunded units returned", ret.Quantity, refund.Quantity),
			metrics: map[string]float64{
				"missing_units": float64(missing),
				"unit_price":    unitPrice,
			},
		})
	}

	// 6. Non-sellable return with no restocking fee charged.
	if nonSellable(ret.Condition) && ret.RestockingFee == 0 {
		findings = append(findings, abuseFinding{
			anomaly: model.AnomalyAbuseMissingRestock,
			value:   refund.Amount * rate,
			reason:  "no restocking fee charged on a non-sellable return",
			metrics: map[string]float64{"restocking_rate": rate},
		})
	}

	return findings
}

// serialReturners flags buyers whose return rate crosses the deterrence
// tiers. These records are upserted (not inserted) by the engine so reruns
// of the same sync do not duplicate traps.
func (d *ReturnAbuse) serialReturners(in Input, buyerOrders map[string][]model.Order, buyerRefunds map[string][]model.Refund, now time.Time) []model.DetectionResult {
	var results []model.DetectionResult
	for buyerID, refunds := range buyerRefunds {
		orders := buyerOrders[buyerID]
		if buyerID == "" || len(orders) < serialReturnerMinOrders {
			continue
		}

		rate := float64(len(refunds)) / float64(len(orders))
		if rate < serialReturnerMediumRate {
			continue
		}

		tier := "medium"
		confidence := 0.65
		if rate >= serialReturnerExtremeRate {
			tier = "extreme"
			confidence = 0.80
		}

		var totalRefunded float64
		related := make([]string, 0, len(refunds))
		for _, r := range refunds {
			totalRefunded += r.Amount
			related = append(related, r.RefundID)
		}
		value := round2(totalRefunded * serialReturnerRecoveryPct)

		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     model.AnomalySerialReturner,
			Severity:        severityFor(value, nil, now),
			EstimatedValue:  value,
			Currency:        in.currency(),
			ConfidenceScore: confidence,
			Evidence: model.Evidence{
				Reasons: []string{
					fmt.Sprintf("buyer return rate %.0f%% (%s tier)", rate*100, tier),
				},
				MatchedFields: map[string]string{"buyer_id": buyerID, "tier": tier},
				Metrics: map[string]float64{
					"return_rate":    rate,
					"orders":         float64(len(orders)),
					"refunds":        float64(len(refunds)),
					"total_refunded": round2(totalRefunded),
				},
			},
			RelatedEventIDs: related,
			Status:          model.StatusPending,
			DiscoveryDate:   now,
		})
	}
	return results
}

// abuseBreakdown builds the five-factor additive confidence record shared
// by all abuse sub-checks for one refund/return pair.
func abuseBreakdown(refund model.Refund, ret model.Return, hasReturn, hasOrder, patternKnown bool) Breakdown {
	var bd Breakdown
	bd.Add("clear_refund_record", abuseWeightClearRefund, refund.Amount > 0 && refund.OrderID != "")
	bd.Add("return_status_clear", abuseWeightReturnStatus, !hasReturn || ret.Status != "")
	bd.Add("window_verifiable", abuseWeightWindowVerifiable, hasOrder)
	bd.Add("condition_documented", abuseWeightCondition, hasReturn && ret.ConditionDocumented)
	bd.Add("buyer_pattern_known", abuseWeightBuyerPattern, patternKnown)
	return bd
}

func buyerHistories(orders []model.Order, refunds []model.Refund) (map[string][]model.Order, map[string][]model.Refund) {
	byBuyerOrders := make(map[string][]model.Order)
	for _, o := range orders {
		if o.BuyerID != "" {
			byBuyerOrders[o.BuyerID] = append(byBuyerOrders[o.BuyerID], o)
		}
	}
	byBuyerRefunds := make(map[string][]model.Refund)
	for _, r := range refunds {
		if r.BuyerID != "" {
			byBuyerRefunds[r.BuyerID] = append(byBuyerRefunds[r.BuyerID], r)
		}
	}
	return byBuyerOrders, byBuyerRefunds
}

func matchReturn(byOrder map[string][]model.Return, refund model.Refund) (model.Return, bool) {
	for _, r := range byOrder[refund.OrderID] {
		if refund.SKU == "" || r.SKU == refund.SKU {
			return r, true
		}
	}
	return model.Return{}, false
}

func orderLine(order model.Order, sku string) (model.OrderLine, bool) {
	for _, line := range order.Lines {
		if sku == "" || line.SKU == sku {
			return line, true
		}
	}
	return model.OrderLine{}, false
}

func nonSellable(condition string) bool {
	switch condition {
	case model.ReturnConditionCustomerDamaged, model.ReturnConditionWrongItem, model.ReturnConditionDefective:
		return true
	}
	return false
}

func restockingRate(category string) float64 {
	if rate, ok := restockingRates[category]; ok {
		return rate
	}
	return defaultRestockingRate
}
