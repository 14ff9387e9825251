package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Shrinkage drift constants.
const (
	shrinkageMinValue      = 25.0
	shrinkageShowThreshold = 0.60

	shrinkageDefaultUnitValue = 20.0
	shrinkageClaimWindowDays  = 270

	shrinkageAcceleratingRatio = 1.5
	shrinkageLowEventCount     = 3
	shrinkageLowEventLoss      = 2
	shrinkageDefaultLoss       = 5
	shrinkageAdjExplainPct     = 0.50
	shrinkageVarianceCeiling   = 0.5
	shrinkageHighUnitValue     = 50.0
	shrinkageSnapshotGapDays   = 3
)

// Shrinkage drift classifications, in precedence order.
const (
	driftSystematic            = "systematic"
	driftAccelerating          = "accelerating"
	driftNonEvent              = "non_event"
	driftUnexplainedAdjustment = "unexplained_adjustment"
)

// Shrinkage drift confidence factor weights.
const (
	shrinkageWeightContinuous    = 0.25
	shrinkageWeightMultiWindow   = 0.25
	shrinkageWeightSystematic    = 0.20
	shrinkageWeightHighUnitValue = 0.15
	shrinkageWeightCorroborating = 0.15
)

// ShrinkageDrift compares rolling 7/30/90-day inventory windows per SKU and
// flags quantity loss that no logged event explains.
type ShrinkageDrift struct {
	defaultUnitValue float64
}

// NewShrinkageDrift creates the detector. defaultUnitValue is used when the
// price-history table has no observation for a SKU; zero selects $20.
func NewShrinkageDrift(defaultUnitValue float64) *ShrinkageDrift {
	if defaultUnitValue <= 0 {
		defaultUnitValue = shrinkageDefaultUnitValue
	}
	return &ShrinkageDrift{defaultUnitValue: defaultUnitValue}
}

func (d *ShrinkageDrift) Name() string           { return "shrinkage_drift" }
func (d *ShrinkageDrift) MinValue() float64      { return shrinkageMinValue }
func (d *ShrinkageDrift) ShowThreshold() float64 { return shrinkageShowThreshold }

// windowStat holds the inventory arithmetic for one rolling window.
type windowStat struct {
	days      int
	start     time.Time
	end       time.Time
	starting  float64
	ending    float64
	expected  float64
	delta     float64 // ending - expected; negative = unexplained loss
	rate      float64 // |delta| / starting
	dailyRate float64
	events    int
	adjSum    float64
	snapshots []model.InventorySnapshot
	ok        bool
}

// Detect evaluates each SKU with snapshot coverage.
func (d *ShrinkageDrift) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	snapsBySKU := make(map[string][]model.InventorySnapshot)
	for _, s := range in.Snapshots {
		snapsBySKU[s.SKU] = append(snapsBySKU[s.SKU], s)
	}

	var results []model.DetectionResult
	for sku, snaps := range snapsBySKU {
		sort.Slice(snaps, func(i, j int) bool {
			return snaps[i].SnapshotDate.Before(snaps[j].SnapshotDate)
		})

		w7 := d.windowStats(in, sku, snaps, 7, now)
		w30 := d.windowStats(in, sku, snaps, 30, now)
		w90 := d.windowStats(in, sku, snaps, 90, now)

		driftType, ok := classifyDrift(w7, w30, w90)
		if !ok {
			continue
		}

		unitValue := d.unitValue(in.Prices, sku)
		loss := math.Abs(w30.delta)
		value := round2(loss * unitValue)
		annualLoss := round2((loss / 30) * 365 * unitValue)

		var bd Breakdown
		bd.Add("continuous_snapshots", shrinkageWeightContinuous, continuousSnapshots(w30.snapshots))
		bd.Add("multi_window_impact", shrinkageWeightMultiWindow, negativeWindows(w7, w30, w90) >= 2)
		bd.Add("systematic_pattern", shrinkageWeightSystematic, driftType == driftSystematic)
		bd.Add("high_unit_value", shrinkageWeightHighUnitValue, unitValue >= shrinkageHighUnitValue)
		bd.Add("corroborating_events", shrinkageWeightCorroborating, w30.events > 0)

		deadline := w30.end.AddDate(0, 0, shrinkageClaimWindowDays)
		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     model.AnomalyShrinkageDrift,
			Severity:        severityFor(value, &deadline, now),
			EstimatedValue:  value,
			Currency:        in.currency(),
			ConfidenceScore: bd.Score(),
			Evidence: model.Evidence{
				Reasons: []string{
					fmt.Sprintf("%s inventory drift: %.0f unexplained units over 30 days", driftType, loss),
				},
				MatchedFields: map[string]string{
					"sku":        sku,
					"drift_type": driftType,
				},
				Metrics: map[string]float64{
					"unexplained_delta_30d": w30.delta,
					"shrinkage_rate_30d":    w30.rate,
					"unit_value":            unitValue,
					"projected_annual_loss": annualLoss,
				},
				Windows: evidenceWindows(w7, w30, w90),
			},
			RelatedEventIDs: []string{sku},
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

// windowStats computes expected-vs-actual ending inventory for one window.
//
//	expected = starting - orders + returns - damages - removals + inbounds + adjustments
func (d *ShrinkageDrift) windowStats(in Input, sku string, snaps []model.InventorySnapshot, days int, now time.Time) windowStat {
	ws := windowStat{days: days}

	cutoff := now.AddDate(0, 0, -days)
	for _, s := range snaps {
		if !s.SnapshotDate.Before(cutoff) {
			ws.snapshots = append(ws.snapshots, s)
		}
	}
	if len(ws.snapshots) < 2 {
		return ws
	}

	first, last := ws.snapshots[0], ws.snapshots[len(ws.snapshots)-1]
	ws.start, ws.end = first.SnapshotDate, last.SnapshotDate
	ws.starting = float64(first.Quantity)
	ws.ending = float64(last.Quantity)

	var orders, returns, damages, removals, inbounds, adjustments float64
	inWindow := func(t time.Time) bool {
		return !t.Before(ws.start) && !t.After(ws.end)
	}

	for _, o := range in.Orders {
		if !inWindow(o.PurchaseDate) {
			continue
		}
		for _, line := range o.Lines {
			if line.SKU == sku {
				orders += float64(line.QuantityShipped)
				ws.events++
			}
		}
	}
	for _, r := range in.Returns {
		if r.SKU == sku && inWindow(r.ReturnDate) {
			returns += float64(r.Quantity)
			ws.events++
		}
	}
	for _, a := range in.Adjustments {
		if a.SKU != sku || !inWindow(a.AdjustmentDate) {
			continue
		}
		ws.events++
		switch a.Type {
		case model.AdjustmentDamaged:
			damages += math.Abs(float64(a.Quantity))
		case model.AdjustmentCustomerReturn:
			// Already counted through the returns term.
		default:
			adjustments += float64(a.Quantity)
			ws.adjSum += float64(a.Quantity)
		}
	}
	for _, rm := range in.Removals {
		if rm.SKU == sku && inWindow(rm.RemovalDate) {
			removals += float64(rm.Quantity)
			ws.events++
		}
	}
	for _, sh := range in.Shipments {
		if sh.SKU == sku && sh.Inbound && sh.Status != "canceled" && inWindow(sh.ShipDate) {
			inbounds += float64(sh.Quantity)
			ws.events++
		}
	}

	ws.expected = ws.starting - orders + returns - damages - removals + inbounds + adjustments
	ws.delta = ws.ending - ws.expected
	if ws.starting > 0 {
		ws.rate = math.Abs(ws.delta) / ws.starting
	}
	if span := ws.end.Sub(ws.start).Hours() / 24; span >= 1 {
		ws.dailyRate = ws.delta / span
	} else {
		ws.dailyRate = ws.delta
	}
	ws.ok = true
	return ws
}

// classifyDrift applies the precedence ladder:
// systematic > accelerating > non-event > unexplained-adjustment > default.
func classifyDrift(w7, w30, w90 windowStat) (string, bool) {
	if w7.ok && w30.ok && w90.ok &&
		w7.delta < 0 && w30.delta < 0 && w90.delta < 0 &&
		lowVariance(w7.dailyRate, w30.dailyRate, w90.dailyRate) {
		return driftSystematic, true
	}

	if w7.ok && w30.ok && w7.dailyRate < 0 && w30.dailyRate < 0 &&
		math.Abs(w7.dailyRate) > shrinkageAcceleratingRatio*math.Abs(w30.dailyRate) {
		return driftAccelerating, true
	}

	if w30.ok && w30.events < shrinkageLowEventCount && w30.delta < -shrinkageLowEventLoss {
		return driftNonEvent, true
	}

	if w30.ok && w30.delta < 0 && math.Abs(w30.adjSum) >= shrinkageAdjExplainPct*math.Abs(w30.delta) {
		return driftUnexplainedAdjustment, true
	}

	for _, w := range []windowStat{w7, w30, w90} {
		if w.ok && w.delta <= -shrinkageDefaultLoss {
			return driftNonEvent, true
		}
	}

	return "", false
}

// lowVariance checks that the per-window daily loss rates are consistent.
func lowVariance(rates ...float64) bool {
	var mean float64
	for _, r := range rates {
		mean += math.Abs(r)
	}
	mean /= float64(len(rates))
	if mean == 0 {
		return false
	}

	var variance float64
	for _, r := range rates {
		d := math.Abs(r) - mean
		variance += d * d
	}
	variance /= float64(len(rates))

	return math.Sqrt(variance)/mean < shrinkageVarianceCeiling
}

// continuousSnapshots checks that no gap between consecutive snapshots
// exceeds the coverage ceiling.
func continuousSnapshots(snaps []model.InventorySnapshot) bool {
	if len(snaps) < 2 {
		return false
	}
	for i := 1; i < len(snaps); i++ {
		gap := snaps[i].SnapshotDate.Sub(snaps[i-1].SnapshotDate).Hours() / 24
		if gap > shrinkageSnapshotGapDays {
			return false
		}
	}
	return true
}

func negativeWindows(windows ...windowStat) int {
	n := 0
	for _, w := range windows {
		if w.ok && w.delta < 0 {
			n++
		}
	}
	return n
}

func evidenceWindows(windows ...windowStat) []model.EvidenceWindow {
	var out []model.EvidenceWindow
	for _, w := range windows {
		if !w.ok {
			continue
		}
		out = append(out, model.EvidenceWindow{
			Label:    fmt.Sprintf("%dd", w.days),
			Start:    w.start,
			End:      w.end,
			Expected: w.expected,
			Actual:   w.ending,
			Delta:    w.delta,
		})
	}
	return out
}

// unitValue estimates a SKU's unit value from price history.
func (d *ShrinkageDrift) unitValue(prices []model.PricePoint, sku string) float64 {
	var sum float64
	var n int
	for _, p := range prices {
		if p.SKU == sku && p.Price > 0 {
			sum += p.Price
			n++
		}
	}
	if n == 0 {
		return d.defaultUnitValue
	}
	return sum / float64(n)
}
