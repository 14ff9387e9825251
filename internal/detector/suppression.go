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

// Silent suppression constants.
const (
	suppressionMinValue      = 25.0
	suppressionShowThreshold = 0.60

	suppressionMinMetricDays = 14
	suppressionBaselineDays  = 30
	suppressionCurrentDays   = 7

	suppressionSalesDropPct     = 0.50
	suppressionBuyBoxDropPct    = 0.30
	suppressionTrafficDropPct   = 0.40
	suppressionSoloSalesDrop    = 0.70
	suppressionMinSignals       = 2
	suppressionStartFraction    = 0.50
	suppressionMinBaselineDaily = 1.0
)

// Suppression confidence factor weights.
const (
	suppressionWeightSales    = 0.30
	suppressionWeightBuyBox   = 0.20
	suppressionWeightTraffic  = 0.15
	suppressionWeightFBALost  = 0.15
	suppressionWeightIssue    = 0.10
	suppressionWeightZeroSale = 0.10
)

// suppressionTriggerFlags are listing issue codes known to precede a
// silent suppression.
var suppressionTriggerFlags = map[string]bool{
	"stranded":            true,
	"pricing_error":       true,
	"restricted":          true,
	"detail_page_removed": true,
	"search_suppressed":   true,
}

// SilentSuppression compares a 30-day baseline against the most recent
// 7-day window per listing and flags listings whose sales, buy-box share,
// or traffic collapsed without the seller being told.
type SilentSuppression struct {
	defaultUnitValue float64
}

// NewSilentSuppression creates the detector.
func NewSilentSuppression(defaultUnitValue float64) *SilentSuppression {
	if defaultUnitValue <= 0 {
		defaultUnitValue = shrinkageDefaultUnitValue
	}
	return &SilentSuppression{defaultUnitValue: defaultUnitValue}
}

func (d *SilentSuppression) Name() string           { return "silent_suppression" }
func (d *SilentSuppression) MinValue() float64      { return suppressionMinValue }
func (d *SilentSuppression) ShowThreshold() float64 { return suppressionShowThreshold }

// metricAverages summarizes one comparison window.
type metricAverages struct {
	days       int
	sales      float64 // units/day
	buyBox     float64 // percent
	views      float64 // views/day
	hasTraffic bool
}

// Detect evaluates each listing with enough metric coverage.
func (d *SilentSuppression) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	var results []model.DetectionResult
	for _, listing := range in.Listings {
		if len(listing.Daily) < suppressionMinMetricDays {
			continue
		}

		daily := append([]model.DailyMetric(nil), listing.Daily...)
		sort.Slice(daily, func(i, j int) bool { return daily[i].Date.Before(daily[j].Date) })

		currentCutoff := now.AddDate(0, 0, -suppressionCurrentDays)
		baselineCutoff := now.AddDate(0, 0, -(suppressionBaselineDays + suppressionCurrentDays))

		var baselineDays, currentDays []model.DailyMetric
		for _, m := range daily {
			switch {
			case m.Date.After(currentCutoff):
				currentDays = append(currentDays, m)
			case m.Date.After(baselineCutoff):
				baselineDays = append(baselineDays, m)
			}
		}
		if len(baselineDays) == 0 || len(currentDays) == 0 {
			continue
		}

		base := average(baselineDays)
		cur := average(currentDays)
		if base.sales <= 0 {
			continue
		}

		salesDrop := drop(base.sales, cur.sales)
		buyBoxDrop := drop(base.buyBox, cur.buyBox)
		trafficDrop := drop(base.views, cur.views)

		var bd Breakdown
		bd.Add("sales_collapse", suppressionWeightSales, salesDrop >= suppressionSalesDropPct)
		bd.Add("buy_box_loss", suppressionWeightBuyBox, buyBoxDrop >= suppressionBuyBoxDropPct)
		bd.Add("traffic_loss", suppressionWeightTraffic, base.hasTraffic && trafficDrop >= suppressionTrafficDropPct)
		bd.Add("fba_eligibility_lost", suppressionWeightFBALost, listing.Active && !listing.FBAEligible)
		bd.Add("trigger_issue_flagged", suppressionWeightIssue, hasTriggerFlag(listing.IssueFlags))
		bd.Add("zero_sales", suppressionWeightZeroSale, cur.sales == 0 && base.sales >= suppressionMinBaselineDaily)

		signals := metFactors(bd.Factors())
		if signals < suppressionMinSignals && salesDrop < suppressionSoloSalesDrop {
			continue
		}

		unitValue := d.unitValue(in, listing.SKU)
		weeklyLoss := (base.sales - cur.sales) * unitValue * 7
		if weeklyLoss <= 0 {
			continue
		}

		start := suppressionStart(daily, baselineCutoff, base.sales)
		weeks := 1.0
		if start != nil {
			if w := now.Sub(*start).Hours() / (24 * 7); w > 1 {
				weeks = w
			}
		}
		value := round2(weeklyLoss * weeks)

		metrics := map[string]float64{
			"baseline_daily_sales": round2(base.sales),
			"current_daily_sales":  round2(cur.sales),
			"sales_drop_pct":       round2(salesDrop * 100),
			"buy_box_drop_pct":     round2(buyBoxDrop * 100),
			"weekly_loss":          round2(weeklyLoss),
			"unit_value":           unitValue,
			"signals":              float64(signals),
		}
		if base.hasTraffic {
			metrics["traffic_drop_pct"] = round2(trafficDrop * 100)
		}

		evidence := model.Evidence{
			Reasons: []string{
				fmt.Sprintf("sales down %.0f%% against the 30-day baseline with %d suppression signals", salesDrop*100, signals),
			},
			MatchedFields: map[string]string{"sku": listing.SKU, "asin": listing.ASIN},
			Metrics:       metrics,
			Factors:       bd.Factors(),
			Windows: []model.EvidenceWindow{
				{
					Label:    "baseline_30d",
					Start:    baselineCutoff,
					End:      currentCutoff,
					Actual:   base.sales,
					Expected: base.sales,
				},
				{
					Label:    "current_7d",
					Start:    currentCutoff,
					End:      now,
					Expected: base.sales,
					Actual:   cur.sales,
					Delta:    cur.sales - base.sales,
				},
			},
		}
		if start != nil {
			evidence.MatchedFields["suppression_start"] = start.Format("2006-01-02")
		}

		results = append(results, model.DetectionResult{
			ID:              uuid.New().String(),
			SellerID:        in.SellerID,
			SyncID:          in.SyncID,
			AnomalyType:     model.AnomalySilentSuppression,
			Severity:        severityFor(value, nil, now),
			EstimatedValue:  value,
			Currency:        in.currency(),
			ConfidenceScore: bd.Score(),
			Evidence:        evidence,
			RelatedEventIDs: []string{listing.SKU},
			Status:          model.StatusPending,
			DiscoveryDate:   now,
		})
	}

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}

func average(days []model.DailyMetric) metricAverages {
	avg := metricAverages{days: len(days)}
	if len(days) == 0 {
		return avg
	}
	var trafficDays int
	for _, m := range days {
		avg.sales += float64(m.UnitsSold)
		avg.buyBox += m.BuyBoxPct
		if m.TrafficTracked {
			avg.views += float64(m.PageViews)
			trafficDays++
		}
	}
	n := float64(len(days))
	avg.sales /= n
	avg.buyBox /= n
	if trafficDays > 0 {
		avg.views /= float64(trafficDays)
		avg.hasTraffic = true
	}
	return avg
}

// drop returns the fractional decline from base to cur, clamped at 0.
func drop(base, cur float64) float64 {
	if base <= 0 {
		return 0
	}
	return math.Max(0, (base-cur)/base)
}

// suppressionStart finds the first post-baseline day whose sales fell below
// half the baseline average.
func suppressionStart(daily []model.DailyMetric, baselineCutoff time.Time, baselineAvg float64) *time.Time {
	floor := baselineAvg * suppressionStartFraction
	for _, m := range daily {
		if !m.Date.After(baselineCutoff) {
			continue
		}
		if float64(m.UnitsSold) < floor {
			t := m.Date
			return &t
		}
	}
	return nil
}

func hasTriggerFlag(flags []string) bool {
	for _, f := range flags {
		if suppressionTriggerFlags[f] {
			return true
		}
	}
	return false
}

func metFactors(factors []model.ConfidenceFactor) int {
	n := 0
	for _, f := range factors {
		if f.Met {
			n++
		}
	}
	return n
}

// unitValue estimates the listing's unit sale price from order history and
// price history.
func (d *SilentSuppression) unitValue(in Input, sku string) float64 {
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
