package valuation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/fx"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Cost-cascade constants. Each tier carries the confidence the source
// deserves; the history tier needs a minimum of distinct orders before it
// is trusted at all.
const (
	invoiceConfidence = 0.95
	catalogConfidence = 0.85
	historyConfidence = 0.60
	defaultConfidence = 0.30

	historyMinOrders = 3
	historyMargin    = 0.40 // assumed cost fraction of observed sale price

	defaultUnitCost = 15.0

	dimsKnownConfidence     = 1.0
	dimsEstimatedConfidence = 0.70
)

// ClaimInput is everything the calculator needs for one claim. Catalog and
// price history are optional; the cascade degrades through the tiers on
// whatever is missing.
type ClaimInput struct {
	SellerID string
	ClaimID  string
	SKU      string
	ASIN     string
	Category string

	Quantity       int
	FeeChargedUnit float64 // per-unit fee actually charged
	SalePrice      float64 // per-unit, for the referral component
	SourceCurrency string
	EventDate      time.Time

	Catalog *model.CatalogItem
	Prices  []model.PricePoint
}

// Calculator turns a detection into a defensible dollar claim: cost
// cascade, dimensional fee model, and currency conversion.
type Calculator struct {
	fees     *FeeSchedule
	invoices *InvoiceIndex
	fxr      *fx.Resolver
	target   string
}

// NewCalculator wires the calculator. invoices and fxr may be nil; target
// defaults to USD.
func NewCalculator(fees *FeeSchedule, invoices *InvoiceIndex, fxr *fx.Resolver, targetCurrency string) *Calculator {
	if fees == nil {
		fees = DefaultFeeSchedule()
	}
	if targetCurrency == "" {
		targetCurrency = "USD"
	}
	return &Calculator{fees: fees, invoices: invoices, fxr: fxr, target: targetCurrency}
}

// Value computes the maximum defensible recovery for one claim. It never
// fails: every tier of every cascade has a terminal fallback.
func (c *Calculator) Value(ctx context.Context, in ClaimInput) model.ClaimValuation {
	v := model.ClaimValuation{
		SellerID:       in.SellerID,
		ClaimID:        in.ClaimID,
		SKU:            in.SKU,
		Quantity:       in.Quantity,
		SourceCurrency: in.SourceCurrency,
		TargetCurrency: c.target,
	}
	if v.Quantity <= 0 {
		v.Quantity = 1
	}
	if v.SourceCurrency == "" {
		v.SourceCurrency = c.target
	}

	c.resolveCost(&v, in)
	c.resolveFees(&v, in)

	v.BaseValue = round2(v.UnitCost * float64(v.Quantity))
	v.FeeRecovery = round2(v.FeeOverchargeUnit * float64(v.Quantity))
	v.TotalValue = round2(v.BaseValue + v.FeeRecovery)

	rate := c.convert(ctx, &v, in.EventDate)
	v.ExchangeRate = rate.Value
	v.ExchangeRateSource = rate.Source
	// Converted value stays unrounded: with a sub-unit rate (JPY→USD),
	// rounding to cents here would not survive the inverse conversion.
	// Display layers round.
	v.ConvertedValue = v.TotalValue * rate.Value
	v.Method = append(v.Method, fmt.Sprintf("converted %s→%s at %.4f (%s)",
		v.SourceCurrency, v.TargetCurrency, rate.Value, rate.Source))

	dimsConf := dimsKnownConfidence
	if v.Dimensions.Estimated {
		dimsConf = dimsEstimatedConfidence
	}
	v.Confidence = math.Min(v.CostConfidence, dimsConf)

	return v
}

// resolveCost walks the four-tier cost cascade.
func (c *Calculator) resolveCost(v *model.ClaimValuation, in ClaimInput) {
	if line, ok := c.invoices.Lookup(in.SKU, in.ASIN); ok {
		v.UnitCost = line.UnitCost
		v.CostSource = model.CostSourceInvoice
		v.CostConfidence = invoiceConfidence
		v.Method = append(v.Method, fmt.Sprintf("unit cost %.2f from supplier invoice", line.UnitCost))
		return
	}

	if in.Catalog != nil && in.Catalog.UnitCost > 0 {
		v.UnitCost = in.Catalog.UnitCost
		v.CostSource = model.CostSourceCatalog
		v.CostConfidence = catalogConfidence
		v.Method = append(v.Method, fmt.Sprintf("unit cost %.2f from catalog", in.Catalog.UnitCost))
		return
	}

	if avg, n := averagePrice(in.Prices); n >= historyMinOrders {
		cost := round2(avg * historyMargin)
		v.UnitCost = cost
		v.CostSource = model.CostSourceHistory
		v.CostConfidence = historyConfidence
		v.Method = append(v.Method, fmt.Sprintf("unit cost %.2f from %d-point price history at %.0f%% margin",
			cost, n, historyMargin*100))
		return
	}

	v.UnitCost = defaultUnitCost
	v.CostSource = model.CostSourceDefault
	v.CostConfidence = defaultConfidence
	v.Method = append(v.Method, fmt.Sprintf("unit cost defaulted to %.2f", defaultUnitCost))
	zap.L().Debug("cost cascade exhausted, using default unit cost",
		zap.String("seller_id", in.SellerID),
		zap.String("sku", in.SKU))
}

// resolveFees classifies the unit, prices the expected fee, and books any
// positive overcharge as recoverable.
func (c *Calculator) resolveFees(v *model.ClaimValuation, in ClaimInput) {
	v.Dimensions = ResolveDimensions(in.Catalog)
	v.SizeTier = ClassifySizeTier(v.Dimensions)

	billableOz := BillableWeightLb(v.Dimensions) * 16
	expected := c.fees.ExpectedFee(v.SizeTier, billableOz, in.Category, in.SalePrice)
	over := in.FeeChargedUnit - expected
	if over > 0 {
		v.FeeOverchargeUnit = round2(over)
		v.Method = append(v.Method, fmt.Sprintf("fee overcharge %.2f/unit (charged %.2f, expected %.2f, tier %s)",
			v.FeeOverchargeUnit, in.FeeChargedUnit, expected, v.SizeTier))
	}
}

func (c *Calculator) convert(ctx context.Context, v *model.ClaimValuation, date time.Time) fx.Rate {
	if c.fxr == nil || v.SourceCurrency == v.TargetCurrency {
		return fx.Rate{From: v.SourceCurrency, To: v.TargetCurrency, Value: 1.0, Source: fx.SourceIdentity}
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return c.fxr.Resolve(ctx, v.SourceCurrency, v.TargetCurrency, date)
}

func averagePrice(points []model.PricePoint) (float64, int) {
	if len(points) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points)), len(points)
}

func round2(v float64) float64 {
	return model.Round2(v)
}
