package valuation

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// TierFee is the fulfillment-fee rule for one size tier: a fixed base plus
// a marginal surcharge for every surcharge unit above the threshold.
type TierFee struct {
	Base            float64 `yaml:"base"`
	ThresholdOz     float64 `yaml:"threshold_oz"`
	SurchargeUnitOz float64 `yaml:"surcharge_unit_oz"`
	Surcharge       float64 `yaml:"surcharge"`
}

// FeeSchedule holds the fulfillment fee table and per-category referral
// rates. Values can be overridden from a yaml file; anything not
// overridden keeps the built-in default.
type FeeSchedule struct {
	Tiers               map[model.SizeTier]TierFee `yaml:"tiers"`
	ReferralRates       map[string]float64         `yaml:"referral_rates"`
	DefaultReferralRate float64                    `yaml:"default_referral_rate"`
}

// DefaultFeeSchedule returns the built-in fee table.
func DefaultFeeSchedule() *FeeSchedule {
	return &FeeSchedule{
		Tiers: map[model.SizeTier]TierFee{
			model.TierSmallStandard:   {Base: 3.22},
			model.TierLargeStandard1:  {Base: 3.86},
			model.TierLargeStandard2:  {Base: 4.08, ThresholdOz: 16, SurchargeUnitOz: 4, Surcharge: 0.08},
			model.TierLargeStandard3:  {Base: 4.24, ThresholdOz: 32, SurchargeUnitOz: 4, Surcharge: 0.08},
			model.TierLargeStandard4:  {Base: 7.17, ThresholdOz: 48, SurchargeUnitOz: 8, Surcharge: 0.16},
			model.TierSmallOversize:   {Base: 9.73, ThresholdOz: 16, SurchargeUnitOz: 16, Surcharge: 0.42},
			model.TierMediumOversize:  {Base: 19.05, ThresholdOz: 16, SurchargeUnitOz: 16, Surcharge: 0.42},
			model.TierLargeOversize:   {Base: 89.98, ThresholdOz: 90 * 16, SurchargeUnitOz: 16, Surcharge: 0.83},
			model.TierSpecialOversize: {Base: 158.49, ThresholdOz: 90 * 16, SurchargeUnitOz: 16, Surcharge: 0.83},
		},
		ReferralRates: map[string]float64{
			"electronics": 0.08,
			"camera":      0.08,
			"computers":   0.08,
			"apparel":     0.17,
			"jewelry":     0.20,
			"watches":     0.16,
			"media":       0.15,
			"books":       0.15,
			"home":        0.15,
			"toys":        0.15,
			"grocery":     0.15,
		},
		DefaultReferralRate: 0.15,
	}
}

// LoadFeeSchedule overlays a yaml file onto the defaults. An empty path
// returns the defaults unchanged.
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	schedule := DefaultFeeSchedule()
	if path == "" {
		return schedule, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: read fee schedule %s", path)
	}

	var overlay FeeSchedule
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, eris.Wrapf(err, "valuation: parse fee schedule %s", path)
	}

	for tier, fee := range overlay.Tiers {
		schedule.Tiers[tier] = fee
	}
	for category, rate := range overlay.ReferralRates {
		schedule.ReferralRates[category] = rate
	}
	if overlay.DefaultReferralRate > 0 {
		schedule.DefaultReferralRate = overlay.DefaultReferralRate
	}
	return schedule, nil
}

// FulfillmentFee computes the tier base fee plus marginal weight
// surcharges for the billable weight.
func (f *FeeSchedule) FulfillmentFee(tier model.SizeTier, billableOz float64) float64 {
	fee, ok := f.Tiers[tier]
	if !ok {
		return 0
	}
	total := fee.Base
	if fee.SurchargeUnitOz > 0 && billableOz > fee.ThresholdOz {
		over := billableOz - fee.ThresholdOz
		units := int(over / fee.SurchargeUnitOz)
		if over > float64(units)*fee.SurchargeUnitOz {
			units++ // partial units round up
		}
		total += float64(units) * fee.Surcharge
	}
	return total
}

// ReferralFee computes the category-rate referral fee on a sale price.
func (f *FeeSchedule) ReferralFee(category string, salePrice float64) float64 {
	rate, ok := f.ReferralRates[category]
	if !ok {
		rate = f.DefaultReferralRate
	}
	return salePrice * rate
}

// ExpectedFee is the full per-unit fee the schedule predicts: fulfillment
// plus referral.
func (f *FeeSchedule) ExpectedFee(tier model.SizeTier, billableOz float64, category string, salePrice float64) float64 {
	return f.FulfillmentFee(tier, billableOz) + f.ReferralFee(category, salePrice)
}
