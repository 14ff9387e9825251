package valuation

import (
	"math"
	"sort"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// dimensionalDivisor converts cubic inches to dimensional-weight pounds.
const dimensionalDivisor = 139.0

// DefaultDimensions is the placeholder used when the catalog has no
// physical data for a SKU. Estimated stays true so downstream confidence
// can discount on it.
func DefaultDimensions() model.Dimensions {
	return model.Dimensions{
		WeightLb:  1.0,
		LengthIn:  10,
		WidthIn:   8,
		HeightIn:  4,
		Estimated: true,
	}
}

// ResolveDimensions reads dims from the catalog item, falling back to the
// placeholder for any item with missing or nonsensical values.
func ResolveDimensions(item *model.CatalogItem) model.Dimensions {
	if item == nil {
		return DefaultDimensions()
	}
	if item.WeightLb <= 0 || item.LengthIn <= 0 || item.WidthIn <= 0 || item.HeightIn <= 0 {
		return DefaultDimensions()
	}
	return model.Dimensions{
		WeightLb: item.WeightLb,
		LengthIn: item.LengthIn,
		WidthIn:  item.WidthIn,
		HeightIn: item.HeightIn,
	}
}

// DimensionalWeightLb is volume in cubic inches divided by the divisor.
func DimensionalWeightLb(d model.Dimensions) float64 {
	return d.LengthIn * d.WidthIn * d.HeightIn / dimensionalDivisor
}

// BillableWeightLb is the greater of actual and dimensional weight, except
// for small standard items which always bill on actual weight.
func BillableWeightLb(d model.Dimensions) float64 {
	if ClassifySizeTier(d) == model.TierSmallStandard {
		return d.WeightLb
	}
	return math.Max(d.WeightLb, DimensionalWeightLb(d))
}

// ClassifySizeTier buckets a unit into the fee tier its weight and
// dimensions demand. Dimensions are sorted longest-first before the side
// checks so orientation does not matter.
func ClassifySizeTier(d model.Dimensions) model.SizeTier {
	sides := []float64{d.LengthIn, d.WidthIn, d.HeightIn}
	sort.Sort(sort.Reverse(sort.Float64Slice(sides)))
	longest, median, shortest := sides[0], sides[1], sides[2]

	weightOz := d.WeightLb * 16
	girth := longest + 2*(median+shortest)

	switch {
	case weightOz <= 16 && longest <= 15 && median <= 12 && shortest <= 0.75:
		return model.TierSmallStandard
	case longest <= 18 && median <= 14 && shortest <= 8:
		switch {
		case d.WeightLb <= 1:
			return model.TierLargeStandard1
		case d.WeightLb <= 2:
			return model.TierLargeStandard2
		case d.WeightLb <= 3:
			return model.TierLargeStandard3
		case d.WeightLb <= 20:
			return model.TierLargeStandard4
		}
	}

	switch {
	case d.WeightLb <= 70 && longest <= 60 && girth <= 130:
		return model.TierSmallOversize
	case d.WeightLb <= 150 && longest <= 108 && girth <= 130:
		return model.TierMediumOversize
	case d.WeightLb <= 150 && longest <= 108 && girth <= 165:
		return model.TierLargeOversize
	default:
		return model.TierSpecialOversize
	}
}
