package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func TestClassifySizeTier(t *testing.T) {
	tests := []struct {
		name string
		dims model.Dimensions
		want model.SizeTier
	}{
		{
			name: "thin light item is small standard",
			dims: model.Dimensions{WeightLb: 0.5, LengthIn: 13, WidthIn: 9, HeightIn: 0.6},
			want: model.TierSmallStandard,
		},
		{
			name: "one pound box is large standard 1",
			dims: model.Dimensions{WeightLb: 1.0, LengthIn: 10, WidthIn: 8, HeightIn: 4},
			want: model.TierLargeStandard1,
		},
		{
			name: "two pound box is large standard 2",
			dims: model.Dimensions{WeightLb: 1.8, LengthIn: 12, WidthIn: 10, HeightIn: 6},
			want: model.TierLargeStandard2,
		},
		{
			name: "eighteen pound box is large standard 4",
			dims: model.Dimensions{WeightLb: 18, LengthIn: 17, WidthIn: 13, HeightIn: 7},
			want: model.TierLargeStandard4,
		},
		{
			name: "standard footprint but over twenty pounds goes oversize",
			dims: model.Dimensions{WeightLb: 25, LengthIn: 17, WidthIn: 13, HeightIn: 7},
			want: model.TierSmallOversize,
		},
		{
			name: "long heavy item is medium oversize",
			dims: model.Dimensions{WeightLb: 90, LengthIn: 70, WidthIn: 12, HeightIn: 10},
			want: model.TierMediumOversize,
		},
		{
			name: "bulky girth is large oversize",
			dims: model.Dimensions{WeightLb: 100, LengthIn: 60, WidthIn: 30, HeightIn: 20},
			want: model.TierLargeOversize,
		},
		{
			name: "over weight limit is special oversize",
			dims: model.Dimensions{WeightLb: 200, LengthIn: 40, WidthIn: 30, HeightIn: 30},
			want: model.TierSpecialOversize,
		},
		{
			name: "orientation does not change the tier",
			dims: model.Dimensions{WeightLb: 0.5, LengthIn: 0.6, WidthIn: 13, HeightIn: 9},
			want: model.TierSmallStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySizeTier(tt.dims))
		})
	}
}

func TestBillableWeight(t *testing.T) {
	t.Run("small standard bills actual weight", func(t *testing.T) {
		dims := model.Dimensions{WeightLb: 0.4, LengthIn: 13, WidthIn: 9, HeightIn: 0.6}
		assert.InDelta(t, 0.4, BillableWeightLb(dims), 0.001)
	})

	t.Run("light bulky item bills dimensional weight", func(t *testing.T) {
		dims := model.Dimensions{WeightLb: 2, LengthIn: 40, WidthIn: 20, HeightIn: 20}
		// 16000 in³ / 139 ≈ 115 lb dimensional
		assert.Greater(t, BillableWeightLb(dims), 100.0)
	})

	t.Run("dense item bills actual weight", func(t *testing.T) {
		dims := model.Dimensions{WeightLb: 30, LengthIn: 12, WidthIn: 10, HeightIn: 8}
		assert.InDelta(t, 30.0, BillableWeightLb(dims), 0.001)
	})
}

func TestResolveDimensions(t *testing.T) {
	t.Run("missing catalog item yields estimated placeholder", func(t *testing.T) {
		dims := ResolveDimensions(nil)
		assert.True(t, dims.Estimated)
		assert.InDelta(t, 1.0, dims.WeightLb, 0.001)
	})

	t.Run("zero weight yields placeholder", func(t *testing.T) {
		item := &model.CatalogItem{SKU: "SKU-1", LengthIn: 10, WidthIn: 8, HeightIn: 4}
		assert.True(t, ResolveDimensions(item).Estimated)
	})

	t.Run("complete catalog item passes through", func(t *testing.T) {
		item := &model.CatalogItem{SKU: "SKU-1", WeightLb: 2.5, LengthIn: 12, WidthIn: 9, HeightIn: 3}
		dims := ResolveDimensions(item)
		assert.False(t, dims.Estimated)
		assert.InDelta(t, 2.5, dims.WeightLb, 0.001)
	})
}
