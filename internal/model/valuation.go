package model

// CostSource identifies which tier of the cost cascade produced a unit cost.
type CostSource string

const (
	CostSourceInvoice CostSource = "invoice"
	CostSourceCatalog CostSource = "catalog"
	CostSourceHistory CostSource = "history"
	CostSourceDefault CostSource = "default"
)

// SizeTier is the marketplace weight/dimension classification that drives
// fulfillment fees.
type SizeTier string

const (
	TierSmallStandard   SizeTier = "small_standard"
	TierLargeStandard1  SizeTier = "large_standard_1"
	TierLargeStandard2  SizeTier = "large_standard_2"
	TierLargeStandard3  SizeTier = "large_standard_3"
	TierLargeStandard4  SizeTier = "large_standard_4"
	TierSmallOversize   SizeTier = "small_oversize"
	TierMediumOversize  SizeTier = "medium_oversize"
	TierLargeOversize   SizeTier = "large_oversize"
	TierSpecialOversize SizeTier = "special_oversize"
)

// Dimensions holds resolved (or placeholder) physical attributes of a unit.
type Dimensions struct {
	WeightLb  float64 `json:"weight_lb"`
	LengthIn  float64 `json:"length_in"`
	WidthIn   float64 `json:"width_in"`
	HeightIn  float64 `json:"height_in"`
	Estimated bool    `json:"estimated"` // true when the placeholder was used
}

// ClaimValuation is the maximum defensible recovery amount for one
// detection. It is a value object owned by the caller; the calculator never
// caches or shares it across calls.
type ClaimValuation struct {
	SellerID string `json:"seller_id"`
	ClaimID  string `json:"claim_id"`
	SKU      string `json:"sku"`

	UnitCost       float64    `json:"unit_cost"`
	CostSource     CostSource `json:"cost_source"`
	CostConfidence float64    `json:"cost_confidence"`

	Quantity          int     `json:"quantity"`
	FeeOverchargeUnit float64 `json:"fee_overcharge_per_unit"`

	Dimensions Dimensions `json:"dimensions"`
	SizeTier   SizeTier   `json:"size_tier"`

	BaseValue   float64 `json:"base_value"`
	FeeRecovery float64 `json:"fee_recovery"`
	TotalValue  float64 `json:"total_value"`

	SourceCurrency     string  `json:"source_currency"`
	TargetCurrency     string  `json:"target_currency"`
	ExchangeRate       float64 `json:"exchange_rate"`
	ExchangeRateSource string  `json:"exchange_rate_source"`
	ConvertedValue     float64 `json:"converted_value"`

	Confidence float64  `json:"confidence"`
	Method     []string `json:"method"` // human-readable resolution trail
}
