package model

import "time"

// Event records are normalized, read-only facts supplied by the event store
// adapter. They are always seller-scoped and pre-filtered to a lookback
// window before reaching a detector.

// Order represents a marketplace order with its line items.
type Order struct {
	SellerID     string      `json:"seller_id"`
	OrderID      string      `json:"order_id"`
	BuyerID      string      `json:"buyer_id,omitempty"`
	PurchaseDate time.Time   `json:"purchase_date"`
	Currency     string      `json:"currency"`
	Status       string      `json:"status"`
	Lines        []OrderLine `json:"lines"`
}

// OrderLine is a single SKU position within an order.
type OrderLine struct {
	SKU             string  `json:"sku"`
	ASIN            string  `json:"asin,omitempty"`
	Category        string  `json:"category,omitempty"`
	QuantityOrdered int     `json:"quantity_ordered"`
	QuantityShipped int     `json:"quantity_shipped"`
	UnitPrice       float64 `json:"unit_price"`
	ChargedPrice    float64 `json:"charged_price"`
	EstimatedFee    float64 `json:"estimated_fee"`
	ChargedFee      float64 `json:"charged_fee"`
	NetProceeds     float64 `json:"net_proceeds"`
}

// Return condition codes as reported by the fulfillment center.
const (
	ReturnConditionSellable        = "sellable"
	ReturnConditionCustomerDamaged = "customer_damaged"
	ReturnConditionWrongItem       = "wrong_item"
	ReturnConditionDefective       = "defective"
)

// Return represents a physical customer return event.
type Return struct {
	SellerID            string    `json:"seller_id"`
	OrderID             string    `json:"order_id"`
	SKU                 string    `json:"sku"`
	ReturnDate          time.Time `json:"return_date"`
	Quantity            int       `json:"quantity"`
	Status              string    `json:"status"` // received, in_transit, delivered
	Condition           string    `json:"condition,omitempty"`
	TrackingConfirmed   bool      `json:"tracking_confirmed"`
	RestockingFee       float64   `json:"restocking_fee"`
	ConditionDocumented bool      `json:"condition_documented"`
}

// Refund return-status values that indicate the marketplace believes the
// item came back.
const (
	RefundReturnReceived  = "return_received"
	RefundReturnDelivered = "delivered"
)

// Refund represents money paid back to a buyer.
type Refund struct {
	SellerID          string    `json:"seller_id"`
	RefundID          string    `json:"refund_id"`
	OrderID           string    `json:"order_id"`
	SKU               string    `json:"sku,omitempty"`
	BuyerID           string    `json:"buyer_id,omitempty"`
	RefundDate        time.Time `json:"refund_date"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Quantity          int       `json:"quantity"`
	OriginalCharge    float64   `json:"original_charge"`
	ReturnStatus      string    `json:"return_status,omitempty"`
	TrackingConfirmed bool      `json:"tracking_confirmed"`
}

// InventorySnapshot is a point-in-time on-hand quantity for one SKU.
type InventorySnapshot struct {
	SellerID     string    `json:"seller_id"`
	SKU          string    `json:"sku"`
	SnapshotDate time.Time `json:"snapshot_date"`
	Quantity     int       `json:"quantity"`
}

// Inventory adjustment types observed in practice.
const (
	AdjustmentCustomerReturn = "customer_return"
	AdjustmentDamaged        = "damaged"
	AdjustmentFound          = "found"
	AdjustmentLost           = "lost"
	AdjustmentDisposed       = "disposed"
	AdjustmentDestroyed      = "destroyed"
)

// InventoryAdjustment is a signed quantity correction applied by the
// fulfillment center.
type InventoryAdjustment struct {
	SellerID       string    `json:"seller_id"`
	AdjustmentID   string    `json:"adjustment_id"`
	SKU            string    `json:"sku"`
	OrderID        string    `json:"order_id,omitempty"`
	AdjustmentDate time.Time `json:"adjustment_date"`
	Quantity       int       `json:"quantity"` // signed; positive = stock added
	Type           string    `json:"type"`
	Reason         string    `json:"reason,omitempty"`
	SellerConsent  bool      `json:"seller_consent"`
}

// Shipment represents an outbound or inbound shipment.
type Shipment struct {
	SellerID       string    `json:"seller_id"`
	ShipmentID     string    `json:"shipment_id"`
	OrderID        string    `json:"order_id,omitempty"`
	SKU            string    `json:"sku"`
	ShipDate       time.Time `json:"ship_date"`
	Quantity       int       `json:"quantity"`
	Status         string    `json:"status"` // shipped, delivered, canceled
	Inbound        bool      `json:"inbound"`
	FulfillmentFee float64   `json:"fulfillment_fee"`
}

// RemovalEvent is stock leaving the warehouse at the seller's request.
type RemovalEvent struct {
	SellerID    string    `json:"seller_id"`
	RemovalID   string    `json:"removal_id"`
	SKU         string    `json:"sku"`
	RemovalDate time.Time `json:"removal_date"`
	Quantity    int       `json:"quantity"`
	Type        string    `json:"type"` // return_to_seller, disposal
}

// ClaimRecord is a previously filed reimbursement case with the marketplace.
type ClaimRecord struct {
	SellerID           string     `json:"seller_id"`
	CaseID             string     `json:"case_id"`
	ClaimType          string     `json:"claim_type,omitempty"`
	EventDate          time.Time  `json:"event_date"` // date of the underlying loss
	OpenedDate         time.Time  `json:"opened_date"`
	ClosedDate         *time.Time `json:"closed_date,omitempty"`
	Status             string     `json:"status"` // pending, closed, denied
	AmountRequested    float64    `json:"amount_requested"`
	AmountReimbursed   float64    `json:"amount_reimbursed"`
	Currency           string     `json:"currency"`
	ResolutionReason   string     `json:"resolution_reason,omitempty"`
	LastResponseDate   *time.Time `json:"last_response_date,omitempty"`
	HasProofOfDelivery bool       `json:"has_proof_of_delivery"`
	HasInvoice         bool       `json:"has_invoice"`
	CarrierDelayed     bool       `json:"carrier_delayed"`
	PlatformDelayed    bool       `json:"platform_delayed"`
}

// ListingPerformance carries per-listing daily metrics used by the
// suppression detector.
type ListingPerformance struct {
	SellerID    string        `json:"seller_id"`
	SKU         string        `json:"sku"`
	ASIN        string        `json:"asin,omitempty"`
	Active      bool          `json:"active"`
	FBAEligible bool          `json:"fba_eligible"`
	IssueFlags  []string      `json:"issue_flags,omitempty"`
	Daily       []DailyMetric `json:"daily"`
}

// DailyMetric is one day of listing performance.
type DailyMetric struct {
	Date           time.Time `json:"date"`
	UnitsSold      int       `json:"units_sold"`
	PageViews      int       `json:"page_views"`
	BuyBoxPct      float64   `json:"buy_box_pct"` // 0-100
	TrafficTracked bool      `json:"traffic_tracked"`
}

// PricePoint is one observation from the price-history table, used to
// estimate unit value when no invoice or catalog cost is available.
type PricePoint struct {
	SellerID string    `json:"seller_id"`
	SKU      string    `json:"sku"`
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
	Currency string    `json:"currency"`
}

// CatalogItem holds catalog-level cost and physical attributes for a SKU.
type CatalogItem struct {
	SellerID string  `json:"seller_id"`
	SKU      string  `json:"sku"`
	ASIN     string  `json:"asin,omitempty"`
	Category string  `json:"category,omitempty"`
	UnitCost float64 `json:"unit_cost"`
	WeightLb float64 `json:"weight_lb"`
	LengthIn float64 `json:"length_in"`
	WidthIn  float64 `json:"width_in"`
	HeightIn float64 `json:"height_in"`
}
