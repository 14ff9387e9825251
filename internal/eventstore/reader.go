// Package eventstore is the read-only adapter over the normalized
// marketplace event warehouse. Detectors never query it directly; the
// loader assembles one seller-scoped, window-filtered batch per run.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/recoup-labs/recovery-cli/internal/db"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Window scopes every fetch to one seller and a lookback horizon.
type Window struct {
	SellerID     string
	LookbackDays int
}

func (w Window) since(now time.Time) time.Time {
	days := w.LookbackDays
	if days <= 0 {
		days = 365
	}
	return now.AddDate(0, 0, -days)
}

// Reader fetches per-kind event collections. Implementations return
// seller-scoped rows no older than the window's lookback.
type Reader interface {
	Orders(ctx context.Context, w Window) ([]model.Order, error)
	Returns(ctx context.Context, w Window) ([]model.Return, error)
	Refunds(ctx context.Context, w Window) ([]model.Refund, error)
	Snapshots(ctx context.Context, w Window) ([]model.InventorySnapshot, error)
	Adjustments(ctx context.Context, w Window) ([]model.InventoryAdjustment, error)
	Shipments(ctx context.Context, w Window) ([]model.Shipment, error)
	Removals(ctx context.Context, w Window) ([]model.RemovalEvent, error)
	Claims(ctx context.Context, w Window) ([]model.ClaimRecord, error)
	Listings(ctx context.Context, w Window) ([]model.ListingPerformance, error)
	Prices(ctx context.Context, w Window) ([]model.PricePoint, error)
	CatalogItems(ctx context.Context, sellerID string) ([]model.CatalogItem, error)
}

// PGReader implements Reader over the pgx pool.
type PGReader struct {
	pool db.Pool
	now  func() time.Time
}

// NewPGReader wraps a pool. The clock is injectable for tests.
func NewPGReader(pool db.Pool) *PGReader {
	return &PGReader{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (r *PGReader) Orders(ctx context.Context, w Window) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, order_id, buyer_id, purchase_date, currency, status, lines
		 FROM orders WHERE seller_id = $1 AND purchase_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query orders")
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var linesJSON []byte
		if err := rows.Scan(&o.SellerID, &o.OrderID, &o.BuyerID, &o.PurchaseDate, &o.Currency, &o.Status, &linesJSON); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan order")
		}
		if len(linesJSON) > 0 {
			if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
				return nil, eris.Wrapf(err, "eventstore: unmarshal lines for order %s", o.OrderID)
			}
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: orders rows")
}

func (r *PGReader) Returns(ctx context.Context, w Window) ([]model.Return, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, order_id, sku, return_date, quantity, status, condition,
		        tracking_confirmed, restocking_fee, condition_documented
		 FROM returns WHERE seller_id = $1 AND return_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query returns")
	}
	defer rows.Close()

	var out []model.Return
	for rows.Next() {
		var ret model.Return
		if err := rows.Scan(&ret.SellerID, &ret.OrderID, &ret.SKU, &ret.ReturnDate,
			&ret.Quantity, &ret.Status, &ret.Condition, &ret.TrackingConfirmed,
			&ret.RestockingFee, &ret.ConditionDocumented); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan return")
		}
		out = append(out, ret)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: returns rows")
}

func (r *PGReader) Refunds(ctx context.Context, w Window) ([]model.Refund, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, refund_id, order_id, sku, buyer_id, refund_date, amount,
		        currency, quantity, original_charge, return_status, tracking_confirmed
		 FROM refunds WHERE seller_id = $1 AND refund_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query refunds")
	}
	defer rows.Close()

	var out []model.Refund
	for rows.Next() {
		var ref model.Refund
		if err := rows.Scan(&ref.SellerID, &ref.RefundID, &ref.OrderID, &ref.SKU,
			&ref.BuyerID, &ref.RefundDate, &ref.Amount, &ref.Currency, &ref.Quantity,
			&ref.OriginalCharge, &ref.ReturnStatus, &ref.TrackingConfirmed); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan refund")
		}
		out = append(out, ref)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: refunds rows")
}

func (r *PGReader) Snapshots(ctx context.Context, w Window) ([]model.InventorySnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, sku, snapshot_date, quantity
		 FROM inventory_snapshots WHERE seller_id = $1 AND snapshot_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query snapshots")
	}
	defer rows.Close()

	var out []model.InventorySnapshot
	for rows.Next() {
		var s model.InventorySnapshot
		if err := rows.Scan(&s.SellerID, &s.SKU, &s.SnapshotDate, &s.Quantity); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan snapshot")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: snapshots rows")
}

func (r *PGReader) Adjustments(ctx context.Context, w Window) ([]model.InventoryAdjustment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, adjustment_id, sku, order_id, adjustment_date, quantity,
		        type, reason, seller_consent
		 FROM inventory_adjustments WHERE seller_id = $1 AND adjustment_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query adjustments")
	}
	defer rows.Close()

	var out []model.InventoryAdjustment
	for rows.Next() {
		var a model.InventoryAdjustment
		if err := rows.Scan(&a.SellerID, &a.AdjustmentID, &a.SKU, &a.OrderID,
			&a.AdjustmentDate, &a.Quantity, &a.Type, &a.Reason, &a.SellerConsent); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan adjustment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: adjustments rows")
}

func (r *PGReader) Shipments(ctx context.Context, w Window) ([]model.Shipment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, shipment_id, order_id, sku, ship_date, quantity, status,
		        inbound, fulfillment_fee
		 FROM shipments WHERE seller_id = $1 AND ship_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query shipments")
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		var s model.Shipment
		if err := rows.Scan(&s.SellerID, &s.ShipmentID, &s.OrderID, &s.SKU,
			&s.ShipDate, &s.Quantity, &s.Status, &s.Inbound, &s.FulfillmentFee); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan shipment")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: shipments rows")
}

func (r *PGReader) Removals(ctx context.Context, w Window) ([]model.RemovalEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, removal_id, sku, removal_date, quantity, type
		 FROM removal_events WHERE seller_id = $1 AND removal_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query removals")
	}
	defer rows.Close()

	var out []model.RemovalEvent
	for rows.Next() {
		var rm model.RemovalEvent
		if err := rows.Scan(&rm.SellerID, &rm.RemovalID, &rm.SKU, &rm.RemovalDate,
			&rm.Quantity, &rm.Type); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan removal")
		}
		out = append(out, rm)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: removals rows")
}

func (r *PGReader) Claims(ctx context.Context, w Window) ([]model.ClaimRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, case_id, claim_type, event_date, opened_date, closed_date,
		        status, amount_requested, amount_reimbursed, currency, resolution_reason,
		        last_response_date, has_proof_of_delivery, has_invoice, carrier_delayed,
		        platform_delayed
		 FROM claim_records WHERE seller_id = $1 AND event_date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query claims")
	}
	defer rows.Close()

	var out []model.ClaimRecord
	for rows.Next() {
		var c model.ClaimRecord
		if err := rows.Scan(&c.SellerID, &c.CaseID, &c.ClaimType, &c.EventDate,
			&c.OpenedDate, &c.ClosedDate, &c.Status, &c.AmountRequested,
			&c.AmountReimbursed, &c.Currency, &c.ResolutionReason, &c.LastResponseDate,
			&c.HasProofOfDelivery, &c.HasInvoice, &c.CarrierDelayed, &c.PlatformDelayed); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan claim")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: claims rows")
}

func (r *PGReader) Listings(ctx context.Context, w Window) ([]model.ListingPerformance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, sku, asin, active, fba_eligible, issue_flags, daily
		 FROM listing_performance WHERE seller_id = $1`,
		w.SellerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query listings")
	}
	defer rows.Close()

	since := w.since(r.now())
	var out []model.ListingPerformance
	for rows.Next() {
		var l model.ListingPerformance
		var flagsJSON, dailyJSON []byte
		if err := rows.Scan(&l.SellerID, &l.SKU, &l.ASIN, &l.Active, &l.FBAEligible,
			&flagsJSON, &dailyJSON); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan listing")
		}
		if len(flagsJSON) > 0 {
			if err := json.Unmarshal(flagsJSON, &l.IssueFlags); err != nil {
				return nil, eris.Wrapf(err, "eventstore: unmarshal flags for %s", l.SKU)
			}
		}
		if len(dailyJSON) > 0 {
			if err := json.Unmarshal(dailyJSON, &l.Daily); err != nil {
				return nil, eris.Wrapf(err, "eventstore: unmarshal daily metrics for %s", l.SKU)
			}
		}
		// Daily metrics are stored whole per listing; trim to the window here.
		kept := l.Daily[:0]
		for _, d := range l.Daily {
			if !d.Date.Before(since) {
				kept = append(kept, d)
			}
		}
		l.Daily = kept
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: listings rows")
}

func (r *PGReader) Prices(ctx context.Context, w Window) ([]model.PricePoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, sku, date, price, currency
		 FROM price_history WHERE seller_id = $1 AND date >= $2`,
		w.SellerID, w.since(r.now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query prices")
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		if err := rows.Scan(&p.SellerID, &p.SKU, &p.Date, &p.Price, &p.Currency); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan price point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: prices rows")
}

func (r *PGReader) CatalogItems(ctx context.Context, sellerID string) ([]model.CatalogItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seller_id, sku, asin, category, unit_cost, weight_lb, length_in,
		        width_in, height_in
		 FROM catalog_items WHERE seller_id = $1`,
		sellerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "eventstore: query catalog")
	}
	defer rows.Close()

	var out []model.CatalogItem
	for rows.Next() {
		var c model.CatalogItem
		if err := rows.Scan(&c.SellerID, &c.SKU, &c.ASIN, &c.Category, &c.UnitCost,
			&c.WeightLb, &c.LengthIn, &c.WidthIn, &c.HeightIn); err != nil {
			return nil, eris.Wrap(err, "eventstore: scan catalog item")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "eventstore: catalog rows")
}
