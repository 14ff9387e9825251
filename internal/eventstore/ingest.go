package eventstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/db"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Report kinds accepted by Ingestor.Ingest. Each maps to one warehouse table.
const (
	KindOrders      = "orders"
	KindReturns     = "returns"
	KindRefunds     = "refunds"
	KindSnapshots   = "snapshots"
	KindAdjustments = "adjustments"
	KindShipments   = "shipments"
	KindRemovals    = "removals"
	KindClaims      = "claims"
	KindListings    = "listings"
	KindPrices      = "prices"
	KindCatalog     = "catalog"
)

// Kinds lists every report kind Ingest accepts, for CLI help text.
func Kinds() []string {
	return []string{
		KindOrders, KindReturns, KindRefunds, KindSnapshots, KindAdjustments,
		KindShipments, KindRemovals, KindClaims, KindListings, KindPrices, KindCatalog,
	}
}

// Ingestor loads marketplace report exports (JSON Lines, one record per
// line) into the event warehouse. Keyed tables are upserted so re-ingesting
// an overlapping report refreshes rows instead of duplicating them; the
// returns table has no natural key and is appended with COPY.
type Ingestor struct {
	pool db.Pool
	log  *zap.Logger
}

func NewIngestor(pool db.Pool) *Ingestor {
	return &Ingestor{pool: pool, log: zap.L().Named("ingest")}
}

// Ingest parses one report stream of the given kind and writes it to the
// warehouse. It returns the number of rows written.
func (i *Ingestor) Ingest(ctx context.Context, kind string, r io.Reader) (int64, error) {
	var (
		n   int64
		err error
	)
	switch kind {
	case KindOrders:
		n, err = i.ingestOrders(ctx, r)
	case KindReturns:
		n, err = i.ingestReturns(ctx, r)
	case KindRefunds:
		n, err = i.ingestRefunds(ctx, r)
	case KindSnapshots:
		n, err = i.ingestSnapshots(ctx, r)
	case KindAdjustments:
		n, err = i.ingestAdjustments(ctx, r)
	case KindShipments:
		n, err = i.ingestShipments(ctx, r)
	case KindRemovals:
		n, err = i.ingestRemovals(ctx, r)
	case KindClaims:
		n, err = i.ingestClaims(ctx, r)
	case KindListings:
		n, err = i.ingestListings(ctx, r)
	case KindPrices:
		n, err = i.ingestPrices(ctx, r)
	case KindCatalog:
		n, err = i.ingestCatalog(ctx, r)
	default:
		return 0, eris.Errorf("eventstore: unknown report kind %q", kind)
	}
	if err != nil {
		return 0, err
	}

	i.log.Info("report ingested", zap.String("kind", kind), zap.Int64("rows", n))
	return n, nil
}

// decodeLines parses a JSON Lines stream, skipping blank lines.
func decodeLines[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []T
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, eris.Wrapf(err, "eventstore: ingest: line %d", line)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "eventstore: ingest: read report")
	}
	return out, nil
}

func orDefaultCurrency(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

func (i *Ingestor) ingestOrders(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.Order](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, o := range recs {
		lines, err := json.Marshal(o.Lines)
		if err != nil {
			return 0, eris.Wrapf(err, "eventstore: ingest: order %s lines", o.OrderID)
		}
		rows = append(rows, []any{
			o.SellerID, o.OrderID, o.BuyerID, o.PurchaseDate,
			orDefaultCurrency(o.Currency), o.Status, lines,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "orders",
		Columns:      []string{"seller_id", "order_id", "buyer_id", "purchase_date", "currency", "status", "lines"},
		ConflictKeys: []string{"seller_id", "order_id"},
	}, rows)
}

func (i *Ingestor) ingestReturns(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.Return](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, ret := range recs {
		rows = append(rows, []any{
			ret.SellerID, ret.OrderID, ret.SKU, ret.ReturnDate, ret.Quantity,
			ret.Status, ret.Condition, ret.TrackingConfirmed, ret.RestockingFee,
			ret.ConditionDocumented,
		})
	}
	return db.CopyFrom(ctx, i.pool, "returns",
		[]string{"seller_id", "order_id", "sku", "return_date", "quantity", "status", "condition", "tracking_confirmed", "restocking_fee", "condition_documented"},
		rows)
}

func (i *Ingestor) ingestRefunds(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.Refund](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, rf := range recs {
		rows = append(rows, []any{
			rf.SellerID, rf.RefundID, rf.OrderID, rf.SKU, rf.BuyerID,
			rf.RefundDate, rf.Amount, orDefaultCurrency(rf.Currency), rf.Quantity,
			rf.OriginalCharge, rf.ReturnStatus, rf.TrackingConfirmed,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "refunds",
		Columns:      []string{"seller_id", "refund_id", "order_id", "sku", "buyer_id", "refund_date", "amount", "currency", "quantity", "original_charge", "return_status", "tracking_confirmed"},
		ConflictKeys: []string{"seller_id", "refund_id"},
	}, rows)
}

func (i *Ingestor) ingestSnapshots(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.InventorySnapshot](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, s := range recs {
		rows = append(rows, []any{s.SellerID, s.SKU, s.SnapshotDate, s.Quantity})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "inventory_snapshots",
		Columns:      []string{"seller_id", "sku", "snapshot_date", "quantity"},
		ConflictKeys: []string{"seller_id", "sku", "snapshot_date"},
	}, rows)
}

func (i *Ingestor) ingestAdjustments(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.InventoryAdjustment](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, a := range recs {
		rows = append(rows, []any{
			a.SellerID, a.AdjustmentID, a.SKU, a.OrderID, a.AdjustmentDate,
			a.Quantity, a.Type, a.Reason, a.SellerConsent,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "inventory_adjustments",
		Columns:      []string{"seller_id", "adjustment_id", "sku", "order_id", "adjustment_date", "quantity", "type", "reason", "seller_consent"},
		ConflictKeys: []string{"seller_id", "adjustment_id"},
	}, rows)
}

func (i *Ingestor) ingestShipments(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.Shipment](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, s := range recs {
		rows = append(rows, []any{
			s.SellerID, s.ShipmentID, s.OrderID, s.SKU, s.ShipDate,
			s.Quantity, s.Status, s.Inbound, s.FulfillmentFee,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "shipments",
		Columns:      []string{"seller_id", "shipment_id", "order_id", "sku", "ship_date", "quantity", "status", "inbound", "fulfillment_fee"},
		ConflictKeys: []string{"seller_id", "shipment_id"},
	}, rows)
}

func (i *Ingestor) ingestRemovals(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.RemovalEvent](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, rm := range recs {
		rows = append(rows, []any{rm.SellerID, rm.RemovalID, rm.SKU, rm.RemovalDate, rm.Quantity, rm.Type})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "removal_events",
		Columns:      []string{"seller_id", "removal_id", "sku", "removal_date", "quantity", "type"},
		ConflictKeys: []string{"seller_id", "removal_id"},
	}, rows)
}

func (i *Ingestor) ingestClaims(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.ClaimRecord](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, c := range recs {
		rows = append(rows, []any{
			c.SellerID, c.CaseID, c.ClaimType, c.EventDate, c.OpenedDate,
			c.ClosedDate, c.Status, c.AmountRequested, c.AmountReimbursed,
			orDefaultCurrency(c.Currency), c.ResolutionReason, c.LastResponseDate,
			c.HasProofOfDelivery, c.HasInvoice, c.CarrierDelayed, c.PlatformDelayed,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table: "claim_records",
		Columns: []string{
			"seller_id", "case_id", "claim_type", "event_date", "opened_date",
			"closed_date", "status", "amount_requested", "amount_reimbursed",
			"currency", "resolution_reason", "last_response_date",
			"has_proof_of_delivery", "has_invoice", "carrier_delayed", "platform_delayed",
		},
		ConflictKeys: []string{"seller_id", "case_id"},
	}, rows)
}

func (i *Ingestor) ingestListings(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.ListingPerformance](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, l := range recs {
		flags, err := json.Marshal(l.IssueFlags)
		if err != nil {
			return 0, eris.Wrapf(err, "eventstore: ingest: listing %s flags", l.SKU)
		}
		daily, err := json.Marshal(l.Daily)
		if err != nil {
			return 0, eris.Wrapf(err, "eventstore: ingest: listing %s daily", l.SKU)
		}
		rows = append(rows, []any{l.SellerID, l.SKU, l.ASIN, l.Active, l.FBAEligible, flags, daily})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "listing_performance",
		Columns:      []string{"seller_id", "sku", "asin", "active", "fba_eligible", "issue_flags", "daily"},
		ConflictKeys: []string{"seller_id", "sku"},
	}, rows)
}

func (i *Ingestor) ingestPrices(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.PricePoint](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, p := range recs {
		rows = append(rows, []any{p.SellerID, p.SKU, p.Date, p.Price, orDefaultCurrency(p.Currency)})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "price_history",
		Columns:      []string{"seller_id", "sku", "date", "price", "currency"},
		ConflictKeys: []string{"seller_id", "sku", "date"},
	}, rows)
}

func (i *Ingestor) ingestCatalog(ctx context.Context, r io.Reader) (int64, error) {
	recs, err := decodeLines[model.CatalogItem](r)
	if err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(recs))
	for _, c := range recs {
		rows = append(rows, []any{
			c.SellerID, c.SKU, c.ASIN, c.Category, c.UnitCost,
			c.WeightLb, c.LengthIn, c.WidthIn, c.HeightIn,
		})
	}
	return db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
		Table:        "catalog_items",
		Columns:      []string{"seller_id", "sku", "asin", "category", "unit_cost", "weight_lb", "length_in", "width_in", "height_in"},
		ConflictKeys: []string{"seller_id", "sku"},
	}, rows)
}
