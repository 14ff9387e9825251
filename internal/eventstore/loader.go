package eventstore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/detector"
	"github.com/recoup-labs/recovery-cli/internal/model"
	"github.com/recoup-labs/recovery-cli/internal/resilience"
)

// Loader assembles one detector input batch from the reader. A failing
// collection fetch is retried, then logged and left empty: losing one
// collection degrades the detectors that need it without aborting the run.
// Each collection gets its own circuit breaker so a single broken query
// (a dropped index, a bad migration on one table) stops costing a full
// retry cycle per load without cutting off the healthy collections.
type Loader struct {
	reader   Reader
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
}

// NewLoader wraps a reader with the default retry and breaker policies.
func NewLoader(reader Reader) *Loader {
	return &Loader{
		reader:   reader,
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
}

// Load fetches every collection for one seller batch.
func (l *Loader) Load(ctx context.Context, sellerID, syncID, currency string, lookbackDays int) detector.Input {
	w := Window{SellerID: sellerID, LookbackDays: lookbackDays}
	log := zap.L().With(
		zap.String("seller_id", sellerID),
		zap.String("sync_id", syncID),
	)

	in := detector.Input{
		SellerID: sellerID,
		SyncID:   syncID,
		Currency: currency,
		Now:      time.Now().UTC(),
	}

	in.Orders = fetch(ctx, l, log, "orders", func(ctx context.Context) ([]model.Order, error) {
		return l.reader.Orders(ctx, w)
	})
	in.Returns = fetch(ctx, l, log, "returns", func(ctx context.Context) ([]model.Return, error) {
		return l.reader.Returns(ctx, w)
	})
	in.Refunds = fetch(ctx, l, log, "refunds", func(ctx context.Context) ([]model.Refund, error) {
		return l.reader.Refunds(ctx, w)
	})
	in.Snapshots = fetch(ctx, l, log, "snapshots", func(ctx context.Context) ([]model.InventorySnapshot, error) {
		return l.reader.Snapshots(ctx, w)
	})
	in.Adjustments = fetch(ctx, l, log, "adjustments", func(ctx context.Context) ([]model.InventoryAdjustment, error) {
		return l.reader.Adjustments(ctx, w)
	})
	in.Shipments = fetch(ctx, l, log, "shipments", func(ctx context.Context) ([]model.Shipment, error) {
		return l.reader.Shipments(ctx, w)
	})
	in.Removals = fetch(ctx, l, log, "removals", func(ctx context.Context) ([]model.RemovalEvent, error) {
		return l.reader.Removals(ctx, w)
	})
	in.Claims = fetch(ctx, l, log, "claims", func(ctx context.Context) ([]model.ClaimRecord, error) {
		return l.reader.Claims(ctx, w)
	})
	in.Listings = fetch(ctx, l, log, "listings", func(ctx context.Context) ([]model.ListingPerformance, error) {
		return l.reader.Listings(ctx, w)
	})
	in.Prices = fetch(ctx, l, log, "prices", func(ctx context.Context) ([]model.PricePoint, error) {
		return l.reader.Prices(ctx, w)
	})

	return in
}

// Catalog fetches the seller's catalog for valuation, keyed by SKU.
func (l *Loader) Catalog(ctx context.Context, sellerID string) map[string]*model.CatalogItem {
	items, err := resilience.ExecuteVal(ctx, l.breakers.Get("catalog"), func(ctx context.Context) ([]model.CatalogItem, error) {
		return resilience.DoVal(ctx, l.retry, func(ctx context.Context) ([]model.CatalogItem, error) {
			return l.reader.CatalogItems(ctx, sellerID)
		})
	})
	if err != nil {
		zap.L().Warn("catalog fetch failed, valuation will use placeholders",
			zap.String("seller_id", sellerID),
			zap.Error(err))
		return nil
	}
	bySKU := make(map[string]*model.CatalogItem, len(items))
	for i := range items {
		bySKU[items[i].SKU] = &items[i]
	}
	return bySKU
}

// fetch runs one collection query behind its breaker and the retry policy.
// The breaker wraps the whole retry cycle so an open circuit skips the
// backoff sleeps entirely.
func fetch[T any](ctx context.Context, l *Loader, log *zap.Logger, kind string, fn func(ctx context.Context) ([]T, error)) []T {
	rows, err := resilience.ExecuteVal(ctx, l.breakers.Get(kind), func(ctx context.Context) ([]T, error) {
		return resilience.DoVal(ctx, l.retry, fn)
	})
	if err != nil {
		log.Warn("event fetch failed, continuing with empty collection",
			zap.String("collection", kind),
			zap.Error(err))
		return nil
	}
	return rows
}
