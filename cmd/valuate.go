package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/eventstore"
	"github.com/recoup-labs/recovery-cli/internal/valuation"
)

var valuateFlags struct {
	sellerID  string
	claimID   string
	sku       string
	asin      string
	category  string
	quantity  int
	feeUnit   float64
	salePrice float64
	currency  string
	eventDate string
}

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Compute the defensible claim value for one SKU",
	Long:  "Resolves unit cost through the invoice/catalog/history cascade, models the dimensional fulfillment fee, and converts to the target currency.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "valuate"), zap.String("sku", valuateFlags.sku))

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		fees, err := valuation.LoadFeeSchedule(cfg.Valuation.FeeScheduleFile)
		if err != nil {
			return err
		}

		var invoices *valuation.InvoiceIndex
		if cfg.Valuation.InvoiceFile != "" {
			invoices, err = valuation.LoadInvoiceWorkbook(cfg.Valuation.InvoiceFile)
			if err != nil {
				return err
			}
			log.Info("invoice workbook loaded", zap.Int("lines", invoices.Len()))
		}

		in := valuation.ClaimInput{
			SellerID:       valuateFlags.sellerID,
			ClaimID:        valuateFlags.claimID,
			SKU:            valuateFlags.sku,
			ASIN:           valuateFlags.asin,
			Category:       valuateFlags.category,
			Quantity:       valuateFlags.quantity,
			FeeChargedUnit: valuateFlags.feeUnit,
			SalePrice:      valuateFlags.salePrice,
			SourceCurrency: valuateFlags.currency,
			EventDate:      time.Now().UTC(),
		}
		if valuateFlags.eventDate != "" {
			d, err := time.Parse("2006-01-02", valuateFlags.eventDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", valuateFlags.eventDate, err)
			}
			in.EventDate = d
		}

		// Catalog and price history improve cascade placement when the event
		// warehouse is reachable; the calculator degrades without them.
		if pool, perr := eventsPool(ctx); perr == nil {
			defer pool.Close()
			loader := eventstore.NewLoader(eventstore.NewPGReader(pool))
			if catalog := loader.Catalog(ctx, valuateFlags.sellerID); catalog != nil {
				if item, ok := catalog[strings.ToUpper(valuateFlags.sku)]; ok {
					in.Catalog = item
				}
			}
		} else {
			log.Warn("event warehouse unavailable, valuing without catalog", zap.Error(perr))
		}

		calc := valuation.NewCalculator(fees, invoices, fxResolver(s), cfg.Valuation.TargetCurrency)
		v := calc.Value(ctx, in)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "unit cost\t%.2f (%s, confidence %.2f)\n", v.UnitCost, v.CostSource, v.CostConfidence)
		_, _ = fmt.Fprintf(w, "size tier\t%s\n", v.SizeTier)
		_, _ = fmt.Fprintf(w, "base value\t%.2f\n", v.BaseValue)
		_, _ = fmt.Fprintf(w, "fee recovery\t%.2f\n", v.FeeRecovery)
		_, _ = fmt.Fprintf(w, "total\t%.2f %s\n", v.TotalValue, v.SourceCurrency)
		if v.SourceCurrency != v.TargetCurrency {
			_, _ = fmt.Fprintf(w, "converted\t%.2f %s (rate %.4f, %s)\n",
				v.ConvertedValue, v.TargetCurrency, v.ExchangeRate, v.ExchangeRateSource)
		}
		_, _ = fmt.Fprintf(w, "confidence\t%.2f\n", v.Confidence)
		_, _ = fmt.Fprintf(w, "method\t%s\n", strings.Join(v.Method, "; "))
		return w.Flush()
	},
}

func init() {
	valuateCmd.Flags().StringVar(&valuateFlags.sellerID, "seller", "", "seller id")
	valuateCmd.Flags().StringVar(&valuateFlags.claimID, "claim", "", "claim id this valuation supports")
	valuateCmd.Flags().StringVar(&valuateFlags.sku, "sku", "", "seller SKU")
	valuateCmd.Flags().StringVar(&valuateFlags.asin, "asin", "", "marketplace ASIN")
	valuateCmd.Flags().StringVar(&valuateFlags.category, "category", "", "product category for the referral rate")
	valuateCmd.Flags().IntVar(&valuateFlags.quantity, "quantity", 1, "units claimed")
	valuateCmd.Flags().Float64Var(&valuateFlags.feeUnit, "fee-charged", 0, "per-unit fulfillment fee actually charged")
	valuateCmd.Flags().Float64Var(&valuateFlags.salePrice, "price", 0, "per-unit sale price")
	valuateCmd.Flags().StringVar(&valuateFlags.currency, "currency", "USD", "currency of the event amounts")
	valuateCmd.Flags().StringVar(&valuateFlags.eventDate, "date", "", "event date YYYY-MM-DD (default today)")
	_ = valuateCmd.MarkFlagRequired("seller")
	_ = valuateCmd.MarkFlagRequired("sku")
	rootCmd.AddCommand(valuateCmd)
}
