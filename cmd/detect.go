package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/detector"
	"github.com/recoup-labs/recovery-cli/internal/eventstore"
	"github.com/recoup-labs/recovery-cli/internal/model"
	"github.com/recoup-labs/recovery-cli/internal/resilience"
)

var detectFlags struct {
	sellerID string
	syncID   string
	lookback int
	currency string
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run all anomaly detectors for one seller",
	Long:  "Loads the seller's event window, runs the eight detectors in parallel, calibrates confidence against claim history, and persists the results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		syncID := detectFlags.syncID
		if syncID == "" {
			syncID = uuid.New().String()
		}
		log := zap.L().With(
			zap.String("command", "detect"),
			zap.String("seller_id", detectFlags.sellerID),
			zap.String("sync_id", syncID),
		)

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		pool, err := eventsPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		lookback := detectFlags.lookback
		if lookback <= 0 {
			lookback = cfg.Events.LookbackDays
		}
		currency := detectFlags.currency
		if currency == "" {
			currency = cfg.Detect.HomeCurrency
		}

		loader := eventstore.NewLoader(eventstore.NewPGReader(pool))
		in := loader.Load(ctx, detectFlags.sellerID, syncID, currency, lookback)

		registry := detector.DefaultRegistry(cfg.Detect.DefaultUnitValue)
		dlq := resilience.NewDeadLetterQueue()
		engine := detector.NewEngine(registry, calibrator(s), s).WithDLQ(dlq)

		results, err := engine.Run(ctx, in)
		if err != nil {
			return err
		}

		log.Info("detection complete", zap.Int("results", len(results)))
		formatResults(os.Stdout, results)

		if n := dlq.Len(); n > 0 {
			for _, e := range dlq.Entries(resilience.DLQFilter{}) {
				log.Warn("unpersisted batch",
					zap.String("entry_id", e.ID),
					zap.String("operation", e.Operation),
					zap.String("error_type", e.ErrorType),
					zap.Int("results", len(e.Results)))
			}
			fmt.Fprintf(os.Stderr, "warning: %d result batch(es) could not be persisted; rerun detect with the same --sync once storage recovers\n", n)
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectFlags.sellerID, "seller", "", "seller id to audit")
	detectCmd.Flags().StringVar(&detectFlags.syncID, "sync", "", "sync batch id (generated if unset)")
	detectCmd.Flags().IntVar(&detectFlags.lookback, "lookback", 0, "lookback window in days (config default if unset)")
	detectCmd.Flags().StringVar(&detectFlags.currency, "currency", "", "seller home currency (config default if unset)")
	_ = detectCmd.MarkFlagRequired("seller")
	rootCmd.AddCommand(detectCmd)
}

// formatResults writes a tabular summary of detection results to w.
func formatResults(out io.Writer, results []model.DetectionResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "no recoverable anomalies found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tSEVERITY\tVALUE\tCONFIDENCE\tINTERVAL\tDEADLINE\tREASON")
	_, _ = fmt.Fprintln(w, "----\t--------\t-----\t----------\t--------\t--------\t------")

	for _, r := range results {
		deadline := "-"
		if r.DeadlineDate != nil {
			deadline = fmt.Sprintf("%s (%dd)", r.DeadlineDate.Format("2006-01-02"), r.DaysRemaining)
		}
		reason := ""
		if len(r.Evidence.Reasons) > 0 {
			reason = truncate(r.Evidence.Reasons[0], 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f %s\t%.2f\t%s\t%s\t%s\n",
			r.AnomalyType, r.Severity, r.EstimatedValue, r.Currency,
			r.ConfidenceScore, r.ConfidenceInterval, deadline, reason)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
