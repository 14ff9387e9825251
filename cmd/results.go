package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/recoup-labs/recovery-cli/internal/model"
	"github.com/recoup-labs/recovery-cli/internal/store"
)

var resultsFlags struct {
	sellerID    string
	syncID      string
	anomalyType string
	status      string
	minValue    float64
	limit       int
	offset      int
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List persisted detection results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		filter := store.ResultFilter{
			SellerID:    resultsFlags.sellerID,
			SyncID:      resultsFlags.syncID,
			AnomalyType: model.AnomalyType(resultsFlags.anomalyType),
			Status:      model.DetectionStatus(resultsFlags.status),
			MinValue:    resultsFlags.minValue,
			Limit:       resultsFlags.limit,
			Offset:      resultsFlags.offset,
		}
		results, err := s.ListResults(ctx, filter)
		if err != nil {
			return err
		}
		formatResults(os.Stdout, results)
		return nil
	},
}

func init() {
	resultsCmd.Flags().StringVar(&resultsFlags.sellerID, "seller", "", "filter by seller id")
	resultsCmd.Flags().StringVar(&resultsFlags.syncID, "sync", "", "filter by sync batch id")
	resultsCmd.Flags().StringVar(&resultsFlags.anomalyType, "type", "", "filter by anomaly type")
	resultsCmd.Flags().StringVar(&resultsFlags.status, "status", "", "filter by status")
	resultsCmd.Flags().Float64Var(&resultsFlags.minValue, "min-value", 0, "minimum estimated value")
	resultsCmd.Flags().IntVar(&resultsFlags.limit, "limit", 50, "max rows")
	resultsCmd.Flags().IntVar(&resultsFlags.offset, "offset", 0, "rows to skip")
	rootCmd.AddCommand(resultsCmd)
}
