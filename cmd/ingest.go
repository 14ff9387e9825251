package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/eventstore"
)

var ingestFlags struct {
	file string
	kind string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a marketplace report export into the event warehouse",
	Long:  "Reads a JSON Lines report file (one record per line) and loads it into the warehouse table for the given kind. Keyed kinds are upserted, so re-running an overlapping export is safe.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(ingestFlags.file)
		if err != nil {
			return err
		}
		defer f.Close()

		pool, err := eventsPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		n, err := eventstore.NewIngestor(pool).Ingest(ctx, ingestFlags.kind, f)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("kind", ingestFlags.kind),
			zap.String("file", ingestFlags.file),
			zap.Int64("rows", n))
		fmt.Printf("loaded %d %s rows from %s\n", n, ingestFlags.kind, ingestFlags.file)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.file, "file", "", "path to the JSON Lines report export")
	ingestCmd.Flags().StringVar(&ingestFlags.kind, "kind", "", "report kind: "+strings.Join(eventstore.Kinds(), ", "))
	_ = ingestCmd.MarkFlagRequired("file")
	_ = ingestCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(ingestCmd)
}
