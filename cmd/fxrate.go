package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recoup-labs/recovery-cli/internal/fx"
)

var fxrateFlags struct {
	from string
	to   string
	date string
}

var fxrateCmd = &cobra.Command{
	Use:   "fxrate",
	Short: "Resolve an exchange rate with provenance",
	Long:  "Walks the rate fallback chain (cache, live provider, static table, identity) and prints which tier answered.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		date := time.Now().UTC()
		if fxrateFlags.date != "" {
			date, err = time.Parse("2006-01-02", fxrateFlags.date)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", fxrateFlags.date, err)
			}
		}

		rate := fxResolver(s).Resolve(ctx, fxrateFlags.from, fxrateFlags.to, date)
		fmt.Printf("%s -> %s on %s: %.6f (%s)\n",
			rate.From, rate.To, rate.Date.Format("2006-01-02"), rate.Value, rate.Source)
		if rate.Source == fx.SourceDefault {
			fmt.Println("warning: no rate found; identity fallback used")
		}
		return nil
	},
}

func init() {
	fxrateCmd.Flags().StringVar(&fxrateFlags.from, "from", "", "source currency code")
	fxrateCmd.Flags().StringVar(&fxrateFlags.to, "to", "USD", "target currency code")
	fxrateCmd.Flags().StringVar(&fxrateFlags.date, "date", "", "rate date YYYY-MM-DD (default today)")
	_ = fxrateCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(fxrateCmd)
}
