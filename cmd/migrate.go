package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/eventstore"
)

var migrateEvents bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Applies the result-store schema, and with --events the event warehouse schema as well.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "migrate"))

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Migrate(ctx); err != nil {
			return err
		}
		log.Info("result store migrated", zap.String("driver", cfg.Store.Driver))

		if migrateEvents {
			pool, err := eventsPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := eventstore.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info("event warehouse migrated")
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateEvents, "events", false, "also migrate the event warehouse")
	rootCmd.AddCommand(migrateCmd)
}
