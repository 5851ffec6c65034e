package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/99minutos/reservation-system/internal/infrastructure/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema and the Mongo indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			log := initLogger(cfg)

			b, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
