package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/listing-monitor/internal/adapter/postgres"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Long:  "Creates the scan, snapshot and change log tables and their indexes. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Store != "postgres" {
				return errors.New("migrate requires store=postgres")
			}
			db, err := postgres.Connect(cmd.Context(), cfg.Postgres.URL, cfg.Postgres.MaxConns)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema is up to date")
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
