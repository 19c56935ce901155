package main

import (
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := repository.Open(cmd.Context(), cfg.DB, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return repository.Migrate(cmd.Context(), db, logger)
		},
	}
}
