package main

import (
	"fmt"

	"persona/backend/internal/repository"
	"persona/backend/pkg/config"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			db, err := config.NewDB(cfg, log)
			if err != nil {
				return err
			}
			if err := repository.Migrate(db); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			log.Info("Database migrated")
			return nil
		},
	})
}
