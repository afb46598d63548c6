package main

import (
	"fmt"
	"strconv"

	"persona/backend/internal/ledger"
	"persona/backend/internal/repository"
	"persona/backend/pkg/config"

	"github.com/spf13/cobra"
)

func init() {
	var reason string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Credit tokens to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}

			cfg, log, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			db, err := config.NewDB(cfg, log)
			if err != nil {
				return err
			}

			l := ledger.New(repository.NewGormTokenRepository(db), log)
			balance, err := l.Grant(cmd.Context(), args[0], amount, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now holds %d tokens\n", args[0], balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual grant", "reason recorded in the logs")
	rootCmd.AddCommand(cmd)
}
