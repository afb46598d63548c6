package main

import (
	"context"
	"fmt"
	"os"

	"persona/backend/pkg/config"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/secrets"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Persona backend",
	Long: `Persona backend serves personas with immutable versions, branching
chats with AI replies and the token ledger that meters them.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration, resolves secrets and installs the global logger
func bootstrap(ctx context.Context) (*config.Config, *logger.Logger, *secrets.VaultManager, error) {
	cfg := config.Read()

	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format != "text",
	})
	logger.SetGlobal(log)

	vault, err := secrets.NewVaultManager(secrets.VaultConfigFromEnv(), log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize secrets: %w", err)
	}
	if err := cfg.ResolveSecrets(ctx, vault); err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, vault, nil
}
