// Package cmd defines and implements the CLI commands for the
// newsingest executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/config"
	"github.com/ph-data-eng/newsingest/internal/logging"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsingest",
		Short: "Ingests Philippine news articles into a pluggable store.",
		Long: `newsingest pulls articles from the ABS-CBN content API, the Manila
Bulletin API and the Inquirer article index, normalizes each article
body into markdown, and upserts the records into the configured
storage backend (SQLite, DuckDB, BigQuery or Postgres).`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(config.InitViper)

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// loadConfig resolves the process configuration, applying the --backend
// override before validation.
func loadConfig(backendOverride string) (config.Config, error) {
	if backendOverride != "" {
		viper.Set("storage.backend", backendOverride)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Development {
		logging.InitLogger(true)
	}
	return cfg, nil
}

// Execute is the main entry point. Exit code 0 covers full success and
// clean interrupts; anything surfacing an error exits 1.
func Execute() {
	logging.InitLogger(false)
	defer logging.Sync()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
