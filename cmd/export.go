package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/logging"
	"github.com/ph-data-eng/newsingest/internal/storage"
)

// newExportCmd creates the 'export' subcommand, which dumps the DuckDB
// store (or a filtered subset of it) to a parquet file.
func newExportCmd() *cobra.Command {
	var (
		output string
		query  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports the DuckDB store to a parquet file",
		Long: `Writes the articles table, or the result of --query when given, to a
parquet file. Only the DuckDB backend supports export.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, output, query)
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "destination parquet file path")
	cmd.Flags().StringVar(&query, "query", "", "optional SELECT to export instead of the whole table")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(cmd *cobra.Command, output, query string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	table := cfg.Storage.TableName
	backend, err := storage.NewDuckDB(cmd.Context(), cfg.Storage.DuckDBPath, table, logging.L)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logging.L.Warn("failed to close storage backend", zap.Error(cerr))
		}
	}()

	if err := backend.ExportParquet(cmd.Context(), output, query); err != nil {
		return fmt.Errorf("export parquet: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
	return nil
}
