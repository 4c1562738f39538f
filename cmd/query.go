package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/logging"
	"github.com/ph-data-eng/newsingest/internal/storage"
)

// newQueryCmd creates the 'query' subcommand, a thin shell around the
// backend's ad hoc SQL escape hatch.
func newQueryCmd() *cobra.Command {
	var backendFlag string

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Runs a SQL statement against the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, backendFlag, args[0])
		},
	}
	cmd.Flags().StringVar(&backendFlag, "backend", "", "storage backend override (sqlite|duckdb|bigquery|postgres)")
	return cmd
}

func runQuery(cmd *cobra.Command, backendOverride, query string) error {
	cfg, err := loadConfig(backendOverride)
	if err != nil {
		return err
	}

	backend, err := storage.New(cmd.Context(), cfg.Storage, logging.L)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logging.L.Warn("failed to close storage backend", zap.Error(cerr))
		}
	}()

	res, err := backend.RunQuery(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(w io.Writer, res storage.Result) {
	if len(res.Columns) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		fields := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			fields[i] = fmt.Sprint(row[col])
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}
