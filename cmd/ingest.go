package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/app"
	"github.com/ph-data-eng/newsingest/internal/config"
	"github.com/ph-data-eng/newsingest/internal/logging"
	"github.com/ph-data-eng/newsingest/internal/news"
)

type ingestFlags struct {
	startDate  string
	daysBack   int
	backend    string
	useCrawler bool
	showConfig bool
}

// newIngestCmd creates the 'ingest' subcommand, which runs one full
// ingestion pass against the configured storage backend.
func newIngestCmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Runs one ingestion pass over the configured sources",
		Long: `Fetches articles published since the start date from every configured
source and upserts them into the storage backend. The start date is
--start-date when given, otherwise today minus --days-back (or the
DAYS_BACK environment default).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.startDate, "start-date", "", "inclusive start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.daysBack, "days-back", 0, "lookback window in days, overrides DAYS_BACK")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "storage backend override (sqlite|duckdb|bigquery|postgres)")
	cmd.Flags().BoolVar(&flags.useCrawler, "use-crawler", false, "run the browser-based crawler instead of the API adapters")
	cmd.Flags().BoolVar(&flags.showConfig, "show-config", false, "print the resolved configuration and exit")

	return cmd
}

func runIngest(cmd *cobra.Command, flags ingestFlags) error {
	cfg, err := loadConfig(flags.backend)
	if err != nil {
		return err
	}

	if flags.showConfig {
		fmt.Fprint(cmd.OutOrStdout(), cfg.Describe())
		return nil
	}

	since, err := resolveStartDate(cfg, flags, time.Now())
	if err != nil {
		return err
	}

	summary, err := app.Run(cmd.Context(), cfg, app.RunOptions{
		Since:      since,
		UseCrawler: flags.useCrawler,
	})
	if err != nil {
		return fmt.Errorf("ingestion run: %w", err)
	}
	if summary.Interrupted {
		logging.L.Warn("run interrupted; buffered records were flushed before exit")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d records into %s in %s\n",
		summary.Emitted(), summary.Backend, summary.Duration.Round(time.Millisecond))
	return nil
}

// resolveStartDate picks the run's date boundary: an explicit
// --start-date wins, then --days-back, then the configured lookback.
func resolveStartDate(cfg config.Config, flags ingestFlags, now time.Time) (time.Time, error) {
	if flags.startDate != "" {
		t, err := time.Parse("2006-01-02", flags.startDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --start-date: %w", err)
		}
		return t, nil
	}
	days := cfg.Scrape.DaysBack
	if flags.daysBack > 0 {
		days = flags.daysBack
	}
	since := news.DateOf(now).AddDate(0, 0, -days)
	logging.L.Debug("resolved start date from lookback",
		zap.Int("days_back", days), zap.String("since", since.Format("2006-01-02")))
	return since, nil
}
