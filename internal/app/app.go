// Package app wires configuration, adapters and storage into one
// ingestion run.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/config"
	"github.com/ph-data-eng/newsingest/internal/fetch/headless"
	"github.com/ph-data-eng/newsingest/internal/logging"
	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/retry"
	"github.com/ph-data-eng/newsingest/internal/source"
	"github.com/ph-data-eng/newsingest/internal/storage"
)

// RunOptions selects what one ingestion run covers.
type RunOptions struct {
	// Since is the inclusive date boundary: items published before it
	// are not ingested.
	Since time.Time
	// UseCrawler runs the browser-based adapter instead of the API
	// adapters.
	UseCrawler bool
}

// Summary reports one finished run.
type Summary struct {
	RunID       string
	Backend     string
	PerSource   map[string]source.Stats
	Interrupted bool
	Duration    time.Duration
}

// Emitted returns the total record count across sources.
func (s Summary) Emitted() int {
	total := 0
	for _, stats := range s.PerSource {
		total += stats.Emitted
	}
	return total
}

// Run executes one ingestion run: construct exactly one storage backend,
// run each adapter to completion in sequence, and close the backend
// exactly once on every path. SIGINT/SIGTERM stop new requests and force
// the close-and-flush; an interrupted run still counts as clean.
func Run(ctx context.Context, cfg config.Config, opts RunOptions) (Summary, error) {
	metrics.Init()

	summary := Summary{
		RunID:     uuid.NewString(),
		Backend:   cfg.Storage.Kind,
		PerSource: make(map[string]source.Stats),
	}
	log := logging.L.With(zap.String("run_id", summary.RunID))
	started := time.Now()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		return summary, fmt.Errorf("construct storage backend: %w", err)
	}

	var (
		closeOnce sync.Once
		closeErr  error
	)
	closeBackend := func() {
		closeOnce.Do(func() {
			log.Info("closing storage backend", zap.String("backend", summary.Backend))
			closeErr = backend.Close()
			if closeErr != nil {
				log.Error("failed to close storage backend", zap.Error(closeErr))
			}
		})
	}
	defer closeBackend()

	adapters, cleanup := buildAdapters(cfg, opts, log)
	defer cleanup()

	log.Info("starting ingestion run",
		zap.String("backend", summary.Backend),
		zap.String("since", opts.Since.Format("2006-01-02")),
		zap.Int("adapters", len(adapters)))

	runAdapters(ctx, log, adapters, backend, opts.Since, &summary)

	// Flush synchronously before reporting, so an interrupt never loses
	// buffered records.
	closeBackend()
	summary.Duration = time.Since(started)

	log.Info("ingestion run complete",
		zap.Int("emitted", summary.Emitted()),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", summary.Duration))
	return summary, closeErr
}

// runAdapters runs each adapter to completion in sequence. An adapter's
// page-level failure ends that adapter only; a canceled context stops
// the whole run and marks it interrupted.
func runAdapters(ctx context.Context, log *zap.Logger, adapters []source.Adapter, backend storage.Backend, since time.Time, summary *Summary) {
	for _, adapter := range adapters {
		if ctx.Err() != nil {
			summary.Interrupted = true
			return
		}
		stats, err := adapter.Fetch(ctx, since, backend)
		summary.PerSource[adapter.Name()] = stats
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("interrupted, stopping new requests",
					zap.String("source", adapter.Name()))
				summary.Interrupted = true
				return
			}
			log.Error("adapter run failed",
				zap.String("source", adapter.Name()), zap.Error(err))
		}
		log.Info("adapter finished",
			zap.String("source", adapter.Name()),
			zap.Int("pages", stats.Pages),
			zap.Int("emitted", stats.Emitted),
			zap.Int("skipped", stats.Skipped))
	}
}

// buildAdapters assembles the adapter list for the run. The returned
// cleanup releases the browser session when one was started.
func buildAdapters(cfg config.Config, opts RunOptions, log *zap.Logger) ([]source.Adapter, func()) {
	if !opts.UseCrawler {
		return []source.Adapter{
			source.NewBulletin(cfg.Scrape, log),
			source.NewABSCBN(cfg.Scrape, log),
		}, func() {}
	}

	fetcher := headless.New(headless.Config{UserAgent: cfg.Scrape.UserAgent}, retry.Default(), log)
	return []source.Adapter{
		source.NewInquirer(cfg.Scrape, fetcher, log),
	}, fetcher.Close
}
