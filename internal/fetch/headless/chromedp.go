// Package headless fetches pages through a driven Chrome session for the
// publisher that sits behind a browser challenge. Challenge solving is
// stateful, so pages are fetched one at a time.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/retry"
)

// Config controls the browser session.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements fetch.PageFetcher using chromedp. A single-slot
// limiter serializes fetches; running many challenge attempts in
// parallel gets the whole session blocked.
type Fetcher struct {
	cfg         Config
	policy      retry.Policy
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		policy:      policy,
		limiter:     make(chan struct{}, 1),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// Close cancels the allocator context, ending the browser session.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// FetchPage navigates to the URL and returns the rendered document,
// retrying per the configured policy before giving up on the page.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (string, error) {
	select {
	case f.limiter <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
	defer func() { <-f.limiter }()

	var html string
	err := f.policy.Do(ctx, func() error {
		rendered, err := f.navigate(ctx, url)
		if err != nil {
			f.logger.Warn("headless fetch attempt failed",
				zap.String("url", url), zap.Error(err))
			return err
		}
		html = rendered
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("headless fetch %s: %w", url, err)
	}
	return html, nil
}

func (f *Fetcher) navigate(ctx context.Context, url string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Bail out early if the caller's context ends mid-navigation.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}
