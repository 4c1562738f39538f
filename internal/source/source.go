// Package source implements one ingestion adapter per publisher. Every
// adapter walks the publisher's feed newest-first, filters items against
// the run's start date, fetches article details, normalizes the body and
// hands finished records to the storage sink.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ph-data-eng/newsingest/internal/news"
)

const defaultUserAgent = "Mozilla/5.0"

// Sink receives finished records. storage.Backend satisfies it; the
// narrow interface keeps adapters off the query surface.
type Sink interface {
	InsertRecord(ctx context.Context, rec news.Record)
}

// Stats counts one adapter run.
type Stats struct {
	Pages   int
	Emitted int
	Skipped int
}

// Adapter is the per-publisher ingestion protocol. Fetch walks the feed
// until it reaches items older than since, emitting records into sink as
// they finish. Page-level failures end the run with an error; item-level
// failures are logged, counted and skipped.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, since time.Time, sink Sink) (Stats, error)
}

// newPager builds the limiter that spaces page requests. Burst 1 so the
// first request goes through immediately and later ones wait the delay.
func newPager(delayMs int) *rate.Limiter {
	if delayMs <= 0 {
		delayMs = 500
	}
	return rate.NewLimiter(rate.Every(time.Duration(delayMs)*time.Millisecond), 1)
}

func newHTTPClient(timeoutS int) *http.Client {
	if timeoutS <= 0 {
		timeoutS = 30
	}
	return &http.Client{Timeout: time.Duration(timeoutS) * time.Second}
}

// getJSON fetches a URL and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, rawURL, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// fanOut runs fn for every index of one page's qualifying items
// concurrently and waits for the whole batch before returning. The next
// page is never requested while a batch is in flight, which caps the
// number of outstanding detail requests at one page's worth.
func fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
