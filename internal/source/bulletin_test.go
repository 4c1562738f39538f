package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func bulletinArticleJSON(id int, slug, publishedAt, createdAt string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"attributes": {
			"title": "Headline %d",
			"slug": %q,
			"body": "<p>Body text.</p>",
			"publishedAt": %q,
			"createdAt": %q,
			"category_primary": {"data": {"attributes": {"name": "News", "slug": "news"}}},
			"author": {"data": {"attributes": {"name": "Juan Cruz", "slug": "juan-cruz"}}},
			"tags": {"data": [
				{"attributes": {"name": "Senate", "slug": "senate"}},
				{"attributes": {"name": "Budget", "slug": "budget"}}
			]}
		}
	}`, id, id, slug, publishedAt, createdAt)
}

func TestBulletinPaginationStopsAtDateBoundary(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/articles", r.URL.Path)
		page := r.URL.Query().Get("pagination[page]")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			fmt.Fprintf(w, `{"data": [%s, %s, %s]}`,
				bulletinArticleJSON(101, "first", "2026-04-14T10:00:00.000Z", "2026-04-14T08:00:00.000Z"),
				bulletinArticleJSON(102, "second", "2026-04-13T10:00:00.000Z", "2026-04-13T08:00:00.000Z"),
				bulletinArticleJSON(103, "third", "2026-04-12T10:00:00.000Z", "2026-04-12T08:00:00.000Z"))
		case "2":
			fmt.Fprintf(w, `{"data": [%s, %s]}`,
				bulletinArticleJSON(104, "fourth", "2026-04-11T10:00:00.000Z", "2026-04-11T08:00:00.000Z"),
				bulletinArticleJSON(105, "fifth", "2026-04-09T10:00:00.000Z", "2026-04-09T08:00:00.000Z"))
		default:
			t.Errorf("unexpected page %s", page)
			fmt.Fprint(w, `{"data": []}`)
		}
	}))
	defer srv.Close()

	adapter := NewBulletin(testScrapeConfig(), zap.NewNop())
	adapter.apiBase = srv.URL
	sink := &memSink{}

	since := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	stats, err := adapter.Fetch(context.Background(), since, sink)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 4, stats.Emitted)

	recs := sink.records()
	require.Len(t, recs, 4)
	for _, rec := range recs {
		assert.False(t, rec.PublishTime.Before(since))
		require.NoError(t, rec.Validate())
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, pages, "the page after the boundary must never be requested")
}

func TestBulletinRecordShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pagination[page]") != "1" {
			fmt.Fprint(w, `{"data": []}`)
			return
		}
		fmt.Fprintf(w, `{"data": [%s]}`,
			bulletinArticleJSON(201, "budget-hearing-resumes", "2026-04-14T10:00:00.000Z", "2026-04-13T23:30:00.000Z"))
	}))
	defer srv.Close()

	adapter := NewBulletin(testScrapeConfig(), zap.NewNop())
	adapter.apiBase = srv.URL
	sink := &memSink{}

	_, err := adapter.Fetch(context.Background(), time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)

	rec, ok := sink.byID("201")
	require.True(t, ok)
	assert.Equal(t, "manila bulletin", rec.Source)
	assert.Equal(t, "NEWS", rec.Category)
	assert.Equal(t, "Juan Cruz", rec.Author)
	assert.Equal(t, "senate,budget", rec.Tags)
	// The URL path uses the create date, not the publish date.
	assert.Equal(t, "https://mb.com.ph/2026/04/13/budget-hearing-resumes", rec.URL)
	assert.Contains(t, rec.CleanedContent, "Body text.")
}

func TestBulletinMissingRelationsAreTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pagination[page]") != "1" {
			fmt.Fprint(w, `{"data": []}`)
			return
		}
		fmt.Fprint(w, `{"data": [{
			"id": 301,
			"attributes": {
				"title": "Bare article",
				"slug": "bare-article",
				"body": "",
				"publishedAt": "2026-04-14T10:00:00.000Z",
				"createdAt": "2026-04-14T08:00:00.000Z",
				"category_primary": {"data": null},
				"author": {"data": null},
				"tags": {"data": []}
			}
		}]}`)
	}))
	defer srv.Close()

	adapter := NewBulletin(testScrapeConfig(), zap.NewNop())
	adapter.apiBase = srv.URL
	sink := &memSink{}

	stats, err := adapter.Fetch(context.Background(), time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emitted)

	rec, ok := sink.byID("301")
	require.True(t, ok)
	assert.Empty(t, rec.Author)
	assert.Empty(t, rec.Category)
	assert.Equal(t, "No content found", rec.CleanedContent, "empty body keeps the sentinel")
}

func TestBulletinUnparseableDateIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pagination[page]") {
		case "1":
			fmt.Fprintf(w, `{"data": [
				{"id": 401, "attributes": {"title": "Bad date", "slug": "bad", "body": "x", "publishedAt": "not-a-date", "createdAt": "2026-04-14T08:00:00.000Z"}},
				%s
			]}`, bulletinArticleJSON(402, "good", "2026-04-14T10:00:00.000Z", "2026-04-14T08:00:00.000Z"))
		default:
			fmt.Fprint(w, `{"data": []}`)
		}
	}))
	defer srv.Close()

	adapter := NewBulletin(testScrapeConfig(), zap.NewNop())
	adapter.apiBase = srv.URL
	sink := &memSink{}

	stats, err := adapter.Fetch(context.Background(), time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Emitted)
}
