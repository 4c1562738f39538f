package source

import (
	"context"
	"errors"
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

type fakePageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakePageFetcher) FetchPage(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	html, ok := f.pages[url]
	if !ok {
		return "", errors.New("page not available")
	}
	return html, nil
}

func (f *fakePageFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

const inquirerIndexHTML = `<html><body>
<h4>News</h4>
<ul>
	<li><a href="https://newsinfo.inquirer.net/123456/senate-passes-budget">Senate passes budget</a></li>
	<li><a href="http://insecure.example.com/not-https">skip me</a></li>
</ul>
<h4>Cebu</h4>
<ul>
	<li><a href="https://cebudailynews.inquirer.net/654321/daily-gospel-april-14">gospel</a></li>
	<li><a href="https://cebudailynews.inquirer.net/654322/storm-signal-raised">storm</a></li>
</ul>
</body></html>`

const inquirerDefaultArticleHTML = `<html><head>
<meta property="article:published_time" content="bogus value">
<meta property="article:published_time" content="2026-04-14T09:18:07Z">
</head><body>
<h1 class="entry-title">Senate passes budget</h1>
<div id="art_plat">From <a>Maria Santos</a></div>
<div id="FOR_target_content">
	<p>The chamber approved the measure.</p>
	<div id="billboard_article">SPONSORED</div>
	<p>Voting ended at noon.</p>
</div>
<div id="article_tags"><a href="https://newsinfo.inquirer.net/tag/senate">Senate</a><a href="https://newsinfo.inquirer.net/tag/budget">Budget</a></div>
</body></html>`

const inquirerCebuArticleHTML = `<html><head>
<meta property="article:published_time" content="2026-04-14T06:00:00Z">
</head><body>
<div id="landing-headline"><h1>Storm signal raised</h1></div>
<div class="art-byline"><a>Pedro Abad</a></div>
<div id="article-content"><p>Signal number two is up.</p></div>
</body></html>`

func newTestInquirer(t *testing.T, indexHTML string, fetcher *fakePageFetcher) (*Inquirer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/article-index/", r.URL.Path)
		fmt.Fprint(w, indexHTML)
	}))
	t.Cleanup(srv.Close)

	adapter := NewInquirer(testScrapeConfig(), fetcher, zap.NewNop())
	adapter.indexBase = srv.URL
	adapter.now = func() time.Time { return time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC) }
	return adapter, srv
}

func TestInquirerCrawlsIndexAndEmitsRecords(t *testing.T) {
	fetcher := &fakePageFetcher{pages: map[string]string{
		"https://newsinfo.inquirer.net/123456/senate-passes-budget":     inquirerDefaultArticleHTML,
		"https://cebudailynews.inquirer.net/654322/storm-signal-raised": inquirerCebuArticleHTML,
	}}
	adapter, _ := newTestInquirer(t, inquirerIndexHTML, fetcher)
	sink := &memSink{}

	since := time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)
	stats, err := adapter.Fetch(context.Background(), since, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 2, stats.Emitted)
	assert.Equal(t, 0, stats.Skipped)

	rec, ok := sink.byID("newsinfo:123456:senate-passes-budget")
	require.True(t, ok)
	assert.Equal(t, "inquirer", rec.Source)
	assert.Equal(t, "News", rec.Category)
	assert.Equal(t, "Senate passes budget", rec.Title)
	assert.Equal(t, "Maria Santos", rec.Author)
	assert.Equal(t, time.Date(2026, 4, 14, 9, 18, 7, 0, time.UTC), rec.PublishTime)
	assert.Equal(t, "senate, budget", rec.Tags)
	assert.Contains(t, rec.CleanedContent, "The chamber approved the measure.")
	assert.NotContains(t, rec.CleanedContent, "SPONSORED", "ad slots are stripped")
	require.NoError(t, rec.Validate())

	cebu, ok := sink.byID("cebudailynews:654322:storm-signal-raised")
	require.True(t, ok)
	assert.Equal(t, "Storm signal raised", cebu.Title)
	assert.Equal(t, "Pedro Abad", cebu.Author)
	assert.Equal(t, "Cebu", cebu.Category)
	assert.Contains(t, cebu.CleanedContent, "Signal number two is up.")
}

func TestInquirerFiltersIndexLinks(t *testing.T) {
	fetcher := &fakePageFetcher{pages: map[string]string{
		"https://newsinfo.inquirer.net/123456/senate-passes-budget":     inquirerDefaultArticleHTML,
		"https://cebudailynews.inquirer.net/654322/storm-signal-raised": inquirerCebuArticleHTML,
	}}
	adapter, _ := newTestInquirer(t, inquirerIndexHTML, fetcher)
	sink := &memSink{}

	_, err := adapter.Fetch(context.Background(),
		time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)

	fetched := fetcher.fetched()
	assert.NotContains(t, fetched, "http://insecure.example.com/not-https",
		"non-https links are never fetched")
	for _, url := range fetched {
		assert.NotContains(t, url, "daily-gospel", "the gospel reading is excluded")
	}
}

func TestInquirerFailedArticleIsSkipped(t *testing.T) {
	// Only the Cebu article renders, the other one errors out.
	fetcher := &fakePageFetcher{pages: map[string]string{
		"https://cebudailynews.inquirer.net/654322/storm-signal-raised": inquirerCebuArticleHTML,
	}}
	adapter, _ := newTestInquirer(t, inquirerIndexHTML, fetcher)
	sink := &memSink{}

	stats, err := adapter.Fetch(context.Background(),
		time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emitted)
	assert.Equal(t, 1, stats.Skipped)
}

func TestInquirerMissingContentKeepsSentinel(t *testing.T) {
	bare := `<html><body><h1 class="entry-title">Bare</h1></body></html>`
	index := `<html><body><h4>News</h4><ul>
		<li><a href="https://newsinfo.inquirer.net/777/bare-article">bare</a></li>
	</ul></body></html>`
	fetcher := &fakePageFetcher{pages: map[string]string{
		"https://newsinfo.inquirer.net/777/bare-article": bare,
	}}
	adapter, _ := newTestInquirer(t, index, fetcher)
	sink := &memSink{}

	_, err := adapter.Fetch(context.Background(),
		time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)

	rec, ok := sink.byID("newsinfo:777:bare-article")
	require.True(t, ok)
	assert.Equal(t, "Cannot extract article content", rec.CleanedContent)
	// No publish time on the page: the index day stands in.
	assert.Equal(t, time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), rec.PublishTime)
}
