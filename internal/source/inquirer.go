package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ph-data-eng/newsingest/internal/config"
	"github.com/ph-data-eng/newsingest/internal/fetch"
	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
	"github.com/ph-data-eng/newsingest/internal/normalize"
)

const inquirerIndexBase = "https://www.inquirer.net"

// inquirerNormalizeOpts strips the ad slots, newsletter forms and
// scripts that ride along inside Inquirer article containers.
var inquirerNormalizeOpts = normalize.Options{
	UnwantedIDs: []string{
		"billboard_article",
		"article-new-featured",
		"taboola-mid-article-thumbnails",
		"taboola-mid-article-thumbnails-stream",
		"fb-root",
	},
	UnwantedClasses: []string{"ztoop", "sib-form", "cdn_newsletter"},
	UnwantedTags:    []string{"script", "style"},
}

// inquirerSelectors maps a subdomain to the CSS selectors for its page
// layout. Subdomains not listed fall back to defaultInquirerSelectors.
type selectorBundle struct {
	title   string
	author  string
	content string
	tags    string
}

var inquirerSelectors = map[string]selectorBundle{
	"lifestyle": {
		title:   "h1.elementor-heading-title",
		author:  "div.elementor-widget-post-info ul.elementor-post-info li span.elementor-post-info__terms-list a",
		content: "div.elementor-widget-theme-post-content",
		tags:    "div#article_tags a",
	},
	"pop": {
		title:   "div.single-post-banner-inner > h1",
		author:  "ul.blog-meta-list a[href*='/byline/']",
		content: "div#TO_target_content",
		tags:    "div.tags-box span.tags-links a",
	},
	"cebudailynews": {
		title:   "#landing-headline h1, #art-hgroup h1",
		author:  ".art-byline a",
		content: "div#article-content",
		tags:    "div#article_tags a",
	},
	"bandera": {
		title:   "#landing-headline h1",
		author:  "#m-pd2 span",
		content: "div#TO_target_content",
		tags:    "div#article_tags a",
	},
}

var defaultInquirerSelectors = selectorBundle{
	title:   "h1.entry-title",
	author:  "div#art_plat a, div#art_author",
	content: "div#FOR_target_content",
	tags:    "div#article_tags a",
}

// Inquirer ingests from the Inquirer daily article-index pages. The
// index for each day is crawled for section headers and article links;
// each article is then rendered through the page fetcher one at a time,
// since the Cloudflare challenge state must not be shared across
// parallel sessions.
type Inquirer struct {
	fetcher   fetch.PageFetcher
	limiter   *rate.Limiter
	logger    *zap.Logger
	userAgent string
	indexBase string
	now       func() time.Time
}

func NewInquirer(cfg config.ScrapeConfig, fetcher fetch.PageFetcher, logger *zap.Logger) *Inquirer {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Inquirer{
		fetcher:   fetcher,
		limiter:   newPager(cfg.PageDelayMs),
		logger:    logger,
		userAgent: ua,
		indexBase: inquirerIndexBase,
		now:       time.Now,
	}
}

func (q *Inquirer) Name() string { return "inquirer" }

type indexEntry struct {
	url      string
	category string
}

// Fetch walks every day from since through today. Each day's index page
// yields categorized article links; each link is rendered and parsed
// into a record. A failed index page ends the run, a failed article is
// skipped.
func (q *Inquirer) Fetch(ctx context.Context, since time.Time, sink Sink) (Stats, error) {
	var stats Stats

	today := news.DateOf(q.now())
	for day := news.DateOf(since); !day.After(today); day = day.AddDate(0, 0, 1) {
		if err := q.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		entries, err := q.collectIndex(day)
		if err != nil {
			q.logger.Error("index fetch failed, ending run",
				zap.String("source", q.Name()), zap.String("day", day.Format("2006-01-02")), zap.Error(err))
			return stats, fmt.Errorf("fetch index for %s: %w", day.Format("2006-01-02"), err)
		}
		stats.Pages++
		metrics.PageFetched(q.Name())
		q.logger.Info("collected article index",
			zap.String("source", q.Name()), zap.String("day", day.Format("2006-01-02")),
			zap.Int("links", len(entries)))

		for _, entry := range entries {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			rec, err := q.article(ctx, entry, day)
			if err != nil {
				q.logger.Warn("skipping article",
					zap.String("source", q.Name()), zap.String("url", entry.url), zap.Error(err))
				stats.Skipped++
				metrics.RecordSkipped(q.Name(), "article_failed")
				continue
			}
			sink.InsertRecord(ctx, rec)
			stats.Emitted++
			metrics.RecordEmitted(q.Name())
		}
	}

	return stats, nil
}

// collectIndex crawls one day's article-index page. Section h4 headers
// carry the category for the link list that follows them.
func (q *Inquirer) collectIndex(day time.Time) ([]indexEntry, error) {
	var (
		entries  []indexEntry
		crawlErr error
	)

	c := colly.NewCollector(colly.UserAgent(q.userAgent))
	c.OnHTML("h4", func(e *colly.HTMLElement) {
		category := strings.TrimSpace(e.Text)
		e.DOM.NextAllFiltered("ul").First().Find("li a").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || !strings.HasPrefix(href, "https://") {
				return
			}
			meta, err := news.ParseArticleURL(href)
			if err != nil {
				return
			}
			// The Cebu Daily News gospel reading is devotional boilerplate,
			// not news.
			if meta.Subdomain == "cebudailynews" && strings.Contains(meta.Slug, "daily-gospel") {
				return
			}
			entries = append(entries, indexEntry{url: href, category: category})
		})
	})
	c.OnError(func(_ *colly.Response, err error) {
		crawlErr = err
	})

	indexURL := fmt.Sprintf("%s/article-index/?d=%s", q.indexBase, day.Format("2006-01-02"))
	if err := c.Visit(indexURL); err != nil {
		return nil, err
	}
	c.Wait()
	if crawlErr != nil {
		return nil, crawlErr
	}
	return entries, nil
}

// article renders one article page and extracts the record. The fetcher
// retries transient failures internally before this gives up.
func (q *Inquirer) article(ctx context.Context, entry indexEntry, day time.Time) (news.Record, error) {
	meta, err := news.ParseArticleURL(entry.url)
	if err != nil {
		return news.Record{}, fmt.Errorf("parse article url: %w", err)
	}

	html, err := q.fetcher.FetchPage(ctx, entry.url)
	if err != nil {
		return news.Record{}, fmt.Errorf("render page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return news.Record{}, fmt.Errorf("parse page: %w", err)
	}

	sels, ok := inquirerSelectors[meta.Subdomain]
	if !ok {
		sels = defaultInquirerSelectors
	}

	title := strings.TrimSpace(doc.Find(sels.title).First().Text())
	if title == "" {
		title = "No title"
	}
	author := strings.TrimSpace(doc.Find(sels.author).First().Text())
	author = strings.TrimPrefix(author, "By:")
	author = strings.TrimSpace(author)

	content := normalize.SentinelNoExtract
	if sel := doc.Find(sels.content).First(); sel.Length() > 0 {
		if outer, err := goquery.OuterHtml(sel); err == nil {
			content = outer
		}
	}

	publishTime := q.publishTime(doc, day)

	return news.Record{
		ID:             meta.CompositeID(),
		Source:         meta.Origin,
		URL:            entry.url,
		Category:       entry.category,
		Title:          title,
		Author:         author,
		Date:           news.DateOf(publishTime),
		PublishTime:    publishTime,
		Tags:           extractTags(doc, sels.tags),
		RawContent:     content,
		CleanedContent: normalize.Normalize(content, inquirerNormalizeOpts),
	}, nil
}

// publishTime tries every article:published_time meta candidate and
// falls back to the index day when none parses.
func (q *Inquirer) publishTime(doc *goquery.Document, day time.Time) time.Time {
	publishTime := day
	doc.Find(`meta[property="article:published_time"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		content, ok := sel.Attr("content")
		if !ok {
			return true
		}
		ts, err := news.ParsePublishTime(content)
		if err != nil {
			return true
		}
		publishTime = ts
		return false
	})
	return publishTime
}

func extractTags(doc *goquery.Document, selector string) string {
	var tags []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if _, after, found := strings.Cut(href, "/tag/"); found {
			tags = append(tags, strings.Trim(after, "/"))
		}
	})
	return strings.Join(tags, ", ")
}
