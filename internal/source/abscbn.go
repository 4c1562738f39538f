package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ph-data-eng/newsingest/internal/config"
	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
	"github.com/ph-data-eng/newsingest/internal/normalize"
)

const (
	abscbnAPIBase   = "https://od2-content-api.abs-cbn.com"
	abscbnSiteBase  = "https://www.abs-cbn.com/"
	abscbnPageLimit = 1000
)

var abscbnNormalizeOpts = normalize.Options{
	UnwantedTags: []string{"img", "figure", "iframe"},
}

// ABSCBN ingests from the ABS-CBN content API: an offset-paged listing
// endpoint plus one detail request per article for the body HTML.
type ABSCBN struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	userAgent string
	apiBase   string
	siteBase  string
	pageLimit int
}

func NewABSCBN(cfg config.ScrapeConfig, logger *zap.Logger) *ABSCBN {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &ABSCBN{
		client:    newHTTPClient(cfg.HTTPTimeoutS),
		limiter:   newPager(cfg.PageDelayMs),
		logger:    logger,
		userAgent: ua,
		apiBase:   abscbnAPIBase,
		siteBase:  abscbnSiteBase,
		pageLimit: abscbnPageLimit,
	}
}

func (a *ABSCBN) Name() string { return "abs-cbn" }

type abscbnListing struct {
	ListItem []abscbnItem `json:"listItem"`
}

type abscbnItem struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	Tags        string `json:"tags"`
	Created     string `json:"createdDateFull"`
	SluglineURL string `json:"slugline_url"`
}

type abscbnDetail struct {
	Data struct {
		BodyHTML string `json:"body_html"`
	} `json:"data"`
}

// Fetch pages through the listing with a growing offset until a page is
// empty or contains an item older than since. Qualifying items on each
// page have their detail bodies fetched concurrently; the next page is
// requested only after the whole batch lands.
func (a *ABSCBN) Fetch(ctx context.Context, since time.Time, sink Sink) (Stats, error) {
	var (
		stats Stats
		mu    sync.Mutex
	)

	offset := 0
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		listURL := fmt.Sprintf("%s/prod/latest?sectionId=news&brand=OD&partner=imp-01&limit=%d&offset=%d",
			a.apiBase, a.pageLimit, offset)
		var listing abscbnListing
		if err := getJSON(ctx, a.client, listURL, a.userAgent, &listing); err != nil {
			a.logger.Error("page fetch failed, ending run",
				zap.String("source", a.Name()), zap.Int("offset", offset), zap.Error(err))
			return stats, fmt.Errorf("fetch listing at offset %d: %w", offset, err)
		}
		stats.Pages++
		metrics.PageFetched(a.Name())
		a.logger.Info("fetched listing page",
			zap.String("source", a.Name()), zap.Int("offset", offset),
			zap.Int("items", len(listing.ListItem)))

		if len(listing.ListItem) == 0 {
			a.logger.Info("no more articles", zap.String("source", a.Name()))
			break
		}

		type pending struct {
			item    abscbnItem
			created time.Time
		}
		var (
			qualifying []pending
			reachedEnd bool
		)
		for _, item := range listing.ListItem {
			created, err := news.ParsePublishTime(item.Created)
			if err != nil {
				a.logger.Warn("skipping item with unparseable date",
					zap.String("source", a.Name()), zap.String("id", item.ID), zap.Error(err))
				stats.Skipped++
				metrics.RecordSkipped(a.Name(), "bad_date")
				continue
			}
			if created.Before(since) {
				reachedEnd = true
				break
			}
			if item.SluglineURL == "" {
				a.logger.Warn("skipping item without slugline",
					zap.String("source", a.Name()), zap.String("id", item.ID))
				stats.Skipped++
				metrics.RecordSkipped(a.Name(), "no_slug")
				continue
			}
			qualifying = append(qualifying, pending{item: item, created: created})
		}

		fanOut(ctx, len(qualifying), func(ctx context.Context, i int) {
			p := qualifying[i]
			rec, err := a.detail(ctx, p.item, p.created)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Warn("skipping article",
					zap.String("source", a.Name()), zap.String("id", p.item.ID), zap.Error(err))
				stats.Skipped++
				metrics.RecordSkipped(a.Name(), "detail_failed")
				return
			}
			sink.InsertRecord(ctx, rec)
			stats.Emitted++
			metrics.RecordEmitted(a.Name())
		})

		if reachedEnd {
			a.logger.Info("reached articles older than start date",
				zap.String("source", a.Name()))
			break
		}
		offset += a.pageLimit
	}

	return stats, nil
}

func (a *ABSCBN) detail(ctx context.Context, item abscbnItem, created time.Time) (news.Record, error) {
	detailURL := a.apiBase + "/prod/item?url=" + item.SluglineURL
	var detail abscbnDetail
	if err := getJSON(ctx, a.client, detailURL, a.userAgent, &detail); err != nil {
		return news.Record{}, fmt.Errorf("fetch detail: %w", err)
	}

	body := detail.Data.BodyHTML
	if body == "" {
		body = normalize.SentinelNoContent
	}

	return news.Record{
		ID:             item.ID,
		Source:         a.Name(),
		URL:            a.siteBase + item.SluglineURL,
		Category:       strings.ToUpper(item.Category),
		Title:          item.Title,
		Author:         item.Author,
		Date:           news.DateOf(created),
		PublishTime:    created,
		Tags:           item.Tags,
		RawContent:     body,
		CleanedContent: normalize.Normalize(body, abscbnNormalizeOpts),
	}, nil
}
