package news

import (
	"fmt"
	"net/url"
	"strings"
)

// URLMeta is the decomposition of an Inquirer article URL. Article pages
// live on per-section subdomains with paths of the form
// /<article-id>/<slug>.
type URLMeta struct {
	Subdomain string
	Origin    string
	ArticleID string
	Slug      string
}

// ParseArticleURL splits an article URL into its subdomain, origin and
// path components.
func ParseArticleURL(raw string) (URLMeta, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URLMeta{}, fmt.Errorf("parse article url: %w", err)
	}
	hostParts := strings.Split(u.Hostname(), ".")
	meta := URLMeta{Subdomain: hostParts[0]}
	if len(hostParts) > 1 {
		meta.Origin = hostParts[1]
	}

	pathParts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(pathParts) > 0 {
		meta.ArticleID = pathParts[0]
	}
	if len(pathParts) > 1 {
		meta.Slug = pathParts[1]
	}
	return meta, nil
}

// CompositeID forms the stable article identifier used as the upsert key
// for crawled articles.
func (m URLMeta) CompositeID() string {
	return m.Subdomain + ":" + m.ArticleID + ":" + m.Slug
}
