// Package fetch defines the page-fetch collaborator used by the crawled
// publisher. Implementations return the rendered page content for a URL
// and handle their own retries.
package fetch

import "context"

// PageFetcher fetches the content of a single page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}
