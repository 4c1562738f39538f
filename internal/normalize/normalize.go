// Package normalize converts raw article HTML into cleaned markdown.
// Unwanted subtrees are stripped with goquery before the remainder is
// converted, so deletion is always subtree-wide.
package normalize

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// Options lists the element ids, classes and tag names whose subtrees
// are removed before conversion.
type Options struct {
	UnwantedIDs     []string
	UnwantedClasses []string
	UnwantedTags    []string
}

// Placeholder bodies emitted upstream when a publisher returns no
// content. They pass through Normalize unchanged.
const (
	SentinelNoContent = "No content found"
	SentinelNoExtract = "Cannot extract article content"
)

var sentinels = map[string]struct{}{
	SentinelNoContent: {},
	SentinelNoExtract: {},
}

var (
	multiBlank = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize cleans an HTML fragment into flat markdown text. Malformed
// markup is tolerated; the transform is pure.
func Normalize(html string, opts Options) string {
	trimmed := strings.TrimSpace(html)
	if trimmed == "" {
		return html
	}
	if _, ok := sentinels[trimmed]; ok {
		return trimmed
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// net/html recovers from almost anything; a reader error here
		// means there is nothing worth converting.
		return collapseWhitespace(trimmed)
	}

	for _, id := range opts.UnwantedIDs {
		doc.Find("#" + id).Remove()
	}
	for _, class := range opts.UnwantedClasses {
		doc.Find("." + class).Remove()
	}
	for _, tag := range opts.UnwantedTags {
		doc.Find(tag).Remove()
	}

	// Images never survive normalization, and neither do link targets or
	// emphasis markers: unwrapping keeps the visible text only.
	doc.Find("img, picture, figure").Remove()
	doc.Find("a, em, strong, i, b").Contents().Unwrap()
	doc.Find("a, em, strong, i, b").Remove()

	cleaned, err := doc.Find("body").Html()
	if err != nil || cleaned == "" {
		return collapseWhitespace(doc.Text())
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		// Degrade to plain text extraction of the already-cleaned tree.
		return collapseWhitespace(doc.Text())
	}
	return collapseWhitespace(markdown)
}

func collapseWhitespace(s string) string {
	s = spaceRuns.ReplaceAllString(s, " ")
	s = multiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
