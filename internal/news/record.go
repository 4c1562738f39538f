// Package news defines the article record shared across the pipeline.
package news

import (
	"fmt"
	"strings"
	"time"
)

// Record is the unit of work flowing from the source adapters into the
// storage backends. Constructed once per article, never mutated after
// construction. RawContent is carried for normalization only and is
// never persisted.
type Record struct {
	ID             string
	Source         string
	URL            string
	Category       string
	Title          string
	Author         string
	Date           time.Time
	PublishTime    time.Time
	Tags           string
	CleanedContent string
	RawContent     string
}

// publishTimeLayouts is the fixed ordered list of timestamp formats the
// publishers emit. The first successful parse wins.
var publishTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"Mon, 02 Jan 2006 15:04:05",
	"3:04 PM January 02, 2006",
	"2006-01-02",
}

// ParsePublishTime parses a source-reported publication instant into the
// canonical timestamp, trying each known layout in order.
func ParsePublishTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	// Some Inquirer meta tags carry a trailing zone abbreviation that
	// time.Parse cannot resolve; the instant itself is still usable.
	v = strings.TrimSpace(strings.TrimSuffix(v, "PST"))
	for _, layout := range publishTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable publish time %q", value)
}

// DateOf derives the calendar date from a publish timestamp.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Validate reports whether the record can be persisted.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if r.PublishTime.IsZero() {
		return fmt.Errorf("record %s: publish time is required", r.ID)
	}
	if !DateOf(r.PublishTime).Equal(r.Date) {
		return fmt.Errorf("record %s: date %s does not match publish time %s",
			r.ID, r.Date.Format("2006-01-02"), r.PublishTime.Format(time.RFC3339))
	}
	return nil
}
