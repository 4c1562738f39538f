// Package storage defines the pluggable article storage backends.
// One Backend instance is shared by every source adapter for a run;
// adapters treat it as append-only.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ph-data-eng/newsingest/internal/news"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the shape returned by RunQuery.
type Result struct {
	Columns []string
	Rows    []Row
}

// Backend is the common storage interface. InsertRecord deliberately
// returns nothing: a single bad record is logged and dropped inside the
// implementation so one malformed article cannot abort a whole run.
// Close flushes any buffered writes before returning and is safe to
// call more than once.
type Backend interface {
	InsertRecord(ctx context.Context, rec news.Record)
	FetchAll(ctx context.Context, query string) ([]Row, error)
	RunQuery(ctx context.Context, query string) (Result, error)
	Close() error
}

// allowedTables is the fixed allow-list for the embedded stores. An
// unrecognized table name is a configuration error, caught at
// construction.
var allowedTables = map[string]struct{}{
	"articles_raw": {},
}

func validateTable(name string) error {
	if _, ok := allowedTables[name]; !ok {
		return fmt.Errorf("unknown table name: %q", name)
	}
	return nil
}

// columns is the persisted 10-column schema shared by all backends.
var columns = []string{
	"id", "source", "url", "category", "title",
	"author", "date", "publish_time", "content", "tags",
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// recordArgs flattens a record into insert arguments in schema order.
// The author column is nullable; everything else persists as text.
func recordArgs(rec news.Record) []any {
	var author any
	if rec.Author != "" {
		author = rec.Author
	}
	return []any{
		rec.ID,
		rec.Source,
		rec.URL,
		rec.Category,
		rec.Title,
		author,
		rec.Date.Format(dateLayout),
		rec.PublishTime.Format(timestampLayout),
		rec.CleanedContent,
		rec.Tags,
	}
}

// isSelect reports whether the statement returns rows. Non-SELECT
// statements commit and return an empty result by contract.
func isSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

// scanRows drains a database/sql result set into the generic Result shape.
func scanRows(rows *sql.Rows) (Result, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}
	res := Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}
