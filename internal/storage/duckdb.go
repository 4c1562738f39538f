package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2" // duckdb driver
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
)

// DuckDBBackend is the embedded analytical store. Column types favor
// scans (DATE/TIMESTAMP instead of text) and the upsert is an explicit
// ON CONFLICT update of every non-key column.
type DuckDBBackend struct {
	db        *sql.DB
	table     string
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewDuckDB opens (or creates) the database file and ensures the table
// exists.
func NewDuckDB(ctx context.Context, path, table string, logger *zap.Logger) (*DuckDBBackend, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("failed to close duckdb after ping error", zap.Error(cerr))
		}
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	b := &DuckDBBackend{db: db, table: table, logger: logger}
	if err := b.createTable(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("failed to close duckdb after setup error", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("connected to duckdb database", zap.String("path", path))
	return b, nil
}

func (b *DuckDBBackend) createTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR PRIMARY KEY,
			source VARCHAR,
			url VARCHAR,
			category VARCHAR,
			title VARCHAR,
			author VARCHAR,
			date DATE,
			publish_time TIMESTAMP,
			content VARCHAR,
			tags VARCHAR
		)`, b.table)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", b.table, err)
	}
	return nil
}

// upsertStmt builds the explicit insert-or-update statement; DuckDB has
// no INSERT OR REPLACE over a primary key.
func upsertStmt(table string) string {
	sets := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET %s`,
		table, strings.Join(columns, ", "), strings.Join(sets, ", "))
}

// InsertRecord upserts one record. Failures are logged and the record
// dropped.
func (b *DuckDBBackend) InsertRecord(ctx context.Context, rec news.Record) {
	if _, err := b.db.ExecContext(ctx, upsertStmt(b.table), recordArgs(rec)...); err != nil {
		metrics.InsertFailed("duckdb")
		b.logger.Error("duckdb insert failed",
			zap.String("id", rec.ID),
			zap.String("source", rec.Source),
			zap.Error(err))
	}
}

// FetchAll runs a read query and returns every row.
func (b *DuckDBBackend) FetchAll(ctx context.Context, query string) ([]Row, error) {
	res, err := b.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// RunQuery executes ad hoc SQL against the store.
func (b *DuckDBBackend) RunQuery(ctx context.Context, query string) (Result, error) {
	if !isSelect(query) {
		if _, err := b.db.ExecContext(ctx, query); err != nil {
			return Result{}, fmt.Errorf("exec duckdb query: %w", err)
		}
		return Result{}, nil
	}
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("run duckdb query: %w", err)
	}
	return scanRows(rows)
}

// ExportParquet copies the table (or the result of query, when given) to
// a parquet file.
func (b *DuckDBBackend) ExportParquet(ctx context.Context, outputPath, query string) error {
	if query == "" {
		query = fmt.Sprintf("SELECT * FROM %s", b.table)
	}
	stmt := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET)", query, escapeSingleQuotes(outputPath))
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("export parquet to %s: %w", outputPath, err)
	}
	b.logger.Info("exported parquet file", zap.String("path", outputPath))
	return nil
}

// QueryParquet runs a query directly against a parquet file without
// loading it. The query uses read_parquet as its table name; the
// placeholder is substituted with the actual file.
func (b *DuckDBBackend) QueryParquet(ctx context.Context, parquetPath, query string) (Result, error) {
	resolved := strings.ReplaceAll(query, "read_parquet",
		fmt.Sprintf("read_parquet('%s')", escapeSingleQuotes(parquetPath)))
	rows, err := b.db.QueryContext(ctx, resolved)
	if err != nil {
		return Result{}, fmt.Errorf("query parquet %s: %w", parquetPath, err)
	}
	return scanRows(rows)
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Close releases the connection. Idempotent.
func (b *DuckDBBackend) Close() error {
	b.closeOnce.Do(func() {
		if err := b.db.Close(); err != nil {
			b.closeErr = fmt.Errorf("close duckdb: %w", err)
			return
		}
		b.logger.Info("duckdb connection closed")
	})
	return b.closeErr
}
