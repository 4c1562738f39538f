package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
)

// SQLiteBackend is the embedded transactional store. Every InsertRecord
// is an immediate INSERT OR REPLACE committed before the call returns.
type SQLiteBackend struct {
	db        *sqlx.DB
	table     string
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewSQLite opens (or creates) the database file and ensures the table
// exists. The table name must be on the allow-list.
func NewSQLite(ctx context.Context, path, table string, logger *zap.Logger) (*SQLiteBackend, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	b := &SQLiteBackend{db: db, table: table, logger: logger}
	if err := b.createTable(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("failed to close sqlite after setup error", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("connected to sqlite database", zap.String("path", path))
	return b, nil
}

func (b *SQLiteBackend) createTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT,
			url TEXT,
			category TEXT,
			title TEXT,
			author TEXT,
			date TEXT,
			publish_time TEXT,
			content TEXT,
			tags TEXT
		)`, b.table)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", b.table, err)
	}
	return nil
}

// InsertRecord upserts one record synchronously. Failures are logged and
// the record dropped.
func (b *SQLiteBackend) InsertRecord(ctx context.Context, rec news.Record) {
	stmt := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
			(id, source, url, category, title, author, date, publish_time, content, tags)
		VALUES (?,?,?,?,?,?,?,?,?,?)`, b.table)
	if _, err := b.db.ExecContext(ctx, stmt, recordArgs(rec)...); err != nil {
		metrics.InsertFailed("sqlite")
		b.logger.Error("sqlite insert failed",
			zap.String("id", rec.ID),
			zap.String("source", rec.Source),
			zap.Error(err))
	}
}

// FetchAll runs a read query and returns every row.
func (b *SQLiteBackend) FetchAll(ctx context.Context, query string) ([]Row, error) {
	res, err := b.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// RunQuery executes ad hoc SQL. SELECT statements return rows; anything
// else is executed and committed with an empty result.
func (b *SQLiteBackend) RunQuery(ctx context.Context, query string) (Result, error) {
	if !isSelect(query) {
		if _, err := b.db.ExecContext(ctx, query); err != nil {
			return Result{}, fmt.Errorf("exec sqlite query: %w", err)
		}
		return Result{}, nil
	}
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("run sqlite query: %w", err)
	}
	return scanRows(rows)
}

// Close releases the connection. Idempotent.
func (b *SQLiteBackend) Close() error {
	b.closeOnce.Do(func() {
		if err := b.db.Close(); err != nil {
			b.closeErr = fmt.Errorf("close sqlite: %w", err)
			return
		}
		b.logger.Info("sqlite connection closed")
	})
	return b.closeErr
}
