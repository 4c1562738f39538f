package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
)

// pgPool is the slice of pgxpool.Pool the backend needs. pgxmock
// satisfies it too, which keeps the tests off a live server.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresBackend stores records in a Postgres table with an upsert on
// the primary key, for deployments that already run a shared server
// instead of an embedded file database.
type PostgresBackend struct {
	pool      pgPool
	table     string
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewPostgres connects a pool using the given DSN and ensures the table.
func NewPostgres(ctx context.Context, dsn, table string, logger *zap.Logger) (*PostgresBackend, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	b := newPostgresWithPool(pool, table, logger)
	if err := b.createTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to postgres", zap.String("table", table))
	return b, nil
}

func newPostgresWithPool(pool pgPool, table string, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, table: table, logger: logger}
}

func (b *PostgresBackend) createTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		source TEXT,
		url TEXT,
		category TEXT,
		title TEXT,
		author TEXT,
		date DATE,
		publish_time TIMESTAMPTZ,
		content TEXT,
		tags TEXT
	)`, b.table)
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", b.table, err)
	}
	return nil
}

func postgresUpsert(table string) string {
	assignments := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), strings.Join(assignments, ", "))
}

// InsertRecord upserts one record. Failures are logged and swallowed so
// a bad row never stops an ingestion run.
func (b *PostgresBackend) InsertRecord(ctx context.Context, rec news.Record) {
	if _, err := b.pool.Exec(ctx, postgresUpsert(b.table), recordArgs(rec)...); err != nil {
		metrics.InsertFailed("postgres")
		b.logger.Error("failed to insert record",
			zap.String("id", rec.ID), zap.String("source", rec.Source), zap.Error(err))
		return
	}
	b.logger.Debug("inserted record", zap.String("id", rec.ID))
}

// FetchAll runs a read query and returns every row.
func (b *PostgresBackend) FetchAll(ctx context.Context, query string) ([]Row, error) {
	res, err := b.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// RunQuery executes ad hoc SQL. SELECT statements return rows, anything
// else executes for side effects.
func (b *PostgresBackend) RunQuery(ctx context.Context, query string) (Result, error) {
	if !isSelect(query) {
		if _, err := b.pool.Exec(ctx, query); err != nil {
			return Result{}, fmt.Errorf("exec query: %w", err)
		}
		return Result{}, nil
	}
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()
	return scanPgxRows(rows)
}

func scanPgxRows(rows pgx.Rows) (Result, error) {
	var res Result
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, fmt.Errorf("read row: %w", err)
		}
		row := make(Row, len(res.Columns))
		for i, col := range res.Columns {
			if i < len(values) {
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

// Close releases the pool. Idempotent.
func (b *PostgresBackend) Close() error {
	b.closeOnce.Do(func() {
		b.pool.Close()
		b.logger.Info("postgres connection closed")
	})
	return nil
}
