package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/config"
)

// New builds the backend named by the configuration. Unknown kinds are
// an error rather than a silent default so a typo in STORAGE_BACKEND
// cannot send a run's output to the wrong place.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Backend, error) {
	table := cfg.TableName
	if table == "" {
		table = config.DefaultTableName
	}
	switch cfg.Kind {
	case config.BackendSQLite:
		return NewSQLite(ctx, cfg.SQLitePath, table, logger)
	case config.BackendDuckDB:
		return NewDuckDB(ctx, cfg.DuckDBPath, table, logger)
	case config.BackendBigQuery:
		return NewBigQuery(ctx, cfg.ProjectID, cfg.DatasetID, cfg.BQTable, cfg.BufferSize, logger)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN, table, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}
}
