// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/logging"
)

// Backend kinds accepted by the storage factory.
const (
	BackendSQLite   = "sqlite"
	BackendDuckDB   = "duckdb"
	BackendBigQuery = "bigquery"
	BackendPostgres = "postgres"
)

// DefaultTableName is the only table the embedded stores will write to.
const DefaultTableName = "articles_raw"

// StorageConfig selects a backend kind and carries its kind-specific
// settings. Built once at startup and immutable afterwards.
type StorageConfig struct {
	Kind string

	// Embedded stores.
	SQLitePath string
	DuckDBPath string
	TableName  string

	// Cloud warehouse.
	ProjectID  string
	DatasetID  string
	BQTable    string
	BufferSize int

	// Server-backed relational store.
	PostgresDSN string
}

// ScrapeConfig carries the ingestion knobs shared by the source adapters.
type ScrapeConfig struct {
	DaysBack     int
	UserAgent    string
	PageDelayMs  int
	HTTPTimeoutS int
}

// Config is the resolved process configuration.
type Config struct {
	Storage     StorageConfig
	Scrape      ScrapeConfig
	Development bool
}

// InitViper registers defaults and environment bindings. Call once at
// startup, before Load.
func InitViper() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/newsingest/")
	viper.AddConfigPath("$HOME/.newsingest")

	viper.SetDefault("storage.backend", BackendDuckDB)
	viper.SetDefault("storage.sqlite_db_path", "articles_raw.db")
	viper.SetDefault("storage.duckdb_db_path", "articles_raw.duckdb")
	viper.SetDefault("storage.table_name", DefaultTableName)
	viper.SetDefault("storage.bq_dataset_id", "ph_news_raw")
	viper.SetDefault("storage.bq_table_name", DefaultTableName)
	viper.SetDefault("storage.bq_buffer_size", 100)
	viper.SetDefault("storage.gcp_project_id", "")
	viper.SetDefault("storage.postgres_dsn", "")

	viper.SetDefault("scrape.days_back", 7)
	viper.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; newsingest/1.0)")
	viper.SetDefault("scrape.page_delay_ms", 500)
	viper.SetDefault("scrape.http_timeout_seconds", 15)

	viper.SetDefault("logging.development", false)

	// The flat variable names from the original deployment keep working:
	// STORAGE_BACKEND, SQLITE_DB_PATH, DUCKDB_DB_PATH, TABLE_NAME,
	// BQ_DATASET_ID, BQ_TABLE_NAME, BQ_BUFFER_SIZE, GCP_PROJECT_ID,
	// POSTGRES_DSN, DAYS_BACK.
	bindFlatEnv("storage.backend", "STORAGE_BACKEND")
	bindFlatEnv("storage.sqlite_db_path", "SQLITE_DB_PATH")
	bindFlatEnv("storage.duckdb_db_path", "DUCKDB_DB_PATH")
	bindFlatEnv("storage.table_name", "TABLE_NAME")
	bindFlatEnv("storage.bq_dataset_id", "BQ_DATASET_ID")
	bindFlatEnv("storage.bq_table_name", "BQ_TABLE_NAME")
	bindFlatEnv("storage.bq_buffer_size", "BQ_BUFFER_SIZE")
	bindFlatEnv("storage.gcp_project_id", "GCP_PROJECT_ID")
	bindFlatEnv("storage.postgres_dsn", "POSTGRES_DSN")
	bindFlatEnv("scrape.days_back", "DAYS_BACK")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Debug("no config file found; using defaults and environment")
		} else {
			logging.L.Warn("error reading config file", zap.Error(err))
		}
	}
}

func bindFlatEnv(key, env string) {
	// viper.BindEnv only errors on an empty key.
	_ = viper.BindEnv(key, env)
}

// Load materializes the resolved Config from viper state.
func Load() (Config, error) {
	cfg := Config{
		Storage: StorageConfig{
			Kind:        strings.ToLower(viper.GetString("storage.backend")),
			SQLitePath:  viper.GetString("storage.sqlite_db_path"),
			DuckDBPath:  viper.GetString("storage.duckdb_db_path"),
			TableName:   viper.GetString("storage.table_name"),
			ProjectID:   viper.GetString("storage.gcp_project_id"),
			DatasetID:   viper.GetString("storage.bq_dataset_id"),
			BQTable:     viper.GetString("storage.bq_table_name"),
			BufferSize:  viper.GetInt("storage.bq_buffer_size"),
			PostgresDSN: viper.GetString("storage.postgres_dsn"),
		},
		Scrape: ScrapeConfig{
			DaysBack:     viper.GetInt("scrape.days_back"),
			UserAgent:    viper.GetString("scrape.user_agent"),
			PageDelayMs:  viper.GetInt("scrape.page_delay_ms"),
			HTTPTimeoutS: viper.GetInt("scrape.http_timeout_seconds"),
		},
		Development: viper.GetBool("logging.development"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values. Configuration failures are fatal by
// policy: they surface immediately rather than being retried.
func (c Config) Validate() error {
	switch c.Storage.Kind {
	case BackendSQLite, BackendDuckDB, BackendBigQuery, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Kind)
	}
	if c.Storage.Kind == BackendBigQuery && c.Storage.ProjectID == "" {
		return fmt.Errorf("storage backend is %q but GCP_PROJECT_ID is not set", BackendBigQuery)
	}
	if c.Storage.Kind == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage backend is %q but POSTGRES_DSN is not set", BackendPostgres)
	}
	if c.Storage.BufferSize <= 0 {
		return fmt.Errorf("bq_buffer_size must be > 0")
	}
	if c.Scrape.DaysBack <= 0 {
		return fmt.Errorf("days_back must be > 0")
	}
	return nil
}

// Describe renders the resolved configuration for --show-config.
func (c Config) Describe() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "CURRENT CONFIGURATION")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Storage Backend: %s\n", strings.ToUpper(c.Storage.Kind))
	switch c.Storage.Kind {
	case BackendSQLite:
		fmt.Fprintf(&b, "Database Path: %s\n", c.Storage.SQLitePath)
		fmt.Fprintf(&b, "Table Name: %s\n", c.Storage.TableName)
	case BackendDuckDB:
		fmt.Fprintf(&b, "Database Path: %s\n", c.Storage.DuckDBPath)
		fmt.Fprintf(&b, "Table Name: %s\n", c.Storage.TableName)
	case BackendBigQuery:
		fmt.Fprintf(&b, "Project ID: %s\n", c.Storage.ProjectID)
		fmt.Fprintf(&b, "Dataset ID: %s\n", c.Storage.DatasetID)
		fmt.Fprintf(&b, "Table Name: %s\n", c.Storage.BQTable)
		fmt.Fprintf(&b, "Buffer Size: %d\n", c.Storage.BufferSize)
	case BackendPostgres:
		fmt.Fprintf(&b, "Table Name: %s\n", c.Storage.TableName)
	}
	fmt.Fprintf(&b, "Days to look back: %d\n", c.Scrape.DaysBack)
	fmt.Fprintln(&b, line)
	return b.String()
}
