package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/ph-data-eng/newsingest/internal/metrics"
	"github.com/ph-data-eng/newsingest/internal/news"
)

const bigQueryQueueDepth = 1000

// bqRunner is the seam between the buffering machinery and the actual
// warehouse client, so the queue/buffer discipline is testable without
// GCP credentials.
type bqRunner interface {
	Load(ctx context.Context, recs []news.Record) error
	Query(ctx context.Context, query string) (Result, error)
	Close() error
}

// BigQueryBackend is the cloud batched-async store. InsertRecord is
// non-blocking: records land on a bounded queue drained by a single
// consumer goroutine that accumulates a buffer and hands full batches to
// the warehouse off its own critical path. Delivery is at-least-once; a
// distinct-rewrite on Close collapses duplicate rows.
type BigQueryBackend struct {
	runner     bqRunner
	tableID    string
	bufferSize int
	queue      chan *news.Record
	done       chan struct{}
	loads      sync.WaitGroup
	logger     *zap.Logger
	closeOnce  sync.Once
	closeErr   error
}

// NewBigQuery connects to the warehouse, ensures the dataset and table
// exist, and starts the background consumer.
func NewBigQuery(ctx context.Context, projectID, datasetID, table string, bufferSize int, logger *zap.Logger) (*BigQueryBackend, error) {
	runner, err := newGCPRunner(ctx, projectID, datasetID, table)
	if err != nil {
		return nil, err
	}
	tableID := fmt.Sprintf("%s.%s.%s", projectID, datasetID, table)
	logger.Info("connected to bigquery",
		zap.String("dataset", datasetID), zap.String("table", table))
	return newBigQueryWithRunner(runner, tableID, bufferSize, logger), nil
}

func newBigQueryWithRunner(runner bqRunner, tableID string, bufferSize int, logger *zap.Logger) *BigQueryBackend {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	b := &BigQueryBackend{
		runner:     runner,
		tableID:    tableID,
		bufferSize: bufferSize,
		queue:      make(chan *news.Record, bigQueryQueueDepth),
		done:       make(chan struct{}),
		logger:     logger,
	}
	go b.consume()
	return b
}

// InsertRecord hands the record to the consumer queue without blocking
// the caller. A full queue drops the record with a log line.
func (b *BigQueryBackend) InsertRecord(_ context.Context, rec news.Record) {
	select {
	case b.queue <- &rec:
	default:
		metrics.InsertFailed("bigquery")
		b.logger.Error("bigquery queue full, dropping record",
			zap.String("id", rec.ID), zap.String("source", rec.Source))
	}
}

// consume drains the queue into the buffer and flushes at the threshold.
// A nil record is the stop sentinel; everything queued before it is
// processed first, then any partial buffer is force-flushed.
func (b *BigQueryBackend) consume() {
	defer close(b.done)

	var buffer []news.Record
	for rec := range b.queue {
		if rec == nil {
			b.logger.Info("received stop sentinel, shutting down consumer",
				zap.Int("buffered", len(buffer)))
			break
		}
		buffer = append(buffer, *rec)
		if len(buffer) >= b.bufferSize {
			b.flushAsync(buffer)
			buffer = nil
		}
	}

	if len(buffer) > 0 {
		b.logger.Info("final flush on shutdown", zap.Int("records", len(buffer)))
		b.flush(context.Background(), buffer)
	}
}

// flushAsync submits the batch without blocking further queue draining.
func (b *BigQueryBackend) flushAsync(batch []news.Record) {
	b.loads.Add(1)
	go func() {
		defer b.loads.Done()
		b.flush(context.Background(), batch)
	}()
}

// flush loads one batch. A batch-level failure drops the whole batch
// rather than retrying, so a poison record cannot block later flushes.
func (b *BigQueryBackend) flush(ctx context.Context, batch []news.Record) {
	if err := b.runner.Load(ctx, batch); err != nil {
		metrics.InsertFailed("bigquery")
		b.logger.Error("bigquery batch load failed, dropping batch",
			zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	metrics.BatchFlushed(len(batch))
	b.logger.Info("inserted records into bigquery", zap.Int("records", len(batch)))
}

// FetchAll runs a read query and returns every row.
func (b *BigQueryBackend) FetchAll(ctx context.Context, query string) ([]Row, error) {
	res, err := b.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// RunQuery executes ad hoc SQL against the warehouse.
func (b *BigQueryBackend) RunQuery(ctx context.Context, query string) (Result, error) {
	return b.runner.Query(ctx, query)
}

// Close stops the consumer via the sentinel, waits for the drain and all
// in-flight loads, runs the duplicate-collapsing rewrite and releases
// the client. Flush-path failures are logged, never re-raised, so the
// process can always exit. Idempotent.
func (b *BigQueryBackend) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("closing bigquery backend")
		b.queue <- nil

		select {
		case <-b.done:
		case <-time.After(60 * time.Second):
			b.logger.Warn("consumer did not stop in time; records may not have been flushed")
		}
		b.loads.Wait()

		dedup := fmt.Sprintf(
			"CREATE OR REPLACE TABLE `%s` AS SELECT DISTINCT * FROM `%s`",
			b.tableID, b.tableID)
		if _, err := b.runner.Query(context.Background(), dedup); err != nil {
			b.logger.Error("duplicate cleanup failed", zap.Error(err))
		}

		if err := b.runner.Close(); err != nil {
			b.closeErr = fmt.Errorf("close bigquery client: %w", err)
			return
		}
		b.logger.Info("bigquery connection closed")
	})
	return b.closeErr
}

// gcpRunner is the production bqRunner backed by the BigQuery client.
type gcpRunner struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// articleSchema is the fixed 10-field schema of the destination table.
var articleSchema = bigquery.Schema{
	{Name: "id", Type: bigquery.StringFieldType, Required: true},
	{Name: "source", Type: bigquery.StringFieldType},
	{Name: "url", Type: bigquery.StringFieldType},
	{Name: "category", Type: bigquery.StringFieldType},
	{Name: "title", Type: bigquery.StringFieldType},
	{Name: "author", Type: bigquery.StringFieldType},
	{Name: "date", Type: bigquery.DateFieldType},
	{Name: "publish_time", Type: bigquery.TimestampFieldType},
	{Name: "content", Type: bigquery.StringFieldType},
	{Name: "tags", Type: bigquery.StringFieldType},
}

func newGCPRunner(ctx context.Context, projectID, datasetID, table string) (*gcpRunner, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	ds := client.Dataset(datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: "US"}); err != nil && !alreadyExists(err) {
		closeQuietly(client)
		return nil, fmt.Errorf("create dataset %s: %w", datasetID, err)
	}
	meta := &bigquery.TableMetadata{Schema: articleSchema}
	if err := ds.Table(table).Create(ctx, meta); err != nil && !alreadyExists(err) {
		closeQuietly(client)
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	return &gcpRunner{client: client, dataset: datasetID, table: table}, nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

func closeQuietly(client *bigquery.Client) {
	_ = client.Close()
}

// Load appends one batch of records via the streaming inserter.
func (r *gcpRunner) Load(ctx context.Context, recs []news.Record) error {
	savers := make([]*articleSaver, len(recs))
	for i := range recs {
		savers[i] = &articleSaver{rec: recs[i]}
	}
	inserter := r.client.Dataset(r.dataset).Table(r.table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("bigquery put: %w", err)
	}
	return nil
}

// Query runs a statement and materializes row maps.
func (r *gcpRunner) Query(ctx context.Context, query string) (Result, error) {
	it, err := r.client.Query(query).Read(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bigquery query: %w", err)
	}
	var res Result
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("bigquery iterate: %w", err)
		}
		row := make(Row, len(it.Schema))
		for i, field := range it.Schema {
			if i < len(values) {
				row[field.Name] = values[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	// Schema is populated once the first row has been read.
	for _, field := range it.Schema {
		res.Columns = append(res.Columns, field.Name)
	}
	return res, nil
}

func (r *gcpRunner) Close() error {
	return r.client.Close()
}

// articleSaver adapts a record to the warehouse row shape: string id,
// civil date, canonical timestamp, content column named "content".
type articleSaver struct {
	rec news.Record
}

// Save implements bigquery.ValueSaver.
func (s *articleSaver) Save() (map[string]bigquery.Value, string, error) {
	var author bigquery.Value
	if s.rec.Author != "" {
		author = s.rec.Author
	}
	return map[string]bigquery.Value{
		"id":           s.rec.ID,
		"source":       s.rec.Source,
		"url":          s.rec.URL,
		"category":     s.rec.Category,
		"title":        s.rec.Title,
		"author":       author,
		"date":         civil.DateOf(s.rec.PublishTime),
		"publish_time": s.rec.PublishTime,
		"content":      s.rec.CleanedContent,
		"tags":         s.rec.Tags,
	}, "", nil
}
