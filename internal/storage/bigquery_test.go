package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/ph-data-eng/newsingest/internal/news"
)

type fakeRunner struct {
	mu       sync.Mutex
	loads    [][]news.Record
	queries  []string
	closed   int
	failNext bool
}

func (f *fakeRunner) Load(_ context.Context, recs []news.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("load rejected")
	}
	batch := make([]news.Record, len(recs))
	copy(batch, recs)
	f.loads = append(f.loads, batch)
	return nil
}

func (f *fakeRunner) Query(_ context.Context, query string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return Result{}, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeRunner) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeRunner) failConsumed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.failNext
}

func TestBigQueryFlushesAtThreshold(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 3, zap.NewNop())

	ctx := context.Background()
	b.InsertRecord(ctx, sampleRecord("bq-1"))
	b.InsertRecord(ctx, sampleRecord("bq-2"))
	b.InsertRecord(ctx, sampleRecord("bq-3"))

	require.Eventually(t, func() bool { return runner.loadCount() == 1 },
		2*time.Second, 10*time.Millisecond, "hitting the threshold should trigger exactly one load")
	require.Len(t, runner.loads[0], 3)
	assert.Equal(t, "bq-1", runner.loads[0][0].ID)

	require.NoError(t, b.Close())
	assert.Equal(t, 1, runner.loadCount(), "no extra load when the buffer is empty at close")
}

func TestBigQueryFlushesPartialBufferOnClose(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 3, zap.NewNop())

	ctx := context.Background()
	b.InsertRecord(ctx, sampleRecord("bq-1"))
	b.InsertRecord(ctx, sampleRecord("bq-2"))

	require.NoError(t, b.Close())
	require.Equal(t, 1, runner.loadCount())
	assert.Len(t, runner.loads[0], 2)
}

func TestBigQueryCloseRewritesDuplicates(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "proj.ds.articles_raw", 10, zap.NewNop())

	require.NoError(t, b.Close())

	require.Len(t, runner.queries, 1)
	assert.Contains(t, runner.queries[0], "SELECT DISTINCT")
	assert.Contains(t, runner.queries[0], "proj.ds.articles_raw")
	assert.Equal(t, 1, runner.closed)
}

func TestBigQueryCloseIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 10, zap.NewNop())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, runner.closed, "second close must not touch the client again")
	assert.Len(t, runner.queries, 1)
}

func TestBigQueryFailedBatchDoesNotBlockLaterFlushes(t *testing.T) {
	runner := &fakeRunner{failNext: true}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 2, zap.NewNop())

	ctx := context.Background()
	b.InsertRecord(ctx, sampleRecord("bq-1"))
	b.InsertRecord(ctx, sampleRecord("bq-2"))
	require.Eventually(t, runner.failConsumed, 2*time.Second, 10*time.Millisecond)

	b.InsertRecord(ctx, sampleRecord("bq-3"))
	b.InsertRecord(ctx, sampleRecord("bq-4"))

	require.Eventually(t, func() bool { return runner.loadCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())

	require.Len(t, runner.loads, 1, "the rejected batch is dropped, the next one lands")
	assert.Equal(t, "bq-3", runner.loads[0][0].ID)
}

func TestBigQueryDefaultBufferSize(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 0, zap.NewNop())
	assert.Equal(t, 100, b.bufferSize)
	require.NoError(t, b.Close())
}

func TestBigQueryRunQueryDelegatesToRunner(t *testing.T) {
	runner := &fakeRunner{}
	b := newBigQueryWithRunner(runner, "p.d.articles_raw", 10, zap.NewNop())
	defer func() { _ = b.Close() }()

	_, err := b.RunQuery(context.Background(), "SELECT id FROM articles_raw")
	require.NoError(t, err)
	require.NotEmpty(t, runner.queries)
	assert.True(t, strings.HasPrefix(runner.queries[0], "SELECT id"))
}
