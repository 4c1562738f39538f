// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal   *prometheus.CounterVec
	recordsEmittedTotal *prometheus.CounterVec
	recordsSkippedTotal *prometheus.CounterVec
	insertFailuresTotal *prometheus.CounterVec
	batchFlushRecords   prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_pages_fetched_total",
				Help: "Feed pages fetched, labeled by source.",
			},
			[]string{"source"},
		)
		recordsEmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_records_emitted_total",
				Help: "Article records handed to the storage backend, labeled by source.",
			},
			[]string{"source"},
		)
		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_records_skipped_total",
				Help: "Articles dropped before emission, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)
		insertFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_insert_failures_total",
				Help: "Storage insert failures, labeled by backend.",
			},
			[]string{"backend"},
		)
		batchFlushRecords = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsingest_batch_flush_records",
				Help:    "Record count per cloud batch flush.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		)
	})
}

// PageFetched counts one fetched feed page for a source.
func PageFetched(source string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(source).Inc()
	}
}

// RecordEmitted counts one record handed to storage.
func RecordEmitted(source string) {
	if recordsEmittedTotal != nil {
		recordsEmittedTotal.WithLabelValues(source).Inc()
	}
}

// RecordSkipped counts one article dropped before emission.
func RecordSkipped(source, reason string) {
	if recordsSkippedTotal != nil {
		recordsSkippedTotal.WithLabelValues(source, reason).Inc()
	}
}

// InsertFailed counts one storage insert failure.
func InsertFailed(backend string) {
	if insertFailuresTotal != nil {
		insertFailuresTotal.WithLabelValues(backend).Inc()
	}
}

// BatchFlushed observes the size of one cloud batch flush.
func BatchFlushed(records int) {
	if batchFlushRecords != nil {
		batchFlushRecords.Observe(float64(records))
	}
}
