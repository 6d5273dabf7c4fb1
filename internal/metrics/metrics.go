// Package metrics holds the Prometheus collectors of the ingest pipeline and
// the API server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages seen by the ingest runner, by outcome.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_messages_processed_total",
			Help: "Total number of raw messages handled by the ingest runner",
		},
		[]string{"status"}, // status: cleaned, filtered, seen, discarded
	)

	EmailsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsift_emails_inserted_total",
			Help: "Total number of cleaned emails newly written to the store",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_stage_duration_seconds",
			Help:    "Cleaning stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"stage"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_store_query_duration_seconds",
			Help:    "Store query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "driver"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_cache_lookups_total",
			Help: "Analytics response cache lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)
)

func RecordStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func RecordStoreQuery(operation, driver string, d time.Duration) {
	StoreQueryDuration.WithLabelValues(operation, driver).Observe(d.Seconds())
}

func RecordHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
