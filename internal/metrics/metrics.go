package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker metrics
var (
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_messages_consumed_total",
			Help: "Total number of messages consumed, by queue and outcome (ack, nack, poison)",
		},
		[]string{"queue", "outcome"},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_messages_published_total",
			Help: "Total number of messages published, by routing key",
		},
		[]string{"routing_key"},
	)

	MessageHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_ingest_message_handle_duration_seconds",
			Help:    "Message handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)

// Batch metrics
var (
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_batch_flushes_total",
			Help: "Total number of batch flushes, by worker kind and trigger (size, age, drain)",
		},
		[]string{"kind", "trigger"},
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_ingest_batch_size",
			Help:    "Number of messages per processed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"kind"},
	)

	ArtifactBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_artifact_bytes_written_total",
			Help: "Total bytes of generated artifacts written to disk",
		},
		[]string{"kind"},
	)

	ArtifactsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_artifacts_generated_total",
			Help: "Total artifacts generated, by kind and outcome (generated, skipped, readded, failed, dummy)",
		},
		[]string{"kind", "outcome"},
	)
)

// Decoder metrics
var (
	DecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_ingest_decode_duration_seconds",
			Help:    "Image decode and resize duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_decode_errors_total",
			Help: "Total decode failures, by operation",
		},
		[]string{"operation"},
	)
)

// Store metrics
var (
	StoreQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_store_queries_total",
			Help: "Total number of data store operations",
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_ingest_store_query_duration_seconds",
			Help:    "Data store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// Job metrics
var (
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_jobs_completed_total",
			Help: "Background jobs reaching a terminal status",
		},
		[]string{"job_type", "status"},
	)

	StageItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_stage_items_processed_total",
			Help: "Per-stage items processed, by stage and result",
		},
		[]string{"stage", "result"},
	)
)

// Filesystem retry metrics
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_fs_stale_errors_total",
			Help: "NFS stale file handle errors encountered, by operation",
		},
		[]string{"operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_fs_retry_attempts_total",
			Help: "Filesystem operation retries attempted, by operation",
		},
		[]string{"operation"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_fs_retry_success_total",
			Help: "Filesystem operations that succeeded after at least one retry",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_fs_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_ingest_fs_retry_duration_seconds",
			Help:    "Filesystem operation duration including retries",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation"},
	)
)

// DLQ and reconciler metrics
var (
	DLQRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_dlq_recovered_total",
			Help: "Messages republished from the dead-letter queue, by origin queue",
		},
		[]string{"queue"},
	)

	DLQUnroutable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_ingest_dlq_unroutable_total",
			Help: "DLQ messages whose origin queue could not be determined",
		},
	)

	ReconcilerRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_ingest_reconciler_repairs_total",
			Help: "Stage repairs applied by the stuck-job reconciler",
		},
		[]string{"stage"},
	)
)
