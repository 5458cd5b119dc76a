// Package metrics defines Prometheus metrics for the ingest pipeline.
//
// All metrics are registered via promauto at package initialization and
// exposed on the ops listener's /metrics endpoint.
package metrics
