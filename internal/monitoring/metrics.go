package monitoring

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const prefix = "localrag_"

const (
	MetricLabelResult  = "result"
	MetricLabelOutcome = "outcome"
	MetricLabelAction  = "action"
	MetricLabelMirror  = "mirror"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	DocumentsAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%sdocuments_added_total", prefix),
			Help: "Total number of add_document calls by result",
		},
		[]string{MetricLabelResult},
	)
	DocumentsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%sdocuments_deleted_total", prefix),
			Help: "Total number of delete_document calls by result (ok, missing, error)",
		},
		[]string{MetricLabelResult},
	)
	ChunksEmbedded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%schunks_embedded_total", prefix),
			Help: "Total number of chunk texts sent to the embedding provider",
		},
	)
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%ssearch_duration_seconds", prefix),
			Help:    "Latency of search requests",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
	)
	SearchCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%ssearch_cache_total", prefix),
			Help: "Search result cache lookups by outcome (hit, miss)",
		},
		[]string{MetricLabelOutcome},
	)
	RepairActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%srepair_actions_total", prefix),
			Help: "Entries touched by startup repair, by action",
		},
		[]string{MetricLabelAction},
	)
	MirrorFlushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%smirror_flush_failures_total", prefix),
			Help: "Failed writes of the durable mirrors (vector_index, document_cache)",
		},
		[]string{MetricLabelMirror},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers all collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsAdded,
			DocumentsDeleted,
			ChunksEmbedded,
			SearchDuration,
			SearchCache,
			RepairActions,
			MirrorFlushFailures,
		)
	})
}
