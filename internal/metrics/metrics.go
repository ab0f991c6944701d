package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Processor metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processor_events_total",
			Help: "Total number of events written to rollup tables",
		},
	)

	DupesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processor_dupes_dropped_total",
			Help: "Total number of duplicate events dropped by dedup",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_dlq_total",
			Help: "Total number of poison messages dropped, by reason",
		},
		[]string{"reason"},
	)

	RollupLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollup_latency_seconds",
			Help:    "Processing latency per acknowledged queue message",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	DedupFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processor_dedup_fallback_total",
			Help: "Dedup checks answered by the local in-memory fallback",
		},
	)

	SessionsPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processor_sessions_promoted_total",
			Help: "Raw sessions promoted into rollup tables by the watermark task",
		},
	)

	// Synchronous ingestion metrics
	IngestAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_ingest_accepted_total",
			Help: "Usage intervals accepted on the synchronous path",
		},
	)

	IngestDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_ingest_duplicates_total",
			Help: "Usage intervals that updated an existing row in place",
		},
	)

	PolicyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_violations_total",
			Help: "Intervals diverted to the violation log by the blocklist",
		},
	)

	// Queue metrics
	EnqueueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Event batches enqueued to the stream",
		},
	)

	EnqueueErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_enqueue_errors_total",
			Help: "Failed attempts to enqueue an event batch",
		},
	)

	// Reconstruction metrics
	RollupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_runs_total",
			Help: "Daily reconstruction runs, by outcome",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)
