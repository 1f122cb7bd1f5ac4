// Package metrics holds the prometheus collectors for uploads and ingestion.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "assetingest"

const (
	MetricUploadParts    = "upload_parts_total"
	MetricUploadBytes    = "upload_bytes_total"
	MetricFinalizes      = "upload_finalize_total"
	MetricIngestSteps    = "ingest_steps_total"
	MetricRowsProcessed  = "ingest_rows_processed_total"
	MetricStepDuration   = "ingest_step_duration_seconds"
	MetricJobTransitions = "ingest_job_transitions_total"
	MetricPumpsActive    = "ingest_pumps_active"
)

// Step outcomes used as the "outcome" label.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeDone      = "done"
	OutcomeNoop      = "noop"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeTransient = "transient"
	OutcomeConflict  = "conflict"
)

var CounterUploadParts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricUploadParts,
		Help:      "Upload parts accepted, including re-sent parts.",
	},
)

var CounterUploadBytes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricUploadBytes,
		Help:      "Bytes accepted across all upload parts.",
	},
)

var CounterFinalizes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricFinalizes,
		Help:      "Finalize calls by result.",
	},
	[]string{"result"},
)

var CounterIngestSteps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIngestSteps,
		Help:      "Ingest steps by outcome.",
	},
	[]string{"outcome"},
)

var CounterRowsProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsProcessed,
		Help:      "Source rows consumed by ingest steps.",
	},
)

var HistogramStepDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricStepDuration,
		Help:      "Wall time of one ingest step.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	},
)

var CounterJobTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricJobTransitions,
		Help:      "Job status changes by target status.",
	},
	[]string{"status"},
)

var GaugePumpsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricPumpsActive,
		Help:      "Step pumps currently running in this process.",
	},
)

func init() {
	prometheus.MustRegister(CounterUploadParts)
	prometheus.MustRegister(CounterUploadBytes)
	prometheus.MustRegister(CounterFinalizes)
	prometheus.MustRegister(CounterIngestSteps)
	prometheus.MustRegister(CounterRowsProcessed)
	prometheus.MustRegister(HistogramStepDuration)
	prometheus.MustRegister(CounterJobTransitions)
	prometheus.MustRegister(GaugePumpsActive)
}

var CounterHTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	},
	[]string{"method", "route", "status"},
)

func init() {
	prometheus.MustRegister(CounterHTTPRequests)
}
