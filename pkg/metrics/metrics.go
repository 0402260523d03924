package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	QueueJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_queue_jobs",
			Help: "Current number of scan jobs by queue state.",
		},
		[]string{"state"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_jobs_total",
			Help: "Total number of processed scan job attempts by outcome.",
		},
		[]string{"outcome"}, // completed, retried, exhausted, abandoned, deleted
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_job_duration_seconds",
			Help:    "Duration of scan job attempts.",
			Buckets: []float64{0.5, 1, 5, 10, 15, 30, 60, 120},
		},
		[]string{"kind"},
	)

	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_extractions_total",
			Help: "Total number of extractor calls by strategy and outcome.",
		},
		[]string{"strategy", "outcome"}, // ok, low_confidence, transient, permanent
	)

	FieldCompleteness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_field_completeness",
			Help:    "Ratio of expected fields present per job.",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	ChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_changes_total",
			Help: "Total number of change records by type.",
		},
		[]string{"type"},
	)

	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_scans_total",
			Help: "Total number of finished scans by status and reason.",
		},
		[]string{"status", "reason"},
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_rate_limit_waits_total",
			Help: "Total number of dispatches delayed by the rate limiter.",
		},
	)
)
