// Package metrics defines the Prometheus collectors exported by the service.
// Collectors are registered on the default registry via promauto and exposed
// by mounting promhttp.Handler() on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outro_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outro_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outro_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Pipeline metrics
var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outro_api_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal state and failing stage",
		},
		[]string{"state", "stage"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outro_api_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	PipelinesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outro_api_pipelines_in_progress",
			Help: "Number of pipelines currently holding a concurrency slot",
		},
	)

	PipelineQueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outro_api_pipeline_queue_wait_seconds",
			Help:    "Time spent waiting for a pipeline concurrency slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	ThumbnailEmbedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outro_api_thumbnail_embed_failures_total",
			Help: "Number of best-effort cover embeds that failed and were skipped",
		},
	)

	OutroSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outro_api_outro_selections_total",
			Help: "Number of outro selections by resolution tier and orientation",
		},
		[]string{"tier", "orientation"},
	)
)

// Session and download metrics
var (
	SessionCleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outro_api_session_cleanup_failures_total",
			Help: "Number of session files that could not be removed",
		},
	)

	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outro_api_sessions_open",
			Help: "Number of sessions opened and not yet cleaned up",
		},
	)

	DownloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outro_api_download_bytes_total",
			Help: "Bytes written to session files by the downloader",
		},
		[]string{"scheme"},
	)

	DownloadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outro_api_download_retries_total",
			Help: "Number of download attempts retried after a transient failure",
		},
	)
)
