package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	gradingRunsTotal       *prometheus.CounterVec
	gradingStageSeconds    *prometheus.HistogramVec
	workspaceCleanupErrors prometheus.Counter
	samplerFailuresTotal   *prometheus.CounterVec
	eventPublishFailures   prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_api_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_runs_total",
			Help: "Grading runs by language and outcome.",
		}, []string{"language", "outcome"})

		gradingStageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_stage_duration_seconds",
			Help:    "Duration of each grading pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"language", "stage"})

		workspaceCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_workspace_cleanup_failures_total",
			Help: "Number of workspaces that could not be removed.",
		})

		samplerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_sampler_failures_total",
			Help: "Number of performance samples that failed closed.",
		}, []string{"language"})

		eventPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_event_publish_failures_total",
			Help: "Number of grading events that could not be published.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradingRunsTotal,
			gradingStageSeconds,
			workspaceCleanupErrors,
			samplerFailuresTotal,
			eventPublishFailures,
		)
	})
}

// APIRequests exposes the counter for grading API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for grading API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for grading API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingRuns counts finished grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingStageDuration observes how long each pipeline stage took.
func GradingStageDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingStageSeconds
}

// WorkspaceCleanupFailures counts workspaces left on disk.
func WorkspaceCleanupFailures() prometheus.Counter {
	RegisterMetrics()
	return workspaceCleanupErrors
}

func SamplerFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return samplerFailuresTotal
}

func EventPublishFailures() prometheus.Counter {
	RegisterMetrics()
	return eventPublishFailures
}
