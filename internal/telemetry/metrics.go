package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Requests         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casjobs_requests_total", Help: "CasJobs API calls by operation and HTTP status"}, []string{"operation", "code"})
	RequestDuration  = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "casjobs_request_duration_seconds", Help: "CasJobs API call latency", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)}, []string{"operation"})
	StatusPolls      = prometheus.NewCounter(prometheus.CounterOpts{Name: "casjobs_status_polls_total", Help: "Job status polls issued while waiting"})
	BatchQueries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "casjobs_batch_queries_total", Help: "Queries sent through the concurrent batch path"})
	TrackedJobs      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "casjobs_tracked_jobs", Help: "Jobs waiting in the watch schedule"})
	JobsFinalized    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casjobs_jobs_finalized_total", Help: "Watched jobs that reached a terminal status"}, []string{"status"})
	WatchErrors      = prometheus.NewCounter(prometheus.CounterOpts{Name: "casjobs_watch_errors_total", Help: "Status lookups that failed and were rescheduled"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "casjobs_gateway_rate_limit_rejects_total", Help: "Gateway submissions rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

func register() {
	once.Do(func() {
		prometheus.MustRegister(
			Requests,
			RequestDuration,
			StatusPolls,
			BatchQueries,
			TrackedJobs,
			JobsFinalized,
			WatchErrors,
			RateLimitRejects,
		)
	})
}

// ObserveRequest records one completed API call. code is 0 when no response was received.
func ObserveRequest(operation string, code int, started time.Time) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	Requests.WithLabelValues(operation, label).Inc()
	RequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
