// Package observability holds the process-wide Prometheus metrics and the
// slog logger constructor.
package observability

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_jobs_enqueued_total",
		Help: "The total number of enqueue requests",
	}, []string{"queue", "status"}) // status: queued, duplicate

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_jobs_processed_total",
		Help: "The total number of processed job attempts",
	}, []string{"queue", "status"}) // status: completed, failed, retried

	JobsStalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_jobs_stalled_total",
		Help: "Jobs whose lock expired without renewal",
	}, []string{"queue", "outcome"}) // outcome: requeued, failed

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enricher_job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"queue"})

	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_extraction_attempts_total",
		Help: "Extraction candidates tried, by method and outcome",
	}, []string{"platform", "method", "outcome"})

	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_ai_requests_total",
		Help: "Model executor calls by result code",
	}, []string{"provider", "code"})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_events_delivered_total",
		Help: "Events written to subscribers",
	}, []string{"event"})
)

// NewLogger creates a structured logger. format is "json" or "text"; level is
// one of debug, info, warn, error.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
