package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "whisperdog"

// HTTP metrics (incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

// Transcription chain metrics (incremented by the orchestrator).
var (
	TranscribeAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_attempts_total",
		Help:      "Submission attempts by provider and outcome category.",
	}, []string{"provider", "outcome"})

	TranscribeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_retries_total",
		Help:      "Automatic retries scheduled.",
	})

	TranscribeChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_chunks_total",
		Help:      "Chunks produced by payload splitting.",
	})

	TranscribeChainsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_chains_total",
		Help:      "Attempt chains by terminal state.",
	}, []string{"terminal"})

	TranscribeBackoffSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcribe_backoff_seconds",
		Help:      "Backoff delays before retries.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s -> 64s
	})
)

// Session metrics (incremented by the pipeline).
var (
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Processed recording sessions by result.",
	}, []string{"result"})

	SilenceRemovedMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "silence_removed_ms",
		Help:      "Milliseconds of common silence removed per session.",
		Buckets:   prometheus.ExponentialBuckets(100, 4, 8), // 100ms -> ~7m
	})

	CaptureDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_dropped_appends_total",
		Help:      "Audio callback deliveries dropped outside an active recording.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TranscribeAttemptsTotal,
		TranscribeRetriesTotal,
		TranscribeChunksTotal,
		TranscribeChainsTotal,
		TranscribeBackoffSeconds,
		SessionsTotal,
		SilenceRemovedMs,
		CaptureDroppedTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE handlers can stream
// through the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
