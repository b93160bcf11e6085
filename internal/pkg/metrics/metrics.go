package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clipcraft",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipcraft",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipcraft",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipcraft",
			Subsystem: "generation",
			Name:      "results_total",
			Help:      "Generation attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipcraft",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time from charge to terminal result.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17m
		},
		[]string{"provider"},
	)

	pollAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipcraft",
			Subsystem: "generation",
			Name:      "poll_attempts",
			Help:      "Status queries issued per long-running operation.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clipcraft",
			Subsystem: "generation",
			Name:      "active_jobs",
			Help:      "Generation jobs currently running.",
		},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipcraft",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger charge and grant operations by outcome.",
		},
		[]string{"operation", "category", "outcome"},
	)

	ledgerCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipcraft",
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Credits moved through the ledger, by category.",
		},
		[]string{"category"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		generations,
		generationDuration,
		pollAttempts,
		activeJobs,
		ledgerOperations,
		ledgerCredits,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordGeneration records the terminal outcome of one generation attempt.
func RecordGeneration(provider, outcome string, duration time.Duration, polls int) {
	if provider == "" {
		provider = "unknown"
	}
	generations.WithLabelValues(provider, outcome).Inc()
	if duration > 0 {
		generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
	if polls > 0 {
		pollAttempts.WithLabelValues(provider).Observe(float64(polls))
	}
}

// JobStarted and JobFinished track running background jobs.
func JobStarted()  { activeJobs.Inc() }
func JobFinished() { activeJobs.Dec() }

// RecordLedgerOperation records a charge or grant and the credits it moved.
func RecordLedgerOperation(operation, category, outcome string, amount int) {
	ledgerOperations.WithLabelValues(operation, category, outcome).Inc()
	if outcome == "ok" && amount > 0 {
		ledgerCredits.WithLabelValues(category).Add(float64(amount))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
