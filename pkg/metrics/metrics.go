package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allocation_claims"

// Metrics holds the Prometheus collectors of one claims engine and its API.
// Each instance owns its registry so tests and multiple engines never collide.
type Metrics struct {
	Registry *prometheus.Registry

	treesCreated  prometheus.Counter
	buildDuration prometheus.Histogram
	treeLeaves    prometheus.Histogram
	activations   *prometheus.CounterVec
	eligibility   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		treesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trees",
			Name:      "created_total",
			Help:      "Total number of allocation trees built and persisted.",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trees",
			Name:      "build_duration_seconds",
			Help:      "Time spent normalizing allocations and building a tree with all proofs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		}),
		treeLeaves: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trees",
			Name:      "leaves",
			Help:      "Number of leaves per created tree.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trees",
			Name:      "activations_total",
			Help:      "Tree activation attempts by result.",
		}, []string{"result"}),
		eligibility: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "eligibility_lookups_total",
			Help:      "Eligibility lookups by outcome.",
		}, []string{"eligible"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "proof_verifications_total",
			Help:      "Proof verifications by outcome.",
		}, []string{"valid"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Proof cache lookups by result.",
		}, []string{"result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}

	m.Registry.MustRegister(
		m.treesCreated,
		m.buildDuration,
		m.treeLeaves,
		m.activations,
		m.eligibility,
		m.verifications,
		m.cacheLookups,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return m
}

// TreeCreated records a persisted tree.
func (m *Metrics) TreeCreated(leaves int, took time.Duration) {
	if m == nil {
		return
	}
	m.treesCreated.Inc()
	m.treeLeaves.Observe(float64(leaves))
	m.buildDuration.Observe(took.Seconds())
}

// Activation records an activation attempt; result is "success", "integrity_failed" or "error".
func (m *Metrics) Activation(result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
}

func (m *Metrics) Eligibility(eligible bool) {
	if m == nil {
		return
	}
	m.eligibility.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

func (m *Metrics) Verification(valid bool) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency labelled by chi route pattern,
// which keeps wallet addresses and tree IDs out of label values.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
