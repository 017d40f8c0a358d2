// Package metrics provides the Prometheus collectors for the search service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kagami"

// latencyBuckets are Prometheus-style buckets (seconds) for request, search and embedding durations.
var latencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15}

// loadBuckets cover remote index downloads, which may take minutes.
var loadBuckets = []float64{0.1, 1, 5, 15, 60, 120, 300}

// Recorder is the metrics interface used by the loader, the service and the bindings.
// A nil *Metrics is a valid no-op Recorder.
type Recorder interface {
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordSearch(outcome string, results int, duration time.Duration)
	RecordEmbedding(kind, outcome string, duration time.Duration)
	RecordLoad(outcome string, vectors int, duration time.Duration)
}

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	searches        *prometheus.CounterVec
	searchDuration  prometheus.Histogram
	searchResults   prometheus.Histogram
	embeddings      *prometheus.CounterVec
	embedDuration   *prometheus.HistogramVec
	loads           *prometheus.CounterVec
	loadDuration    prometheus.Histogram
	indexedVectors  prometheus.Gauge
}

// New creates the collectors on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds.", Buckets: latencyBuckets,
		}, []string{"method", "route"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "searches_total",
			Help: "Nearest-neighbor searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "search_duration_seconds",
			Help: "Index search duration in seconds.", Buckets: latencyBuckets,
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "search_results",
			Help: "Number of results returned per successful search.", Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embeddings_total",
			Help: "Embedding requests by kind (image, text) and outcome.",
		}, []string{"kind", "outcome"}),
		embedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "embedding_duration_seconds",
			Help: "Encoder duration in seconds.", Buckets: latencyBuckets,
		}, []string{"kind"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resource_loads_total",
			Help: "Index and metadata load attempts by outcome.",
		}, []string{"outcome"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "resource_load_duration_seconds",
			Help: "Index and metadata load duration in seconds.", Buckets: loadBuckets,
		}),
		indexedVectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "indexed_vectors",
			Help: "Number of vectors in the loaded index.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration,
		m.searches, m.searchDuration, m.searchResults,
		m.embeddings, m.embedDuration,
		m.loads, m.loadDuration, m.indexedVectors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSearch counts one search; results is observed only on success.
func (m *Metrics) RecordSearch(outcome string, results int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = normalizeOutcome(outcome)
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		m.searchResults.Observe(float64(results))
	}
}

// RecordEmbedding counts one encoder call.
func (m *Metrics) RecordEmbedding(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	kind = normalizeKind(kind)
	m.embeddings.WithLabelValues(kind, normalizeOutcome(outcome)).Inc()
	m.embedDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLoad counts one resource load; vectors updates the gauge on success.
func (m *Metrics) RecordLoad(outcome string, vectors int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = normalizeOutcome(outcome)
	m.loads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		m.indexedVectors.Set(float64(vectors))
	}
}

// Outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// normalizeOutcome maps outcome to a bounded set for cardinality control.
func normalizeOutcome(s string) string {
	switch s {
	case OutcomeSuccess, OutcomeInvalid, OutcomeUnavailable, OutcomeError:
		return s
	default:
		return "unknown"
	}
}

// normalizeKind maps embedding kind to a bounded set.
func normalizeKind(s string) string {
	switch s {
	case "image", "text":
		return s
	default:
		return "unknown"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
