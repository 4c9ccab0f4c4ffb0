// Package telemetry records retrieval metrics in a private Prometheus
// registry and keeps a short in-memory log of queries that came back
// degraded or empty. Nothing is reported externally unless the registry is
// served over HTTP.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Retrieve statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusEmpty    = "empty"
	StatusInvalid  = "invalid"
)

// Recall path statuses.
const (
	PathOK      = "ok"
	PathError   = "error"
	PathTimeout = "timeout"
)

// DefaultRecentSize is the number of problem queries kept by Metrics.
const DefaultRecentSize = 100

// Metrics holds the retrieval collectors. All methods are safe on a nil
// receiver so the engine runs without metrics.
type Metrics struct {
	registry *prometheus.Registry

	retrieveTotal     *prometheus.CounterVec
	retrieveDuration  prometheus.Histogram
	pathTotal         *prometheus.CounterVec
	pathDuration      *prometheus.HistogramVec
	rerankCache       *prometheus.CounterVec
	rerankDegraded    prometheus.Counter
	transformFallback *prometheus.CounterVec

	recent *CircularBuffer[RecentQuery]
}

// NewMetrics creates the collectors and registers them with a new registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	retrieveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanrag",
			Name:      "retrieve_total",
			Help:      "Total Retrieve calls by outcome.",
		},
		[]string{"status"},
	)
	retrieveDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "amanrag",
			Name:      "retrieve_duration_seconds",
			Help:      "End-to-end Retrieve latency in seconds.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 4, 8},
		},
	)
	pathTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanrag",
			Name:      "recall_path_total",
			Help:      "Recall path searches by path and outcome.",
		},
		[]string{"path", "status"},
	)
	pathDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amanrag",
			Name:      "recall_path_duration_seconds",
			Help:      "Recall path search latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"path"},
	)
	rerankCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanrag",
			Name:      "rerank_cache_total",
			Help:      "Rerank score cache lookups by result.",
		},
		[]string{"result"},
	)
	rerankDegraded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amanrag",
			Name:      "rerank_degraded_total",
			Help:      "Rerank passes where every scoring call failed.",
		},
	)
	transformFallback := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanrag",
			Name:      "transform_fallback_total",
			Help:      "Query transform operations that fell back to the input query.",
		},
		[]string{"op"},
	)

	registry.MustRegister(
		retrieveTotal,
		retrieveDuration,
		pathTotal,
		pathDuration,
		rerankCache,
		rerankDegraded,
		transformFallback,
	)

	return &Metrics{
		registry:          registry,
		retrieveTotal:     retrieveTotal,
		retrieveDuration:  retrieveDuration,
		pathTotal:         pathTotal,
		pathDuration:      pathDuration,
		rerankCache:       rerankCache,
		rerankDegraded:    rerankDegraded,
		transformFallback: transformFallback,
		recent:            NewCircularBuffer[RecentQuery](DefaultRecentSize),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRetrieve records one Retrieve call.
func (m *Metrics) ObserveRetrieve(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrieveTotal.WithLabelValues(status).Inc()
	m.retrieveDuration.Observe(d.Seconds())
}

// ObserveRecallPath records one path search for one query variant.
func (m *Metrics) ObserveRecallPath(path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.pathTotal.WithLabelValues(path, status).Inc()
	m.pathDuration.WithLabelValues(path).Observe(d.Seconds())
}

// ObserveRerankCache adds cache hits and misses from one rerank pass.
func (m *Metrics) ObserveRerankCache(hits, misses int) {
	if m == nil {
		return
	}
	if hits > 0 {
		m.rerankCache.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.rerankCache.WithLabelValues("miss").Add(float64(misses))
	}
}

// IncRerankDegraded counts a rerank pass that fell back to fused order.
func (m *Metrics) IncRerankDegraded() {
	if m == nil {
		return
	}
	m.rerankDegraded.Inc()
}

// IncTransformFallback counts a transform op ("expand" or "rewrite") that
// returned its input.
func (m *Metrics) IncTransformFallback(op string) {
	if m == nil {
		return
	}
	m.transformFallback.WithLabelValues(op).Inc()
}

// RecordProblem keeps q in the recent problem-query log.
func (m *Metrics) RecordProblem(q RecentQuery) {
	if m == nil {
		return
	}
	if q.At.IsZero() {
		q.At = time.Now()
	}
	m.recent.Add(q)
}

// RecentProblems returns logged problem queries, oldest first.
func (m *Metrics) RecentProblems() []RecentQuery {
	if m == nil {
		return nil
	}
	return m.recent.Items()
}
