package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the entity store
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	// Query metrics
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryResultSize prometheus.Histogram

	// Store metrics
	writesTotal   *prometheus.CounterVec
	writeDuration prometheus.Histogram
	storeErrors   *prometheus.CounterVec
	indexEntries  *prometheus.CounterVec

	// Cache metrics
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheInvalidations *prometheus.CounterVec

	// Schema metrics
	entityTypes prometheus.Gauge
	indexes     prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "entitydb",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "entitydb",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests being served",
		}),

		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "query",
				Name:      "executions_total",
				Help:      "Total number of executed queries",
			},
			[]string{"entity", "kind", "status"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "entitydb",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Query execution latency",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"entity", "kind"},
		),
		queryResultSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "entitydb",
			Subsystem: "query",
			Name:      "result_entities",
			Help:      "Number of entities returned per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		writesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Total number of entity writes",
			},
			[]string{"entity", "operation"},
		),
		writeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "entitydb",
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Entity write transaction latency",
			Buckets:   prometheus.DefBuckets,
		}),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of failed operations by error code",
			},
			[]string{"operation", "code"},
		),
		indexEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "store",
				Name:      "index_entries_written_total",
				Help:      "Total number of index entries written",
			},
			[]string{"entity", "index"},
		),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "entitydb",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of query cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "entitydb",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of query cache misses",
		}),
		cacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitydb",
				Subsystem: "cache",
				Name:      "invalidations_total",
				Help:      "Total number of cache generation bumps",
			},
			[]string{"entity"},
		),

		entityTypes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "entitydb",
			Subsystem: "schema",
			Name:      "entity_types",
			Help:      "Number of registered entity types",
		}),
		indexes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "entitydb",
			Subsystem: "schema",
			Name:      "indexes",
			Help:      "Number of registered secondary indexes",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordQuery records a query or count execution.
func (m *Metrics) RecordQuery(entity, kind string, err error, duration time.Duration, size int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queriesTotal.WithLabelValues(entity, kind, status).Inc()
	m.queryDuration.WithLabelValues(entity, kind).Observe(duration.Seconds())
	if err == nil && kind == "query" {
		m.queryResultSize.Observe(float64(size))
	}
}

// RecordWrite records a committed save or delete.
func (m *Metrics) RecordWrite(entity, operation string, duration time.Duration) {
	m.writesTotal.WithLabelValues(entity, operation).Inc()
	m.writeDuration.Observe(duration.Seconds())
}

// RecordError records a failed operation by error code.
func (m *Metrics) RecordError(operation string, code int) {
	m.storeErrors.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}

// RecordIndexEntries counts index entries written for one index.
func (m *Metrics) RecordIndexEntries(entity, index string, n int) {
	m.indexEntries.WithLabelValues(entity, index).Add(float64(n))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

// RecordCacheInvalidation records a generation bump of an entity type.
func (m *Metrics) RecordCacheInvalidation(entity string) {
	m.cacheInvalidations.WithLabelValues(entity).Inc()
}

// UpdateSchemaStats sets the schema gauges.
func (m *Metrics) UpdateSchemaStats(entityTypes, indexes int) {
	m.entityTypes.Set(float64(entityTypes))
	m.indexes.Set(float64(indexes))
}
