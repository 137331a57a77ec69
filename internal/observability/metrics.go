package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds the Prometheus metrics for the object store: database
// query cost, apply-pipeline throughput and the two lazy-filled caches.
type Metrics struct {
	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	applyRequestsTotal   *prometheus.CounterVec
	applyObjectsTotal    prometheus.Counter
	applyDuration        prometheus.Histogram
	applyRelationsTotal  *prometheus.CounterVec
	cacheFillsTotal      *prometheus.CounterVec
	cacheHitsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = createMetrics()
	})
	return metricsInstance
}

func createMetrics() *Metrics {
	m := &Metrics{
		dbQueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnstore_db_queries_total",
			Help: "Total number of database queries executed, by operation, table and outcome",
		}, []string{"operation", "table", "status"}),

		dbQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dawnstore_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "table"}),

		applyRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnstore_apply_requests_total",
			Help: "Total number of apply_raw transactions attempted after validation, by outcome",
		}, []string{"status"}),

		applyObjectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dawnstore_apply_objects_total",
			Help: "Total number of objects upserted across all apply calls",
		}),

		applyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dawnstore_apply_duration_seconds",
			Help:    "Duration of the apply_raw transaction, end to end",
			Buckets: prometheus.DefBuckets,
		}),

		applyRelationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnstore_apply_relations_total",
			Help: "Total number of relation edges inserted or deleted during reconciliation",
		}, []string{"action"}),

		cacheFillsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnstore_cache_fills_total",
			Help: "Total number of cache misses that triggered a fill, by cache",
		}, []string{"cache"}),

		cacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnstore_cache_hits_total",
			Help: "Total number of cache lookups served without a fill, by cache",
		}, []string{"cache"}),
	}

	return m
}

// RecordDBQuery records the outcome and latency of a single database call.
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordApply records one apply_raw transaction attempt. Objects are
// counted only when the transaction succeeded.
func (m *Metrics) RecordApply(objectCount int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.applyRequestsTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.applyObjectsTotal.Add(float64(objectCount))
	}
	m.applyDuration.Observe(duration.Seconds())
}

// RecordRelationsInserted records the number of relation edges inserted
// during reconciliation.
func (m *Metrics) RecordRelationsInserted(count int) {
	m.applyRelationsTotal.WithLabelValues("insert").Add(float64(count))
}

// RecordRelationsDeleted records the number of stale relation edges
// removed during reconciliation.
func (m *Metrics) RecordRelationsDeleted(count int) {
	m.applyRelationsTotal.WithLabelValues("delete").Add(float64(count))
}

// RecordCacheFill records a cache miss that triggered a loader call.
func (m *Metrics) RecordCacheFill(cache string) {
	m.cacheFillsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheHit records a cache lookup that was served without a fill.
func (m *Metrics) RecordCacheHit(cache string) {
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

// MetricsServer exposes the Prometheus registry on its own listener,
// independent of the apply/query HTTP surface.
type MetricsServer struct {
	server *http.Server
	port   int
	path   string
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string) *MetricsServer {
	return &MetricsServer{port: port, path: path}
}

// Start starts the metrics server on the configured port.
func (ms *MetricsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle(ms.path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", ms.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	log.Info().Int("port", ms.port).Str("path", ms.path).Msg("Starting Prometheus metrics server")

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	if ms.server == nil {
		return nil
	}
	log.Info().Msg("Shutting down metrics server")
	return ms.server.Shutdown(ctx)
}
