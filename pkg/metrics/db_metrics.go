package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics for monitoring query performance and pool health
var (
	// Cassandra query metrics
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	CassandraQueryErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_error_total",
		Help: "Total number of Cassandra query errors",
	}, []string{"operation", "table", "error_type"})

	// CockroachDB connection pool metrics
	DBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_in_use",
		Help: "Current number of database connections in use",
	})

	DBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_idle",
		Help: "Current number of idle database connections",
	})

	DBConnectionAcquireTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_connection_acquire_timeout_total",
		Help: "Total number of connection acquire timeouts",
	})

	DBConnectionAcquireTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_connection_acquire_total",
		Help: "Total number of connection acquires",
	})

	DBConnectionAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_connection_acquire_duration_seconds",
		Help:    "Time spent acquiring a database connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// HTTP request timeout metrics
	RequestTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_request_timeout_total",
		Help: "Total number of HTTP requests that hit the handler timeout",
	}, []string{"method", "path"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_handler_duration_seconds",
		Help:    "HTTP handler duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path", "status"})

	requestsInFlight int64

	RequestsInFlight = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "http_handler_requests_in_flight",
		Help: "Current number of HTTP requests being handled",
	}, func() float64 {
		return float64(atomic.LoadInt64(&requestsInFlight))
	})
)

// RecordCassandraQueryDuration records the latency of a Cassandra query
func RecordCassandraQueryDuration(operation, table string, duration float64) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCassandraQuery records a completed Cassandra query
func RecordCassandraQuery(operation, table, status string) {
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordCassandraQueryError records a Cassandra query error by type
func RecordCassandraQueryError(operation, table, errorType string) {
	CassandraQueryErrorTotal.WithLabelValues(operation, table, errorType).Inc()
}

// RecordDBConnectionsInUse sets the in-use connection gauge
func RecordDBConnectionsInUse(count int) {
	DBConnectionsInUse.Set(float64(count))
}

// RecordDBConnectionsIdle sets the idle connection gauge
func RecordDBConnectionsIdle(count int) {
	DBConnectionsIdle.Set(float64(count))
}

// RecordDBConnectionAcquireTimeout increments the acquire-timeout counter
func RecordDBConnectionAcquireTimeout() {
	DBConnectionAcquireTimeoutTotal.Inc()
}

// RecordDBConnectionAcquire increments the acquire counter
func RecordDBConnectionAcquire() {
	DBConnectionAcquireTotal.Inc()
}

// RecordDBConnectionAcquireDuration records acquire latency
func RecordDBConnectionAcquireDuration(duration float64) {
	DBConnectionAcquireDuration.Observe(duration)
}

// RecordRequestTimeout records a handler timeout
func RecordRequestTimeout(timeout, duration time.Duration, method, path string) {
	RequestTimeoutTotal.WithLabelValues(method, path).Inc()
}

// RecordRequestDuration records handler latency
func RecordRequestDuration(duration time.Duration, method, path, status string) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight counter
func RecordRequestStart() {
	atomic.AddInt64(&requestsInFlight, 1)
}

// RecordRequestEnd decrements the in-flight counter
func RecordRequestEnd() {
	atomic.AddInt64(&requestsInFlight, -1)
}
