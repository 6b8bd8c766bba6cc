// File: internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the ledger sync service
type PrometheusMetrics struct {
	// Write path metrics
	SubmissionsTotal      *prometheus.CounterVec
	SubmissionDuration    *prometheus.HistogramVec
	StaleSequenceRetries  *prometheus.CounterVec
	MirrorWritesTotal     *prometheus.CounterVec
	MirrorInconsistencies *prometheus.CounterVec

	// Read path metrics
	LedgerQueriesTotal *prometheus.CounterVec

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	AlertsSentTotal    *prometheus.CounterVec
	AlertFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_submissions_total",
				Help: "Total number of ledger write submissions",
			},
			[]string{"method", "status"},
		),

		SubmissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medchain_submission_duration_seconds",
				Help:    "Time from lock acquisition to committed receipt",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"method"},
		),

		StaleSequenceRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_stale_sequence_retries_total",
				Help: "Submissions retried after the ledger reported a stale sequence number",
			},
			[]string{"method"},
		),

		MirrorWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_mirror_writes_total",
				Help: "Mirror records written for committed ledger writes",
			},
			[]string{"action", "status"},
		),

		MirrorInconsistencies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_mirror_inconsistencies_total",
				Help: "Committed ledger writes the mirror failed to record",
			},
			[]string{"action"},
		),

		LedgerQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_ledger_queries_total",
				Help: "Ledger-sourced read queries",
			},
			[]string{"query", "status"},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_connection_errors_total",
				Help: "Total number of connection errors to ledger nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_rpc_requests_total",
				Help: "Total number of RPC requests made to ledger nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medchain_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to ledger nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_database_operations_total",
				Help: "Total number of mirror database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medchain_database_operation_duration_seconds",
				Help:    "Duration of mirror database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		AlertsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_alerts_sent_total",
				Help: "Operator alerts delivered",
			},
			[]string{"channel"},
		),

		AlertFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_alert_failures_total",
				Help: "Operator alerts that could not be delivered",
			},
			[]string{"channel"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medchain_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medchain_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "medchain_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "medchain_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "medchain_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "medchain_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordSubmission records the outcome of a ledger write
func (m *PrometheusMetrics) RecordSubmission(method, status string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(method, status).Inc()
	m.SubmissionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStaleSequenceRetry records a retry caused by a stale sequence number
func (m *PrometheusMetrics) RecordStaleSequenceRetry(method string) {
	m.StaleSequenceRetries.WithLabelValues(method).Inc()
}

// RecordMirrorWrite records a mirror write outcome
func (m *PrometheusMetrics) RecordMirrorWrite(action, status string) {
	m.MirrorWritesTotal.WithLabelValues(action, status).Inc()
}

// RecordMirrorInconsistency records a committed write missing from the mirror
func (m *PrometheusMetrics) RecordMirrorInconsistency(action string) {
	m.MirrorInconsistencies.WithLabelValues(action).Inc()
}

// RecordLedgerQuery records a ledger-sourced read
func (m *PrometheusMetrics) RecordLedgerQuery(query, status string) {
	m.LedgerQueriesTotal.WithLabelValues(query, status).Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordAlert records an operator alert delivery attempt
func (m *PrometheusMetrics) RecordAlert(channel string, err error) {
	if err != nil {
		m.AlertFailuresTotal.WithLabelValues(channel).Inc()
		return
	}
	m.AlertsSentTotal.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
