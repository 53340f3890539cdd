package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the reconciler's prometheus collectors
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerCalls        *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec
	LedgerRetries      *prometheus.CounterVec
	BreakerState       prometheus.Gauge

	// Reconciliation metrics
	RecordOutcomes *prometheus.CounterVec
	MalformedRows  prometheus.Counter
	RepairActions  *prometheus.CounterVec

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaEventsConsumed  *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "vcs_reconciler",
	}
}

// New creates a new Metrics instance on a private registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	m.LedgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "ledger_calls_total",
			Help:      "Total number of ledger service calls by operation and result",
		},
		[]string{"service", "operation", "result"},
	)

	m.LedgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "ledger_call_duration_seconds",
			Help:      "Ledger service call duration in seconds, rate limit wait excluded",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)

	m.LedgerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "ledger_retries_total",
			Help:      "Total number of retried ledger calls",
		},
		[]string{"service", "operation"},
	)

	m.BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "ledger_circuit_breaker_state",
			Help:        "Ledger circuit breaker state (0=closed, 1=half-open, 2=open)",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.RecordOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "record_outcomes_total",
			Help:      "Total number of processed VCS order records by resulting status",
		},
		[]string{"service", "status", "reason"},
	)

	m.MalformedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "malformed_rows_total",
			Help:        "Total number of report rows dropped as malformed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.RepairActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "repair_actions_total",
			Help:      "Total number of repair actions emitted by the sweeper",
		},
		[]string{"service", "kind"},
	)

	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "kafka_events_published_total",
			Help:      "Total number of Kafka events published",
		},
		[]string{"service", "topic", "status"},
	)

	m.KafkaEventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "kafka_events_consumed_total",
			Help:      "Total number of Kafka events consumed",
		},
		[]string{"service", "topic", "status"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LedgerCalls,
		m.LedgerCallDuration,
		m.LedgerRetries,
		m.BreakerState,
		m.RecordOutcomes,
		m.MalformedRows,
		m.RepairActions,
		m.KafkaEventsPublished,
		m.KafkaEventsConsumed,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// RecordLedgerCall records one ledger call attempt
func (m *Metrics) RecordLedgerCall(operation, result string, duration time.Duration) {
	m.LedgerCalls.WithLabelValues(m.serviceName, operation, result).Inc()
	m.LedgerCallDuration.WithLabelValues(m.serviceName, operation).Observe(duration.Seconds())
}

// RecordLedgerRetry records a retried ledger call
func (m *Metrics) RecordLedgerRetry(operation string) {
	m.LedgerRetries.WithLabelValues(m.serviceName, operation).Inc()
}

// SetBreakerState publishes the breaker state (0=closed, 1=half-open, 2=open)
func (m *Metrics) SetBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// RecordOutcome records the status a record ended a processing pass in
func (m *Metrics) RecordOutcome(status, reason string) {
	m.RecordOutcomes.WithLabelValues(m.serviceName, status, reason).Inc()
}

// AddMalformedRows records dropped report rows
func (m *Metrics) AddMalformedRows(n int) {
	m.MalformedRows.Add(float64(n))
}

// RecordRepairAction records one sweeper repair action
func (m *Metrics) RecordRepairAction(kind string) {
	m.RepairActions.WithLabelValues(m.serviceName, kind).Inc()
}

// RecordKafkaPublish records a Kafka publish
func (m *Metrics) RecordKafkaPublish(topic string, success bool) {
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, resultLabel(success)).Inc()
}

// RecordKafkaConsume records a consumed Kafka message
func (m *Metrics) RecordKafkaConsume(topic string, success bool) {
	m.KafkaEventsConsumed.WithLabelValues(m.serviceName, topic, resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
