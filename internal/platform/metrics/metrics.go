// Package metrics exposes Prometheus metrics for the clinic API.
package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	PolicyDecisions  *prometheus.CounterVec
	RecordOperations *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsFailed     *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
}

// New creates and registers all metrics, including Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Resource-level authorization decisions",
		}, []string{"entity", "action", "role", "decision"}),
		RecordOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_operations_total",
			Help:      "Successful writes to appointments, consultations and prescriptions",
		}, []string{"entity", "operation"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events delivered to the broker",
		}, []string{"type"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Domain events that could not be delivered",
		}, []string{"type"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.PolicyDecisions,
		m.RecordOperations,
		m.EventsPublished,
		m.EventsFailed,
		m.BreakerState,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePolicyDecision counts one resource-level authorization decision.
func (m *Metrics) ObservePolicyDecision(entity, action, role string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.PolicyDecisions.WithLabelValues(entity, action, role, decision).Inc()
}

// ObserveRecord counts a successful create, update or delete.
func (m *Metrics) ObserveRecord(entity, operation string) {
	m.RecordOperations.WithLabelValues(entity, operation).Inc()
}

// RecordObserver counts domain mutations. *Metrics implements it.
type RecordObserver interface {
	ObserveRecord(entity, operation string)
}

type discard struct{}

func (discard) ObserveRecord(string, string) {}

// Discard is a RecordObserver that counts nothing.
var Discard RecordObserver = discard{}

// RegisterPool exports pgx pool gauges read at scrape time.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	m.registry.MustRegister(
		gauge("total_conns", "Open connections", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("idle_conns", "Idle connections", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("acquired_conns", "Connections in use", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("max_conns", "Configured maximum", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	)
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
