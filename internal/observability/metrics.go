package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentfacts/expense-compliance/internal/compliance"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Scoring metrics
	RunsTotal           prometheus.Counter
	RunDuration         prometheus.Histogram
	VerdictsTotal       *prometheus.CounterVec
	RuleViolationsTotal *prometheus.CounterVec

	// Normalization metrics
	NormalizationsTotal *prometheus.CounterVec

	// Workspace metrics
	ActiveWorkspaces prometheus.Gauge
	WorkspacesTotal  prometheus.Counter

	// Audit metrics
	AuditRecordsWritten prometheus.Counter
	AuditRecordsDropped prometheus.Counter
	AuditFlushes        prometheus.Counter
	AuditFlushDuration  prometheus.Histogram
}

// NewMetrics creates all metrics on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "expense_compliance"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of API requests currently being processed",
			},
		),

		RunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of scoring runs",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Scoring run duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Total transaction verdicts by outcome",
			},
			[]string{"compliant"},
		),
		RuleViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_violations_total",
				Help:      "Total violations by rule label",
			},
			[]string{"rule"},
		),

		NormalizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalizations_total",
				Help:      "Total normalization attempts by recognized shape",
			},
			[]string{"shape"},
		),

		ActiveWorkspaces: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workspaces_active",
				Help:      "Number of live workspaces",
			},
		),
		WorkspacesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workspaces_total",
				Help:      "Total number of workspaces created",
			},
		),

		AuditRecordsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_written_total",
				Help:      "Total verdict records written to storage",
			},
		),
		AuditRecordsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_dropped_total",
				Help:      "Total verdict records dropped due to errors",
			},
		),
		AuditFlushes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_flushes_total",
				Help:      "Total number of audit buffer flushes",
			},
		),
		AuditFlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audit_flush_duration_seconds",
				Help:      "Audit batch insert duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records metrics for a processed API request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRun records a completed scoring run.
func (m *Metrics) ObserveRun(s compliance.RunSummary) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(s.Duration.Seconds())
	m.VerdictsTotal.WithLabelValues("false").Add(float64(s.Violations))
	m.VerdictsTotal.WithLabelValues("true").Add(float64(s.Transactions - s.Violations))
	for rule, n := range s.RuleViolations {
		m.RuleViolationsTotal.WithLabelValues(rule).Add(float64(n))
	}
}

// RecordNormalization records the shape a response was recognized as, or
// "failed".
func (m *Metrics) RecordNormalization(shape string) {
	m.NormalizationsTotal.WithLabelValues(shape).Inc()
}

// RecordWorkspaceCreated records a new workspace and the live count.
func (m *Metrics) RecordWorkspaceCreated(active int) {
	m.WorkspacesTotal.Inc()
	m.ActiveWorkspaces.Set(float64(active))
}

// SetActiveWorkspaces updates the live workspace gauge.
func (m *Metrics) SetActiveWorkspaces(active int) {
	m.ActiveWorkspaces.Set(float64(active))
}

// ObserveFlush records the outcome of an audit flush.
func (m *Metrics) ObserveFlush(written, dropped int, duration time.Duration) {
	if written > 0 {
		m.AuditRecordsWritten.Add(float64(written))
		m.AuditFlushes.Inc()
	}
	if dropped > 0 {
		m.AuditRecordsDropped.Add(float64(dropped))
	}
	// Buffer overflow drops report no duration.
	if duration > 0 {
		m.AuditFlushDuration.Observe(duration.Seconds())
	}
}
