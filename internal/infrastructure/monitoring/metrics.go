package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons
const (
	DropInvalid   = "invalid"
	DropNoHandler = "no_handler"
	DropClosing   = "closing"
)

// Failure outcomes
const (
	FailureHandled   = "handled"
	FailureEscalated = "escalated"
)

// Metrics holds all Prometheus metrics for one worker
type Metrics struct {
	registry *prometheus.Registry

	// Channel metrics
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec

	// Script metrics
	Failures *prometheus.CounterVec
	Imports  *prometheus.CounterVec

	// Lifecycle metrics
	State  prometheus.Gauge
	Uptime prometheus.GaugeFunc

	// HTTP metrics for the metrics endpoint itself
	RequestsTotal *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values
type Snapshot struct {
	Received  int64  `json:"received"`
	Sent      int64  `json:"sent"`
	Dropped   int64  `json:"dropped"`
	Failures  int64  `json:"failures"`
	Escalated int64  `json:"escalated"`
	State     string `json:"state"`
}

// NewMetrics creates a metrics collector registered on reg.
// A nil reg gets a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_messages_received_total",
				Help: "Total number of frames received from the parent",
			},
			[]string{"type"},
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_messages_sent_total",
				Help: "Total number of frames sent to the parent",
			},
			[]string{"type"},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_messages_dropped_total",
				Help: "Total number of inbound messages discarded",
			},
			[]string{"reason"},
		),

		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_script_failures_total",
				Help: "Total number of uncaught script failures",
			},
			[]string{"outcome"},
		),
		Imports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_script_imports_total",
				Help: "Total number of importScripts loads",
			},
			[]string{"status"},
		),

		State: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "worker_state",
				Help: "Current lifecycle state (0 connecting, 1 running, 2 closing, 3 terminated)",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_http_requests_total",
				Help: "Total number of requests to the metrics endpoint",
			},
			[]string{"method", "path", "status"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "worker_uptime_seconds",
			Help: "Worker uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordReceived records an inbound frame
func (m *Metrics) RecordReceived(msgType string) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
	m.mu.Lock()
	m.snapshot.Received++
	m.mu.Unlock()
}

// RecordSent records an outbound frame
func (m *Metrics) RecordSent(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.mu.Lock()
	m.snapshot.Sent++
	m.mu.Unlock()
}

// RecordDropped records a discarded inbound message
func (m *Metrics) RecordDropped(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.Dropped++
	m.mu.Unlock()
}

// RecordFailure records an uncaught script failure and how it ended
func (m *Metrics) RecordFailure(outcome string) {
	m.Failures.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.Failures++
	if outcome == FailureEscalated {
		m.snapshot.Escalated++
	}
	m.mu.Unlock()
}

// RecordImport records an importScripts load
func (m *Metrics) RecordImport(status string) {
	m.Imports.WithLabelValues(status).Inc()
}

// SetState records the current lifecycle state
func (m *Metrics) SetState(value int, name string) {
	m.State.Set(float64(value))
	m.mu.Lock()
	m.snapshot.State = name
	m.mu.Unlock()
}

// RecordHTTPRequest records a request to the metrics endpoint
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// Snapshot returns a copy of the current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
