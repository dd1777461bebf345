// Package observability provides the Prometheus metrics recorded by the
// authentication subsystem and the handler that exposes them.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes used as the "outcome" label on the login counter.
const (
	LoginVerified          = "verified"
	LoginUnknownIdentifier = "unknown_identifier"
	LoginWrongPassword     = "wrong_password"
	LoginError             = "error"
)

// Metrics contains the custom Prometheus metrics for HoraCité. All record
// methods are safe on a nil receiver so tests and tools can pass nil.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	HashDuration    *prometheus.HistogramVec
	AuditWrites     *prometheus.CounterVec
	AuditDropped    prometheus.Counter
	PasswordChanges *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the custom metrics on a private registry together with
// the standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horacite_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horacite_password_hash_duration_seconds",
				Help:    "Latency of password hash and verify operations in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		AuditWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horacite_audit_writes_total",
				Help: "Total number of audit entry writes by result",
			},
			[]string{"result"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "horacite_audit_dropped_total",
				Help: "Total number of audit entries dropped because the buffer was full",
			},
		),
		PasswordChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horacite_password_changes_total",
				Help: "Total number of password change attempts by result",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.LoginAttempts, m.HashDuration, m.AuditWrites, m.AuditDropped, m.PasswordChanges)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// ObserveHash records how long a hash or verify call took.
func (m *Metrics) ObserveHash(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAuditWrite counts an audit insert; ok is false when the insert failed.
func (m *Metrics) RecordAuditWrite(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AuditWrites.WithLabelValues(result).Inc()
}

// RecordAuditDropped counts an entry discarded on a full buffer.
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// RecordPasswordChange counts a password change attempt by result
// ("changed", "rejected", "conflict").
func (m *Metrics) RecordPasswordChange(result string) {
	if m == nil {
		return
	}
	m.PasswordChanges.WithLabelValues(result).Inc()
}
