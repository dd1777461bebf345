package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordLogin(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.RecordLogin(LoginVerified)
	m.RecordLogin(LoginWrongPassword)
	m.RecordLogin(LoginWrongPassword)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(LoginVerified)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(LoginWrongPassword)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(LoginUnknownIdentifier)))
}

func TestMetrics_AuditCounters(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.RecordAuditWrite(true)
	m.RecordAuditWrite(false)
	m.RecordAuditDropped()
	m.RecordAuditDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWrites.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuditDropped))
}

func TestMetrics_ObserveHash(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())
	m.ObserveHash("verify", 40*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.HashDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogin(LoginVerified)
		m.ObserveHash("hash", time.Millisecond)
		m.RecordAuditWrite(true)
		m.RecordAuditDropped()
		m.RecordPasswordChange("changed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordLogin(LoginVerified)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "horacite_login_attempts_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
