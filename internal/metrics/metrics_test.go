package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SecurityEvent("login_failure", "high")
		m.SecurityEventDropped()
		m.SecurityEventFailed()
		m.IPLookup("cache")
		m.LoginDecision(true)
		m.PostCreated()
		m.StreamOpened()
		m.StreamClosed()
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.SecurityEvent("login_failure", "high")
	m.SecurityEvent("login_failure", "high")
	m.LoginDecision(false)
	m.PostCreated()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SecurityEvents.WithLabelValues("login_failure", "high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttempts.WithLabelValues("denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PostsCreated))
}

func TestHandler(t *testing.T) {
	m := New()
	m.PostCreated()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "postguard_posts_created_total 1")
}
