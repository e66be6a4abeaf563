// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postguard"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SecurityEvents        *prometheus.CounterVec
	SecurityEventsDropped prometheus.Counter
	SecurityEventFailures prometheus.Counter
	IPLookups             *prometheus.CounterVec
	LoginAttempts         *prometheus.CounterVec
	PostsCreated          prometheus.Counter
	PostStreams           prometheus.Gauge
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SecurityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events recorded, by type and severity",
		}, []string{"event_type", "severity"}),
		SecurityEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_dropped_total",
			Help:      "Security events dropped because the write queue was full",
		}),
		SecurityEventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_event_write_failures_total",
			Help:      "Security events that could not be persisted",
		}),
		IPLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_lookups_total",
			Help:      "Public IP lookups by result (cache, remote, throttled, error)",
		}, []string{"result"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_rate_limit_decisions_total",
			Help:      "Login rate limiter decisions",
		}, []string{"decision"}),
		PostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Posts created",
		}),
		PostStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "post_streams_active",
			Help:      "Open live post streams",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SecurityEvents,
		m.SecurityEventsDropped,
		m.SecurityEventFailures,
		m.IPLookups,
		m.LoginAttempts,
		m.PostsCreated,
		m.PostStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SecurityEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.SecurityEvents.WithLabelValues(eventType, severity).Inc()
}

func (m *Metrics) SecurityEventDropped() {
	if m == nil {
		return
	}
	m.SecurityEventsDropped.Inc()
}

func (m *Metrics) SecurityEventFailed() {
	if m == nil {
		return
	}
	m.SecurityEventFailures.Inc()
}

func (m *Metrics) IPLookup(result string) {
	if m == nil {
		return
	}
	m.IPLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) LoginDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.LoginAttempts.WithLabelValues(decision).Inc()
}

func (m *Metrics) PostCreated() {
	if m == nil {
		return
	}
	m.PostsCreated.Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.PostStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.PostStreams.Dec()
}
