// Package metrics exposes Prometheus instrumentation for backend requests,
// reloads and the session. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "octopus"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reloads         *prometheus.CounterVec
	reloadDuration  *prometheus.HistogramVec
	session         prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Backend requests by domain, method and status code (0 = no response).",
		}, []string{"domain", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain", "method"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "reloads_total",
			Help:      "Settled reloads by domain and outcome.",
		}, []string{"domain", "outcome"}),
		reloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "reload_duration_seconds",
			Help:      "Time from reload start to settlement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		session: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while a session token is held.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.reloads, m.reloadDuration, m.session,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one backend call.
func (m *Metrics) ObserveRequest(domain, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(domain, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(domain, method).Observe(d.Seconds())
}

// ObserveReload records a settled reload. Outcome is ready, failed,
// reauth or superseded.
func (m *Metrics) ObserveReload(domain, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(domain, outcome).Inc()
	m.reloadDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// SetAuthenticated updates the session gauge.
func (m *Metrics) SetAuthenticated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.session.Set(1)
	} else {
		m.session.Set(0)
	}
}

// Registry returns the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
