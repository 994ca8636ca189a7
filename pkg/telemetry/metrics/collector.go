// Package metrics exposes the proxy's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay directions, used as metric label values.
const (
	DirectionClientToBackend = "client_to_backend"
	DirectionBackendToClient = "backend_to_client"
)

// Collector owns the proxy's metric families. All recording methods are safe
// on a nil receiver, so metrics stay optional throughout the proxy.
type Collector struct {
	registry *prometheus.Registry

	sessionsTotal  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	chunksTotal    *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	backendLeased  *prometheus.GaugeVec
	backendHealthy *prometheus.GaugeVec
	fallbacksTotal prometheus.Counter
	rewritesTotal  prometheus.Counter
}

// NewCollector creates a collector and registers its metric families with
// registry (a fresh registry when nil).
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_sessions_total",
			Help: "Completed sessions by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_active_sessions",
			Help: "Sessions currently open.",
		}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_audio_chunks_total",
			Help: "Relayed audio chunk events by direction.",
		}, []string{"direction"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_relay_bytes_total",
			Help: "Relayed payload bytes by direction.",
		}, []string{"direction"}),
		backendLeased: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kestrel_backend_leased",
			Help: "Currently leased connections per backend.",
		}, []string{"backend"}),
		backendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kestrel_backend_healthy",
			Help: "Whether the backend is outside its backoff window (1/0).",
		}, []string{"backend"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_route_fallbacks_total",
			Help: "Candidates skipped because a backend was unavailable.",
		}),
		rewritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_rewrites_total",
			Help: "Transcript events altered by the rewrite engine.",
		}),
	}

	registry.MustRegister(
		c.sessionsTotal,
		c.activeSessions,
		c.chunksTotal,
		c.bytesTotal,
		c.backendLeased,
		c.backendHealthy,
		c.fallbacksTotal,
		c.rewritesTotal,
	)
	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SessionOpened bumps the active-session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionClosed records a completed session with its outcome label.
func (c *Collector) SessionClosed(outcome string) {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
	c.sessionsTotal.WithLabelValues(outcome).Inc()
}

// ChunkRelayed records one relayed audio chunk and its payload size.
func (c *Collector) ChunkRelayed(direction string, payloadBytes int) {
	if c == nil {
		return
	}
	c.chunksTotal.WithLabelValues(direction).Inc()
	c.bytesTotal.WithLabelValues(direction).Add(float64(payloadBytes))
}

// FallbackTried records a routing candidate skipped for the next one.
func (c *Collector) FallbackTried() {
	if c == nil {
		return
	}
	c.fallbacksTotal.Inc()
}

// TranscriptRewritten records one altered transcript.
func (c *Collector) TranscriptRewritten() {
	if c == nil {
		return
	}
	c.rewritesTotal.Inc()
}

// SetBackendLeased updates the per-backend leased gauge.
func (c *Collector) SetBackendLeased(backend string, leased int) {
	if c == nil {
		return
	}
	c.backendLeased.WithLabelValues(backend).Set(float64(leased))
}

// SetBackendHealthy updates the per-backend health gauge.
func (c *Collector) SetBackendHealthy(backend string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealthy.WithLabelValues(backend).Set(v)
}
