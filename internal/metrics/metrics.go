// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdns_tunnel"

// Metrics groups the relay's collectors. A nil *Metrics is valid and records
// nothing, so components can be used without a registry.
type Metrics struct {
	registry prometheus.Gatherer

	FramesCaptured    prometheus.Counter
	FramesMatched     prometheus.Counter
	FramesEchoDropped prometheus.Counter
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	InjectErrors      prometheus.Counter
	PeersActive       prometheus.Gauge
	PeerSessions      prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Frames read from the link endpoint.",
		}),
		FramesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_matched_total",
			Help:      "Captured frames accepted by the domain filter.",
		}),
		FramesEchoDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_echo_dropped_total",
			Help:      "Captured frames dropped because this relay injected them.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to tunnel connections.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from tunnel connections.",
		}),
		InjectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inject_errors_total",
			Help:      "Failed injections onto the local link.",
		}),
		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_active",
			Help:      "Tunnel peer sessions currently relaying.",
		}),
		PeerSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_sessions_total",
			Help:      "Tunnel peer sessions started.",
		}),
	}
	reg.MustRegister(
		m.FramesCaptured,
		m.FramesMatched,
		m.FramesEchoDropped,
		m.FramesSent,
		m.FramesReceived,
		m.InjectErrors,
		m.PeersActive,
		m.PeerSessions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Captured() {
	if m != nil {
		m.FramesCaptured.Inc()
	}
}

func (m *Metrics) Matched() {
	if m != nil {
		m.FramesMatched.Inc()
	}
}

func (m *Metrics) EchoDropped() {
	if m != nil {
		m.FramesEchoDropped.Inc()
	}
}

func (m *Metrics) Sent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) Received() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) InjectFailed() {
	if m != nil {
		m.InjectErrors.Inc()
	}
}

// PeerStarted records a new session; the returned func marks it finished.
func (m *Metrics) PeerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.PeerSessions.Inc()
	m.PeersActive.Inc()
	return m.PeersActive.Dec
}
