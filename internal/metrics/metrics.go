// Package metrics holds the Prometheus collectors shared by the bridge
// channels and the stream supervisor.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workerbridge"

// Request outcomes used as the outcome label.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeClosed    = "closed"
)

// Metrics groups the bridge collectors.
type Metrics struct {
	PendingRequests  prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec
	OpenStreams      prometheus.Gauge
	StreamEnvelopes  *prometheus.CounterVec
	StreamFailures   prometheus.Counter
	StreamReconnects prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "pending",
			Help:      "Number of actions awaiting a result from the worker host",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Round-trip duration of actions by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"action", "outcome"}),
		OpenStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "open",
			Help:      "Number of streams registered in the stream channel",
		}),
		StreamEnvelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "envelopes_total",
			Help:      "Stream envelopes received by type",
		}, []string{"type"}),
		StreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "failures_total",
			Help:      "Host-reported stream subscription failures",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "reconnects_total",
			Help:      "Successful supervised stream reconnects",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PendingRequests,
			m.RequestDuration,
			m.OpenStreams,
			m.StreamEnvelopes,
			m.StreamFailures,
			m.StreamReconnects,
		)
	}

	return m
}

// RequestStarted records a newly pending action.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}

	m.PendingRequests.Inc()
}

// RequestSettled records the end of an action round trip.
func (m *Metrics) RequestSettled(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.PendingRequests.Dec()
	m.RequestDuration.WithLabelValues(action, outcome).Observe(elapsed.Seconds())
}

// StreamOpened records a stream registration.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}

	m.OpenStreams.Inc()
}

// StreamRemoved records a stream deregistration.
func (m *Metrics) StreamRemoved() {
	if m == nil {
		return
	}

	m.OpenStreams.Dec()
}

// EnvelopeReceived counts an inbound envelope.
func (m *Metrics) EnvelopeReceived(envelopeType string) {
	if m == nil {
		return
	}

	m.StreamEnvelopes.WithLabelValues(envelopeType).Inc()
}

// StreamFailed counts a host-reported stream failure.
func (m *Metrics) StreamFailed() {
	if m == nil {
		return
	}

	m.StreamFailures.Inc()
}

// StreamReconnected counts a successful supervised reconnect.
func (m *Metrics) StreamReconnected() {
	if m == nil {
		return
	}

	m.StreamReconnects.Inc()
}
