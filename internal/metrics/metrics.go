// Package metrics provides Prometheus metrics for Openepo devices.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "openepo"
)

// Metrics contains all Prometheus metrics for a transmitter or receiver
// process.
type Metrics struct {
	// Pairing metrics (both roles).
	PairingsActive    prometheus.Gauge
	PairingsCompleted prometheus.Counter
	PairingTimeouts   prometheus.Counter
	PairingsUnpaired  prometheus.Counter

	// Session table metrics (receiver).
	SessionsActive prometheus.Gauge
	SessionsEvicted *prometheus.CounterVec

	// Reception metrics (receiver).
	FramesAccepted  *prometheus.CounterVec
	FramesRejected  *prometheus.CounterVec
	ReplaysDetected prometheus.Counter
	AuthFailures    prometheus.Counter
	ActsFired       *prometheus.CounterVec

	// Governor metrics (receiver).
	HoldOffsArmed    prometheus.Counter
	AdmissionDropped *prometheus.CounterVec

	// Transmission metrics (transmitter).
	FramesSent *prometheus.CounterVec
	ActsSent   *prometheus.CounterVec

	// Persistence metrics (both roles).
	PersistenceSaves  *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against
// prometheus.DefaultRegisterer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests and the demo CLI can avoid colliding on the global
// default registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PairingsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pairings_active",
			Help:      "Number of FSMs currently in the PAIRING state",
		}),
		PairingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_completed_total",
			Help:      "Total number of pairings completed via BOUND",
		}),
		PairingTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_timeouts_total",
			Help:      "Total number of PAIRING windows that expired unresolved",
		}),
		PairingsUnpaired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_unpaired_total",
			Help:      "Total number of explicit unpair/factory-reset transitions, as opposed to a PAIRING window timeout",
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of records currently in the receiver's session table",
		}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total session records removed, by reason",
		}, []string{"reason"}),

		FramesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_accepted_total",
			Help:      "Total frames that passed admission, auth, and replay checks, by message type",
		}, []string{"message_type"}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total frames rejected, by reason",
		}, []string{"reason"}),
		ReplaysDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_detected_total",
			Help:      "Total frames rejected for a non-increasing sequence number",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total frames rejected for AEAD authentication failure",
		}),
		ActsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acts_fired_total",
			Help:      "Total host Act callbacks fired, by interface type",
		}, []string{"interface"}),

		HoldOffsArmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_holdoffs_armed_total",
			Help:      "Total times the governor's post-error hold-off silence was armed",
		}),
		AdmissionDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_admission_dropped_total",
			Help:      "Total frames dropped by the per-type admission limiter, by message type",
		}, []string{"message_type"}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames emitted, by message type",
		}, []string{"message_type"}),
		ActsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acts_sent_total",
			Help:      "Total ACT frames emitted, by interface type",
		}, []string{"interface"}),

		PersistenceSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_saves_total",
			Help:      "Total successful at-rest state saves, by kind",
		}, []string{"kind"}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Total failed at-rest state operations, by kind",
		}, []string{"kind"}),
	}
}

// RecordPairingStart records entry into PAIRING.
func (m *Metrics) RecordPairingStart() {
	m.PairingsActive.Inc()
}

// RecordPairingComplete records a successful BOUND/adoption.
func (m *Metrics) RecordPairingComplete() {
	m.PairingsActive.Dec()
	m.PairingsCompleted.Inc()
}

// RecordPairingTimeout records a PAIRING window expiring unresolved.
func (m *Metrics) RecordPairingTimeout() {
	m.PairingsActive.Dec()
	m.PairingTimeouts.Inc()
}

// RecordPairingUnpaired records a host-initiated Unpair or FactoryReset,
// distinct from a PAIRING window timing out.
func (m *Metrics) RecordPairingUnpaired() {
	m.PairingsUnpaired.Inc()
}

// SetSessionsActive sets the current session table size.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// RecordSessionEvicted records a session record removal.
func (m *Metrics) RecordSessionEvicted(reason string) {
	m.SessionsEvicted.WithLabelValues(reason).Inc()
}

// RecordFrameAccepted records a frame that passed all checks.
func (m *Metrics) RecordFrameAccepted(messageType string) {
	m.FramesAccepted.WithLabelValues(messageType).Inc()
}

// RecordFrameRejected records a frame rejected for the given reason.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordReplay records a replay-defense rejection.
func (m *Metrics) RecordReplay() {
	m.ReplaysDetected.Inc()
	m.RecordFrameRejected("replay")
}

// RecordAuthFailure records an AEAD authentication failure.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
	m.RecordFrameRejected("auth_failure")
}

// RecordAct records a host Act callback firing.
func (m *Metrics) RecordAct(iface string) {
	m.ActsFired.WithLabelValues(iface).Inc()
}

// RecordHoldOffArmed records the governor's hold-off silence being armed.
func (m *Metrics) RecordHoldOffArmed() {
	m.HoldOffsArmed.Inc()
}

// RecordAdmissionDropped records a frame dropped by the admission limiter.
func (m *Metrics) RecordAdmissionDropped(messageType string) {
	m.AdmissionDropped.WithLabelValues(messageType).Inc()
}

// RecordFrameSent records a frame being emitted onto a bus.
func (m *Metrics) RecordFrameSent(messageType string) {
	m.FramesSent.WithLabelValues(messageType).Inc()
}

// RecordActSent records an ACT frame being emitted by a transmitter.
func (m *Metrics) RecordActSent(iface string) {
	m.ActsSent.WithLabelValues(iface).Inc()
}

// RecordPersistenceSave records a successful at-rest save.
func (m *Metrics) RecordPersistenceSave(kind string) {
	m.PersistenceSaves.WithLabelValues(kind).Inc()
}

// RecordPersistenceError records a failed at-rest operation.
func (m *Metrics) RecordPersistenceError(kind string) {
	m.PersistenceErrors.WithLabelValues(kind).Inc()
}
