package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.PairingsActive == nil {
		t.Error("PairingsActive metric is nil")
	}
	if m.FramesAccepted == nil {
		t.Error("FramesAccepted metric is nil")
	}
	if m.ActsFired == nil {
		t.Error("ActsFired metric is nil")
	}
}

func TestRecordPairingLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPairingStart()
	m.RecordPairingStart()
	if got := testutil.ToFloat64(m.PairingsActive); got != 2 {
		t.Errorf("PairingsActive = %v, want 2", got)
	}

	m.RecordPairingComplete()
	if got := testutil.ToFloat64(m.PairingsActive); got != 1 {
		t.Errorf("PairingsActive after complete = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PairingsCompleted); got != 1 {
		t.Errorf("PairingsCompleted = %v, want 1", got)
	}

	m.RecordPairingTimeout()
	if got := testutil.ToFloat64(m.PairingsActive); got != 0 {
		t.Errorf("PairingsActive after timeout = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.PairingTimeouts); got != 1 {
		t.Errorf("PairingTimeouts = %v, want 1", got)
	}
}

func TestRecordReplayAndAuthFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordReplay()
	m.RecordAuthFailure()

	if got := testutil.ToFloat64(m.ReplaysDetected); got != 1 {
		t.Errorf("ReplaysDetected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuthFailures); got != 1 {
		t.Errorf("AuthFailures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FramesRejected.WithLabelValues("replay")); got != 1 {
		t.Errorf("FramesRejected{replay} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FramesRejected.WithLabelValues("auth_failure")); got != 1 {
		t.Errorf("FramesRejected{auth_failure} = %v, want 1", got)
	}
}

func TestRecordActFiredAndSent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordAct("BUTTON_ACT")
	m.RecordActSent("BUTTON_ACT")

	if got := testutil.ToFloat64(m.ActsFired.WithLabelValues("BUTTON_ACT")); got != 1 {
		t.Errorf("ActsFired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActsSent.WithLabelValues("BUTTON_ACT")); got != 1 {
		t.Errorf("ActsSent = %v, want 1", got)
	}
}

func TestSetSessionsActiveAndEviction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetSessionsActive(3)
	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("SessionsActive = %v, want 3", got)
	}

	m.RecordSessionEvicted("unbind")
	if got := testutil.ToFloat64(m.SessionsEvicted.WithLabelValues("unbind")); got != 1 {
		t.Errorf("SessionsEvicted{unbind} = %v, want 1", got)
	}
}

func TestRecordGovernorHoldOffAndAdmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHoldOffArmed()
	m.RecordAdmissionDropped("ACT")

	if got := testutil.ToFloat64(m.HoldOffsArmed); got != 1 {
		t.Errorf("HoldOffsArmed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AdmissionDropped.WithLabelValues("ACT")); got != 1 {
		t.Errorf("AdmissionDropped{ACT} = %v, want 1", got)
	}
}

func TestRecordPersistence(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPersistenceSave("sessions")
	m.RecordPersistenceError("transmitter")

	if got := testutil.ToFloat64(m.PersistenceSaves.WithLabelValues("sessions")); got != 1 {
		t.Errorf("PersistenceSaves{sessions} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PersistenceErrors.WithLabelValues("transmitter")); got != 1 {
		t.Errorf("PersistenceErrors{transmitter} = %v, want 1", got)
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m == nil {
		t.Fatal("Default returned nil")
	}
	if Default() != m {
		t.Error("Default returned different instances across calls")
	}
}
