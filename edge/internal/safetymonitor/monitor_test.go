package safetymonitor

import (
	"testing"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/shared/safety"
	"github.com/skylinkc2/skylink/shared/wire"
)

func newTestMonitor() *Monitor {
	return New(zap.NewNop())
}

func TestNewMonitorStartsIdle(t *testing.T) {
	m := newTestMonitor()
	if got := m.CurrentState(); got != safety.StateIdle {
		t.Fatalf("CurrentState() = %v, want Idle", got)
	}
	if got := m.CurrentWireState(); got != wire.DroneStateIdle {
		t.Fatalf("CurrentWireState() = %v, want DroneStateIdle", got)
	}
	if !m.Healthy() {
		t.Fatalf("a freshly created monitor should report Healthy")
	}
}

func TestApplyTransitionsState(t *testing.T) {
	m := newTestMonitor()

	result := m.Apply(safety.EventPreflightComplete)
	if result.Kind != safety.ResultTransitioned {
		t.Fatalf("Apply(PreflightComplete) kind = %v, want Transitioned", result.Kind)
	}
	if got := m.CurrentState(); got != safety.StatePreflight {
		t.Fatalf("CurrentState() = %v, want Preflight", got)
	}

	// An event with no entry from the current state leaves state unchanged.
	result = m.Apply(safety.EventMissionComplete)
	if result.Kind != safety.ResultInvalid {
		t.Fatalf("Apply(MissionComplete) from Preflight kind = %v, want Invalid", result.Kind)
	}
	if got := m.CurrentState(); got != safety.StatePreflight {
		t.Fatalf("CurrentState() after invalid event = %v, want unchanged Preflight", got)
	}
}

func TestApplyPublishesToActions(t *testing.T) {
	m := newTestMonitor()
	m.Apply(safety.EventPreflightComplete)

	select {
	case result := <-m.Actions():
		if result.To != safety.StatePreflight {
			t.Fatalf("published result.To = %v, want Preflight", result.To)
		}
	default:
		t.Fatalf("expected a TransitionResult on Actions()")
	}
}

func TestHealthyReflectsBatteryAndHostHealth(t *testing.T) {
	m := newTestMonitor()

	m.RecordBattery(safety.BatteryCriticalPercent)
	if m.Healthy() {
		t.Fatalf("Healthy() should be false at the critical battery threshold")
	}

	m.RecordBattery(100)
	if !m.Healthy() {
		t.Fatalf("Healthy() should be true with battery restored")
	}

	m.RecordHostHealth(false)
	if m.Healthy() {
		t.Fatalf("Healthy() should be false when host health reports unhealthy")
	}

	m.RecordHostHealth(true)
	if !m.Healthy() {
		t.Fatalf("Healthy() should be true once host health recovers")
	}
}

func TestHealthyReflectsEmergencyState(t *testing.T) {
	m := newTestMonitor()
	m.Apply(safety.EventEmergencyTriggered)
	if m.Healthy() {
		t.Fatalf("Healthy() should be false in Emergency state")
	}
}

func TestPendingCommandsRoundTrip(t *testing.T) {
	m := newTestMonitor()
	m.SetPendingCommands(3)
	if got := m.PendingCommands(); got != 3 {
		t.Fatalf("PendingCommands() = %d, want 3", got)
	}
}

func TestRunCheckAppliesGeofenceBreach(t *testing.T) {
	m := newTestMonitor()
	m.Apply(safety.EventPreflightComplete)
	m.Apply(safety.EventArmed)

	m.RecordGeofence(true)
	m.runCheck()

	if got := m.CurrentState(); got != safety.StateReturningHome {
		t.Fatalf("CurrentState() after geofence breach from Armed = %v, want ReturningHome", got)
	}
}
