// Package safetymonitor owns the drone's safety state machine on the Edge
// Agent: the one lock around shared/safety.State, the periodic check that
// feeds heartbeat-loss/battery/geofence conditions through it, and the
// action stream other components observe rather than touching the state
// machine directly.
package safetymonitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/shared/safety"
	"github.com/skylinkc2/skylink/shared/wire"
)

// CheckInterval is how often the periodic safety check runs.
const CheckInterval = 1 * time.Second

// Monitor is the sole owner of the device's safety.State. All reads and
// writes go through its methods; callers never see the bare state outside
// of a CurrentState snapshot.
type Monitor struct {
	mu sync.Mutex

	state           safety.State
	startedAt       time.Time
	haveHeartbeat   bool
	lastHeartbeatMs int64
	batteryPercent  int
	geofenceBreach  bool
	hostHealthy     bool
	pendingCommands uint32

	actions chan safety.TransitionResult
	logger  *zap.Logger
}

// New returns a Monitor starting in StateIdle, matching a freshly booted
// device that has completed no preflight yet.
func New(logger *zap.Logger) *Monitor {
	return &Monitor{
		state:          safety.StateIdle,
		startedAt:      time.Now(),
		batteryPercent: 100,
		hostHealthy:    true,
		actions:        make(chan safety.TransitionResult, 32),
		logger:         logger.Named("safetymonitor"),
	}
}

// Actions returns the stream of transition results applied by this Monitor,
// Invalid results included. Nothing in the edge binary reads this stream, so
// a safety EmergencyRth or EmergencyStop changes the reported state but does
// not drive the flight-controller bridge.
func (m *Monitor) Actions() <-chan safety.TransitionResult {
	return m.actions
}

// CurrentState returns the live safety.State.
func (m *Monitor) CurrentState() safety.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentWireState returns the live state as its wire.DroneState mirror,
// for stamping onto outbound Heartbeat/Telemetry envelopes.
func (m *Monitor) CurrentWireState() wire.DroneState {
	return toWireState(m.CurrentState())
}

// UptimeMs returns milliseconds since the Monitor was created.
func (m *Monitor) UptimeMs() uint64 {
	return uint64(time.Since(m.startedAt).Milliseconds())
}

// PendingCommands returns the count last reported by SetPendingCommands.
func (m *Monitor) PendingCommands() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingCommands
}

// Healthy reports whether the device is fit to report as healthy on its
// next heartbeat: not in Emergency, not currently battery-critical, and the
// companion computer's own resource usage is within bounds.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != safety.StateEmergency &&
		m.batteryPercent > safety.BatteryCriticalPercent &&
		m.hostHealthy
}

// RecordHostHealth updates whether the companion computer's own resource
// usage (CPU/mem/disk, sampled by edge/internal/hostmetrics) is within
// bounds. Does not affect the safety state machine directly — it only
// gates the Heartbeat's healthy flag.
func (m *Monitor) RecordHostHealth(healthy bool) {
	m.mu.Lock()
	m.hostHealthy = healthy
	m.mu.Unlock()
}

// SetPendingCommands records the executor's current outstanding-command
// count, surfaced on the next heartbeat.
func (m *Monitor) SetPendingCommands(n uint32) {
	m.mu.Lock()
	m.pendingCommands = n
	m.mu.Unlock()
}

// RecordServerHeartbeat notes that a heartbeat (or any envelope) arrived
// from the server at nowMs, resetting the heartbeat-timeout clock.
func (m *Monitor) RecordServerHeartbeat(nowMs int64) {
	m.mu.Lock()
	m.haveHeartbeat = true
	m.lastHeartbeatMs = nowMs
	m.mu.Unlock()
}

// RecordBattery updates the last-known battery percentage.
func (m *Monitor) RecordBattery(percent int) {
	m.mu.Lock()
	m.batteryPercent = percent
	m.mu.Unlock()
}

// RecordGeofence sets whether the device is currently outside its
// geofence. The next periodic check turns a true value into a
// GeofenceBreach event.
func (m *Monitor) RecordGeofence(breached bool) {
	m.mu.Lock()
	m.geofenceBreach = breached
	m.mu.Unlock()
}

// Apply runs event through the safety transition table from the current
// state, commits the resulting state, and publishes the TransitionResult
// on Actions. Safe for concurrent callers (the executor and the periodic
// check both call it).
func (m *Monitor) Apply(event safety.Event) safety.TransitionResult {
	m.mu.Lock()
	result := safety.ProcessEvent(m.state, event)
	m.state = result.To
	m.mu.Unlock()

	if result.Kind != safety.ResultInvalid {
		m.logger.Info("safety transition",
			zap.Stringer("from", result.From),
			zap.Stringer("event", result.Event),
			zap.Stringer("to", result.To),
			zap.Stringer("kind", result.Kind),
		)
	} else {
		m.logger.Warn("invalid safety transition attempted",
			zap.Stringer("from", result.From),
			zap.Stringer("event", result.Event),
		)
	}

	select {
	case m.actions <- result:
	default:
		m.logger.Warn("action channel full, dropping transition result")
	}
	return result
}

// Run ticks the periodic safety check every CheckInterval until ctx is
// cancelled, applying each event the check implies.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCheck()
		}
	}
}

func (m *Monitor) runCheck() {
	m.mu.Lock()
	inputs := safety.CheckInputs{
		NowMs:                 time.Now().UnixMilli(),
		LastServerHeartbeatMs: m.lastHeartbeatMs,
		HaveReceivedHeartbeat: m.haveHeartbeat,
		BatteryPercent:        m.batteryPercent,
	}
	breach := m.geofenceBreach
	m.mu.Unlock()

	events := safety.CheckSafety(inputs)
	if breach {
		events = append(events, safety.EventGeofenceBreach)
	}
	for _, ev := range events {
		m.Apply(ev)
	}
}

func toWireState(s safety.State) wire.DroneState {
	switch s {
	case safety.StateIdle:
		return wire.DroneStateIdle
	case safety.StatePreflight:
		return wire.DroneStatePreflight
	case safety.StateArmed:
		return wire.DroneStateArmed
	case safety.StateTakingOff:
		return wire.DroneStateTakingOff
	case safety.StateInMission:
		return wire.DroneStateInMission
	case safety.StateReturningHome:
		return wire.DroneStateReturningHome
	case safety.StateLanding:
		return wire.DroneStateLanding
	case safety.StateEmergency:
		return wire.DroneStateEmergency
	default:
		return wire.DroneStateUnknown
	}
}
