// Package sessionmgr maintains the in-memory registry of connected edge
// sessions: one entry per device currently holding an open stream to this
// server, keyed by device id.
//
// All state is in-memory and intentionally non-persistent — a restart drops
// every session and devices simply reconnect and re-register, the same way
// agentmanager treats agent connections as ephemeral.
package sessionmgr

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

// HeartbeatTimeout is the elapsed time since a session's last heartbeat
// after which it is considered dead.
const HeartbeatTimeout = 10 * time.Second

// ErrNotConnected is returned by SendTo when no session is registered for
// the given device id.
var ErrNotConnected = fmt.Errorf("sessionmgr: device not connected")

// Session is one device's live connection state.
type Session struct {
	DeviceID    string
	ConnectedAt time.Time

	mu            sync.Mutex // serializes writes onto stream
	stream        transport.Stream
	lastHeartbeat time.Time
	state         wire.DroneState
}

func (s *Session) write(env *wire.Envelope) error {
	framed, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("sessionmgr: encode envelope for %s: %w", s.DeviceID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.stream.Write(framed); err != nil {
		return fmt.Errorf("sessionmgr: write to %s: %w", s.DeviceID, err)
	}
	return nil
}

// State returns the session's last known drone state.
func (s *Session) State() wire.DroneState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastHeartbeat returns the time the session's heartbeat was last refreshed.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Manager is the registry of currently connected sessions. Safe for
// concurrent use: the per-session reader goroutine, the API handlers, and
// the background dead-session sweep all touch it concurrently.
//
// The zero value is not usable — create instances with New.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger

	// onDead is invoked (outside the lock) for every device id evicted by
	// RemoveDeadSessions, letting callers (alerting) react without the
	// registry importing the alert package.
	onDead func(deviceID string)
}

// New creates an empty session registry.
func New(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.Named("sessionmgr"),
	}
}

// OnDeadSession registers a callback invoked with the device id of every
// session evicted by RemoveDeadSessions. Only one callback is kept; a later
// call replaces an earlier one.
func (m *Manager) OnDeadSession(fn func(deviceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDead = fn
}

// Register adds a session keyed by deviceID, replacing any prior session
// for the same device. A call with an empty deviceID is ignored.
func (m *Manager) Register(deviceID string, stream transport.Stream) *Session {
	if deviceID == "" {
		return nil
	}

	sess := &Session{
		DeviceID:      deviceID,
		ConnectedAt:   time.Now(),
		stream:        stream,
		lastHeartbeat: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[deviceID]; exists {
		m.logger.Warn("replacing existing session", zap.String("device_id", deviceID))
	}
	m.sessions[deviceID] = sess
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("device connected", zap.String("device_id", deviceID), zap.Int("total_connected", total))
	return sess
}

// Unregister removes a session. A no-op if the device is not registered.
func (m *Manager) Unregister(deviceID string) {
	m.mu.Lock()
	_, exists := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	total := len(m.sessions)
	m.mu.Unlock()

	if exists {
		m.logger.Info("device disconnected", zap.String("device_id", deviceID), zap.Int("total_connected", total))
	}
}

// SendTo writes env to the named device's stream. Returns ErrNotConnected
// if the device has no live session.
func (m *Manager) SendTo(deviceID string, env *wire.Envelope) error {
	m.mu.RLock()
	sess, exists := m.sessions[deviceID]
	m.mu.RUnlock()
	if !exists {
		return ErrNotConnected
	}
	return sess.write(env)
}

// Broadcast writes env to every connected device, best-effort. Per-peer
// write failures are logged, not propagated.
func (m *Manager) Broadcast(env *wire.Envelope) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.write(env); err != nil {
			m.logger.Warn("broadcast write failed", zap.String("device_id", sess.DeviceID), zap.Error(err))
		}
	}
}

// UpdateHeartbeat refreshes the session's last-heartbeat timestamp. A no-op
// if the device is not registered.
func (m *Manager) UpdateHeartbeat(deviceID string) {
	m.mu.RLock()
	sess, exists := m.sessions[deviceID]
	m.mu.RUnlock()
	if !exists {
		return
	}
	sess.mu.Lock()
	sess.lastHeartbeat = time.Now()
	sess.mu.Unlock()
}

// UpdateState records the device's last known drone state.
func (m *Manager) UpdateState(deviceID string, state wire.DroneState) {
	m.mu.RLock()
	sess, exists := m.sessions[deviceID]
	m.mu.RUnlock()
	if !exists {
		return
	}
	sess.mu.Lock()
	sess.state = state
	sess.mu.Unlock()
}

// IsConnected reports whether deviceID currently has a live session.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.sessions[deviceID]
	return exists
}

// ConnectedDeviceIDs returns a snapshot of every currently connected device
// id, in no particular order.
func (m *Manager) ConnectedDeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the session for deviceID, if any.
func (m *Manager) Get(deviceID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, exists := m.sessions[deviceID]
	return sess, exists
}

// CheckDeadSessions returns the device ids whose last heartbeat is older
// than HeartbeatTimeout, without removing them.
func (m *Manager) CheckDeadSessions() []string {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dead []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		last := sess.lastHeartbeat
		sess.mu.Unlock()
		if now.Sub(last) > HeartbeatTimeout {
			dead = append(dead, id)
		}
	}
	return dead
}

// RemoveDeadSessions atomically re-checks and removes every session whose
// heartbeat has timed out, returning the removed device ids. Re-checking
// under the write lock avoids evicting a session that sent a heartbeat
// between CheckDeadSessions's read and this call.
func (m *Manager) RemoveDeadSessions() []string {
	now := time.Now()

	m.mu.Lock()
	var removed []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		last := sess.lastHeartbeat
		sess.mu.Unlock()
		if now.Sub(last) > HeartbeatTimeout {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	onDead := m.onDead
	m.mu.Unlock()

	for _, id := range removed {
		m.logger.Warn("removing dead session", zap.String("device_id", id))
		if onDead != nil {
			onDead(id)
		}
	}
	return removed
}

// Count returns the number of currently connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
