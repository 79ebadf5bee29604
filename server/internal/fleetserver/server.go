// Package fleetserver accepts edge connections on a transport.Listener and
// runs the per-session read loop: decode envelopes, name the session from
// the first non-empty device id, and route each envelope by its payload
// variant.
package fleetserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

// listener is the minimal accept capability the server binds against; both
// transport.TCPListener and transport.RFCOMMListener satisfy it.
type listener interface {
	Accept() (transport.Stream, error)
}

// OnStateChanged is invoked whenever a session's reported drone state
// changes, letting callers (ops feed, alerting) react without this package
// importing either.
type OnStateChanged func(deviceID string, state wire.DroneState)

// Server runs accept loops over one or more listeners, handing every
// accepted stream to the session manager and command dispatcher.
type Server struct {
	sessions   *sessionmgr.Manager
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger

	onStateChanged OnStateChanged
}

// New creates a Server wiring accepted connections into sessions and
// dispatcher.
func New(sessions *sessionmgr.Manager, disp *dispatcher.Dispatcher, logger *zap.Logger) *Server {
	return &Server{
		sessions:   sessions,
		dispatcher: disp,
		logger:     logger.Named("fleetserver"),
	}
}

// OnStateChanged registers a callback fired on every observed drone-state
// change. Only one callback is kept; a later call replaces an earlier one.
func (s *Server) OnStateChanged(fn OnStateChanged) {
	s.onStateChanged = fn
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// returns an error, spawning a session goroutine per
// accepted stream. label is used only for logging (e.g. "tcp", "rfcomm").
func (s *Server) Serve(ctx context.Context, ln listener, label string) error {
	for {
		stream, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fleetserver: accept on %s listener: %w", label, err)
		}
		go s.handleSession(ctx, stream)
	}
}

func (s *Server) handleSession(ctx context.Context, stream transport.Stream) {
	defer stream.Close()

	decoder := wire.NewFrameDecoder()
	buf := make([]byte, 8192)
	deviceID := ""

	defer func() {
		if deviceID != "" {
			s.sessions.Unregister(deviceID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stream.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := stream.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("session read error", zap.String("device_id", deviceID), zap.Error(err))
			} else {
				s.logger.Info("session closed by peer", zap.String("device_id", deviceID))
			}
			return
		}

		decoder.Extend(buf[:n])
		for {
			env, err := decoder.DecodeNext()
			if err != nil {
				s.logger.Warn("malformed envelope, dropping session", zap.String("device_id", deviceID), zap.Error(err))
				return
			}
			if env == nil {
				break
			}

			if deviceID == "" && env.Header.DeviceID != "" {
				deviceID = env.Header.DeviceID
				s.sessions.Register(deviceID, stream)
			}

			s.route(deviceID, env)
		}
	}
}

func (s *Server) route(deviceID string, env *wire.Envelope) {
	var prevState wire.DroneState
	if sess, ok := s.sessions.Get(deviceID); ok {
		prevState = sess.State()
	}

	switch {
	case env.Heartbeat != nil:
		s.sessions.UpdateHeartbeat(deviceID)
		s.sessions.UpdateState(deviceID, env.Heartbeat.State)
		if s.onStateChanged != nil && env.Heartbeat.State != prevState {
			s.onStateChanged(deviceID, env.Heartbeat.State)
		}
		echo := &wire.Envelope{
			Header:    wire.Header{DeviceID: "server", Type: wire.MessageTypeHeartbeat},
			Heartbeat: env.Heartbeat,
		}
		if err := s.sessions.SendTo(deviceID, echo); err != nil {
			s.logger.Warn("heartbeat echo failed", zap.String("device_id", deviceID), zap.Error(err))
		}

	case env.Telemetry != nil:
		s.sessions.UpdateState(deviceID, env.Telemetry.State)
		if s.onStateChanged != nil && env.Telemetry.State != prevState {
			s.onStateChanged(deviceID, env.Telemetry.State)
		}
		s.logger.Debug("telemetry received",
			zap.String("device_id", deviceID),
			zap.Float64("battery_pct", float64(env.Telemetry.Battery.RemainingPercent)),
		)

	case env.Ack != nil:
		s.dispatcher.HandleAck(deviceID, env.Ack)

	case env.Command != nil:
		s.logger.Warn("received a command envelope from a peer, ignoring", zap.String("device_id", deviceID))

	case env.Sensor != nil:
		s.logger.Debug("sensor data received", zap.String("device_id", deviceID), zap.String("sensor_type", env.Sensor.SensorType))
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
