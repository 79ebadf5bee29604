// Package executor dispatches decoded Command envelopes to the
// flight-controller bridge and produces the Ack envelope reporting the
// outcome. It holds no transport or session state — callers feed it a
// Command plus the header it arrived on, and get back an Ack envelope to
// send.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/edge/internal/bridge"
	"github.com/skylinkc2/skylink/edge/internal/safetymonitor"
	"github.com/skylinkc2/skylink/edge/internal/seqcounter"
	"github.com/skylinkc2/skylink/shared/safety"
	"github.com/skylinkc2/skylink/shared/wire"
)

// outcome is what a per-type handler produces before the Ack envelope is
// assembled around it.
type outcome struct {
	status  wire.AckStatus
	message string
	// event, if non-zero, is applied to the safety monitor as a side effect
	// of a successful command (e.g. EmergencyTriggered on EmergencyStop).
	event    safety.Event
	hasEvent bool
}

func completed(msg string) outcome { return outcome{status: wire.AckCompleted, message: msg} }
func failed(msg string) outcome    { return outcome{status: wire.AckFailed, message: msg} }
func rejected(msg string) outcome  { return outcome{status: wire.AckRejected, message: msg} }

func (o outcome) withEvent(ev safety.Event) outcome {
	o.event = ev
	o.hasEvent = true
	return o
}

// Executor dispatches Commands to the flight-controller bridge and builds
// Acks. The monotonic sequence counter is shared with the Connection
// Manager so every envelope the device sends — heartbeats and Acks alike —
// draws from one non-decreasing stream.
type Executor struct {
	deviceID string
	bridge   bridge.Bridge
	monitor  *safetymonitor.Monitor
	seq      *seqcounter.Counter
	logger   *zap.Logger
}

// New creates an Executor.
func New(deviceID string, b bridge.Bridge, monitor *safetymonitor.Monitor, seq *seqcounter.Counter, logger *zap.Logger) *Executor {
	return &Executor{
		deviceID: deviceID,
		bridge:   b,
		monitor:  monitor,
		seq:      seq,
		logger:   logger.Named("executor"),
	}
}

// Execute runs cmd (received on the envelope identified by header) and
// returns the Ack envelope to send back. It never returns an error: every
// outcome, including an unknown command type, is represented in the Ack.
func (e *Executor) Execute(ctx context.Context, header wire.Header, cmd *wire.Command) *wire.Envelope {
	start := time.Now()

	var out outcome
	nowMs := uint64(start.UnixMilli())
	if cmd.ExpiresAtMs > 0 && nowMs > cmd.ExpiresAtMs {
		out = outcome{status: wire.AckExpired}
	} else {
		out = e.dispatch(ctx, cmd)
	}

	if out.hasEvent {
		e.monitor.Apply(out.event)
	}

	processingMs := uint64(time.Since(start).Milliseconds())
	e.logger.Info("command executed",
		zap.String("device_id", e.deviceID),
		zap.Uint64("command_id", cmd.CommandID),
		zap.Stringer("type", cmd.Type),
		zap.Stringer("status", out.status),
		zap.Uint64("processing_ms", processingMs),
	)

	return &wire.Envelope{
		Header: wire.Header{
			DeviceID:    e.deviceID,
			SequenceNum: e.seq.Next(),
			TimestampMs: nowMs,
			Type:        wire.MessageTypeAck,
		},
		Ack: &wire.Ack{
			AckSequenceID:    header.SequenceNum,
			CommandID:        cmd.CommandID,
			Status:           out.status,
			Message:          out.message,
			ProcessingTimeMs: processingMs,
		},
	}
}

// dispatch applies the per-command-type precondition and bridge call. A
// completed MissionStart, MissionAbort, EmergencyStop, or Rth that was not
// already returning home carries the safety event the Safety Monitor
// observes; StatusRequest, ConfigUpdate, Rejected and Failed outcomes carry
// no event.
func (e *Executor) dispatch(ctx context.Context, cmd *wire.Command) outcome {
	state := e.monitor.CurrentState()
	params := bridge.Params(cmd.Params)

	switch cmd.Type {
	case wire.CommandStatusRequest:
		status, err := e.bridge.RequestStatus(ctx)
		if err != nil {
			return failed(err.Error())
		}
		return completed(fmt.Sprintf("armed=%v mode=%s gps_lock=%v", status.Armed, status.Mode, status.GPSLock))

	case wire.CommandMissionStart:
		if state != safety.StateIdle && state != safety.StateArmed {
			return rejected(fmt.Sprintf("cannot start mission from state %s", state))
		}
		if len(params) == 0 {
			return rejected("mission start requires params")
		}
		if err := e.bridge.StartMission(ctx, params); err != nil {
			return failed(err.Error())
		}
		return completed("mission started").withEvent(safety.EventMissionStarted)

	case wire.CommandMissionAbort:
		if state != safety.StateInMission {
			return rejected(fmt.Sprintf("cannot abort mission from state %s", state))
		}
		if len(params) == 0 {
			return rejected("mission abort requires params")
		}
		if err := e.bridge.AbortMission(ctx); err != nil {
			return failed(err.Error())
		}
		return completed("mission aborted").withEvent(safety.EventRthTriggered)

	case wire.CommandRth:
		if state == safety.StateIdle || state == safety.StatePreflight {
			return rejected(fmt.Sprintf("cannot return home from state %s", state))
		}
		if state == safety.StateReturningHome || state == safety.StateLanding {
			return completed("already returning home")
		}
		if err := e.bridge.ReturnToHome(ctx, params); err != nil {
			return failed(err.Error())
		}
		return completed("return to home initiated").withEvent(safety.EventRthTriggered)

	case wire.CommandConfigUpdate:
		if len(params) == 0 {
			return rejected("config update requires params")
		}
		return completed(fmt.Sprintf("applied %d config entries", len(params)))

	case wire.CommandEmergencyStop:
		if err := e.bridge.EmergencyStop(ctx); err != nil {
			return failed(err.Error())
		}
		return completed("emergency stop executed").withEvent(safety.EventEmergencyTriggered)

	default:
		return rejected(fmt.Sprintf("unknown command type %s", cmd.Type))
	}
}
