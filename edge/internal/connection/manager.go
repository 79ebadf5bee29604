// Package connection manages the Edge Agent's persistent framed-transport
// session with the Ground Server (or Relay Node). It handles:
//   - Connector failover (primary 5G/TCP, fallback Bluetooth/RFCOMM)
//   - The per-session read/write loop: heartbeat ticks, outbound queue
//     draining, and inbound frame decoding
//   - Automatic reconnection with exponential backoff, connector cursor
//     reset to primary on every reconnect
//
// Callers drive the Manager by calling Run (blocks until ctx is cancelled),
// enqueueing outbound envelopes via Send, and consuming ConnectionEvents via
// Events.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/edge/internal/seqcounter"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

// Default timing constants, overridable per-device via Config.
const (
	DefaultReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay = 60 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	// DefaultReadTimeout must exceed HeartbeatInterval: an idle session with
	// no inbound traffic is normal, not a failure, and the heartbeat is the
	// liveness signal that keeps the peer from timing the session out.
	DefaultReadTimeout = 5 * time.Second
	// HeartbeatInterval is the network-visible heartbeat cadence.
	HeartbeatInterval = 1000 * time.Millisecond

	// reconnectJitterFraction adds up to ±20% random jitter to each backoff
	// interval to avoid every device in a fleet reconnecting in lockstep.
	reconnectJitterFraction = 0.2

	// outboundQueueCapacity bounds the non-blocking send queue.
	outboundQueueCapacity = 100

	// readBufSize is the chunk size used for each Stream.Read call.
	readBufSize = 4096
)

// StateSource supplies the live drone state the Manager stamps onto each
// heartbeat it synthesizes. Implemented by edge/internal/safetymonitor.
type StateSource interface {
	CurrentWireState() wire.DroneState
	UptimeMs() uint64
	PendingCommands() uint32
	Healthy() bool
}

// EventKind tags the variant of a ConnectionEvent.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventTransportSwitched
	EventConnectionFailed
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventTransportSwitched:
		return "TransportSwitched"
	case EventConnectionFailed:
		return "ConnectionFailed"
	case EventReceived:
		return "Received"
	default:
		return "Unknown"
	}
}

// ConnectionEvent is the Manager's sole output: every externally observable
// thing that happens to the session surfaces as one of these.
type ConnectionEvent struct {
	Kind      EventKind
	Transport string     // set on Connected
	From, To  string     // set on TransportSwitched
	Reason    string     // set on Disconnected, ConnectionFailed
	Envelope  *wire.Envelope // set on Received
}

// Config holds everything needed to run one device's connection.
type Config struct {
	DeviceID string
	// Connectors are tried in order on every (re)connect attempt, starting
	// from index 0 each time. Typically {primary TCP, fallback RFCOMM}.
	Connectors []transport.Connector

	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	return c
}

// Manager owns one device's session lifecycle against the fleet network.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	state  StateSource
	seq    *seqcounter.Counter

	outbound chan *wire.Envelope
	events   chan ConnectionEvent
}

// New creates a Manager. Call Run to start the connect/session/reconnect
// loop. seq is the sequence counter shared with the Command Executor so
// heartbeats and Acks draw from one monotonic stream.
func New(cfg Config, state StateSource, seq *seqcounter.Counter, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("connection"),
		state:    state,
		seq:      seq,
		outbound: make(chan *wire.Envelope, outboundQueueCapacity),
		events:   make(chan ConnectionEvent, outboundQueueCapacity),
	}
}

// Send enqueues env for transmission on the current (or next) session.
// Non-blocking: returns false if the outbound queue is full and the
// envelope was dropped.
func (m *Manager) Send(env *wire.Envelope) bool {
	select {
	case m.outbound <- env:
		return true
	default:
		m.logger.Warn("outbound queue full, dropping envelope",
			zap.String("device_id", m.cfg.DeviceID))
		return false
	}
}

// Events returns the channel of ConnectionEvents. Callers should drain it
// continuously; it shares capacity with the outbound queue.
func (m *Manager) Events() <-chan ConnectionEvent {
	return m.events
}

// emit delivers an event, dropping it rather than blocking if the consumer
// has fallen behind — connection-lifecycle events are a liveness signal,
// not a durable log.
func (m *Manager) emit(ev ConnectionEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event channel full, dropping event", zap.Stringer("kind", ev.Kind))
	}
}

// Run drives connect → session → reconnect until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	backoff := m.cfg.ReconnectDelay

	for ctx.Err() == nil {
		stream, transportName, err := m.connect(ctx)
		if err != nil {
			m.emit(ConnectionEvent{Kind: EventConnectionFailed, Reason: err.Error()})
			if !m.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.cfg.MaxReconnectDelay)
			continue
		}

		m.emit(ConnectionEvent{Kind: EventConnected, Transport: transportName})
		backoff = m.cfg.ReconnectDelay

		reason := m.sessionLoop(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}

		m.emit(ConnectionEvent{Kind: EventDisconnected, Reason: reason})
		if !m.sleepBackoff(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, m.cfg.MaxReconnectDelay)
	}
}

// connect tries every configured connector in order, starting from index 0,
// emitting TransportSwitched for each non-terminal failure.
func (m *Manager) connect(ctx context.Context) (transport.Stream, string, error) {
	if len(m.cfg.Connectors) == 0 {
		return nil, "", errors.New("connection: no connectors configured")
	}

	var lastErr error
	for i, c := range m.cfg.Connectors {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		stream, err := c.Connect(attemptCtx)
		cancel()
		if err == nil {
			return stream, c.Name(), nil
		}

		m.logger.Warn("connector failed", zap.String("connector", c.Name()), zap.Error(err))
		lastErr = err

		if i < len(m.cfg.Connectors)-1 {
			next := m.cfg.Connectors[i+1]
			m.emit(ConnectionEvent{Kind: EventTransportSwitched, From: c.Name(), To: next.Name()})
		}
	}
	return nil, "", fmt.Errorf("connection: all connectors failed: %w", lastErr)
}

// readResult is what the background reader hands back to the session loop:
// either a decoded envelope, or a termination reason once the stream can no
// longer be read from.
type readResult struct {
	env *wire.Envelope
	err error
}

// sessionLoop runs one established session until it terminates, returning
// the termination reason. It concurrently: ticks heartbeats, drains the
// outbound queue, and decodes inbound frames in wire order.
func (m *Manager) sessionLoop(ctx context.Context, stream transport.Stream) string {
	results := make(chan readResult, outboundQueueCapacity)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		m.readLoop(stream, results)
	}()
	defer func() {
		stream.Close() // unblocks the reader's in-flight Read
		<-readerDone
	}()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "context cancelled"

		case <-ticker.C:
			hb := m.buildHeartbeat()
			if err := m.writeEnvelope(stream, hb); err != nil {
				return fmt.Sprintf("heartbeat write failed: %v", err)
			}

		case env := <-m.outbound:
			if err := m.writeEnvelope(stream, env); err != nil {
				return fmt.Sprintf("write failed: %v", err)
			}

		case res, ok := <-results:
			if !ok {
				return "reader closed unexpectedly"
			}
			if res.err != nil {
				return res.err.Error()
			}
			if res.env.IsEmpty() {
				continue
			}
			m.emit(ConnectionEvent{Kind: EventReceived, Envelope: res.env})
		}
	}
}

// readLoop reads from stream and feeds decoded envelopes (or a terminal
// error) to results, in the order received. A read timeout is not
// terminal: idle sessions are normal between heartbeats. A clean close (EOF
// or a zero-byte read) and any other read error are terminal.
func (m *Manager) readLoop(stream transport.Stream, results chan<- readResult) {
	decoder := wire.NewFrameDecoder()
	buf := make([]byte, readBufSize)

	for {
		if err := stream.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout)); err != nil {
			results <- readResult{err: fmt.Errorf("set read deadline: %w", err)}
			return
		}

		n, err := stream.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				results <- readResult{err: errors.New("server closed connection")}
				return
			}
			results <- readResult{err: fmt.Errorf("read failed: %w", err)}
			return
		}
		if n == 0 {
			results <- readResult{err: errors.New("server closed connection")}
			return
		}

		decoder.Extend(buf[:n])
		for {
			env, err := decoder.DecodeNext()
			if err != nil {
				results <- readResult{err: fmt.Errorf("protocol error: %w", err)}
				return
			}
			if env == nil {
				break
			}
			results <- readResult{env: env}
		}
	}
}

func (m *Manager) writeEnvelope(stream transport.Stream, env *wire.Envelope) error {
	framed, err := wire.Encode(env)
	if err != nil {
		return err
	}
	_, err = stream.Write(framed)
	return err
}

func (m *Manager) buildHeartbeat() *wire.Envelope {
	return &wire.Envelope{
		Header: wire.Header{
			DeviceID:    m.cfg.DeviceID,
			SequenceNum: m.seq.Next(),
			TimestampMs: nowMs(),
			Type:        wire.MessageTypeHeartbeat,
		},
		Heartbeat: &wire.Heartbeat{
			UptimeMs:        m.state.UptimeMs(),
			State:           m.state.CurrentWireState(),
			PendingCommands: m.state.PendingCommands(),
			Healthy:         m.state.Healthy(),
		},
	}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// sleepBackoff waits for d or ctx cancellation. Returns false if ctx was
// cancelled during the wait.
func (m *Manager) sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jitter(d)):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * reconnectJitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
