// Package dispatcher assigns command and sequence ids, tracks outstanding
// commands until they reach a terminal Ack status, and retries or expires
// them on a timer.
package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/metrics"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/wire"
)

// AckTimeout is how long the dispatcher waits for an Ack before the timeout
// tracker considers a pending command overdue.
const AckTimeout = 3 * time.Second

// MaxRetries is the default number of re-sends attempted before a pending
// command is left for the expiry sweep.
const MaxRetries = 3

// counter is a thread-safe monotonic id generator, the server-side
// counterpart of the edge's seqcounter: both produce strictly increasing
// uint64s starting at 1.
type counter struct {
	n atomic.Uint64
}

func (c *counter) next() uint64 {
	return c.n.Add(1)
}

// Pending is one outstanding command awaiting a terminal Ack.
type Pending struct {
	DeviceID    string
	CommandID   uint64
	SequenceID  uint64
	Command     *wire.Command
	SentAt      time.Time
	Retries     int
	MaxRetries  int
	ExpiresAtMs uint64
	LastStatus  wire.AckStatus
}

func (p *Pending) isExpired(now time.Time) bool {
	return p.ExpiresAtMs > 0 && now.UnixMilli() > int64(p.ExpiresAtMs)
}

func (p *Pending) canRetry(now time.Time) bool {
	return p.Retries < p.MaxRetries && !p.isExpired(now)
}

// Dispatcher assigns command ids, forwards commands via a Session Manager,
// and tracks their outstanding state until a terminal Ack or expiry.
type Dispatcher struct {
	sessions *sessionmgr.Manager
	logger   *zap.Logger

	cmdIDs counter // command_id space
	seqIDs counter // sequence_id space, kept distinct so the two never collide in logs

	mu      sync.Mutex
	pending map[uint64]*Pending // keyed by command_id

	metrics *metrics.Registry
}

// New creates a Dispatcher forwarding commands through sessions.
func New(sessions *sessionmgr.Manager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		logger:   logger.Named("dispatcher"),
		pending:  make(map[uint64]*Pending),
	}
}

// SetMetrics attaches a Prometheus registry whose counters are incremented
// as commands are dispatched, acked, retried, and expired. Optional — a
// Dispatcher with no registry attached simply skips the increments.
func (d *Dispatcher) SetMetrics(reg *metrics.Registry) {
	d.metrics = reg
}

// SendCommand assigns a command id (if cmd.CommandID is zero) and sequence
// id, records it as pending, and forwards it to deviceID via the Session
// Manager. A send failure is logged but does not remove the pending
// record — it may still succeed after the device reconnects.
func (d *Dispatcher) SendCommand(deviceID string, cmd *wire.Command) (uint64, error) {
	if cmd.CommandID == 0 {
		cmd.CommandID = d.cmdIDs.next()
	}
	seq := d.seqIDs.next()

	p := &Pending{
		DeviceID:    deviceID,
		CommandID:   cmd.CommandID,
		SequenceID:  seq,
		Command:     cmd,
		SentAt:      time.Now(),
		Retries:     0,
		MaxRetries:  MaxRetries,
		ExpiresAtMs: cmd.ExpiresAtMs,
		LastStatus:  wire.AckReceived,
	}

	d.mu.Lock()
	d.pending[cmd.CommandID] = p
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.CommandsDispatched.Inc()
	}

	if err := d.forward(deviceID, seq, cmd); err != nil {
		d.logger.Warn("send_command failed, keeping pending record",
			zap.String("device_id", deviceID), zap.Uint64("command_id", cmd.CommandID), zap.Error(err))
		return cmd.CommandID, err
	}
	return cmd.CommandID, nil
}

// BroadcastCommand sends a fresh copy of cmd (with a freshly assigned
// command id) to every currently connected device, returning the issued
// command ids in no particular order.
func (d *Dispatcher) BroadcastCommand(cmd *wire.Command) []uint64 {
	ids := make([]uint64, 0)
	for _, deviceID := range d.sessions.ConnectedDeviceIDs() {
		clone := *cmd
		clone.CommandID = 0
		id, _ := d.SendCommand(deviceID, &clone)
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) forward(deviceID string, seq uint64, cmd *wire.Command) error {
	env := &wire.Envelope{
		Header:  wire.Header{DeviceID: deviceID, SequenceNum: seq, TimestampMs: uint64(time.Now().UnixMilli()), Type: wire.MessageTypeCommand},
		Command: cmd,
	}
	return d.sessions.SendTo(deviceID, env)
}

// HandleAck applies a device's Ack to its matching pending command.
// Unknown command ids are logged and ignored. Terminal statuses remove the
// pending record; intermediate statuses update it in place.
func (d *Dispatcher) HandleAck(deviceID string, ack *wire.Ack) {
	d.mu.Lock()
	p, exists := d.pending[ack.CommandID]
	if !exists {
		d.mu.Unlock()
		d.logger.Warn("ack for unknown command_id", zap.String("device_id", deviceID), zap.Uint64("command_id", ack.CommandID))
		return
	}

	terminal := ack.Status.IsTerminal()
	if terminal {
		delete(d.pending, ack.CommandID)
	} else {
		p.LastStatus = ack.Status
	}
	d.mu.Unlock()

	if terminal && d.metrics != nil {
		d.metrics.CommandsAcked.Inc()
	}

	d.logger.Info("ack received",
		zap.String("device_id", deviceID),
		zap.Uint64("command_id", ack.CommandID),
		zap.Stringer("status", ack.Status),
	)
}

// Outstanding returns a snapshot of every currently pending command for
// deviceID, in no particular order.
func (d *Dispatcher) Outstanding(deviceID string) []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Pending, 0)
	for _, p := range d.pending {
		if p.DeviceID == deviceID {
			out = append(out, *p)
		}
	}
	return out
}

// PendingCount returns the number of commands outstanding across all
// devices.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// runTimeoutTracker is invoked periodically (see sweep.go). For each
// pending command overdue for an Ack, it either re-sends (bumping retries)
// or, once retries are exhausted, leaves it for runExpirySweep to remove.
func (d *Dispatcher) runTimeoutTracker() {
	now := time.Now()

	d.mu.Lock()
	var toRetry []*Pending
	for _, p := range d.pending {
		if now.Sub(p.SentAt) <= AckTimeout {
			continue
		}
		if p.canRetry(now) {
			p.Retries++
			p.SentAt = now
			p.LastStatus = wire.AckReceived
			toRetry = append(toRetry, p)
		}
	}
	d.mu.Unlock()

	for _, p := range toRetry {
		if err := d.forward(p.DeviceID, p.SequenceID, p.Command); err != nil {
			d.logger.Warn("retry send failed", zap.String("device_id", p.DeviceID), zap.Uint64("command_id", p.CommandID), zap.Error(err))
			continue
		}
		if d.metrics != nil {
			d.metrics.CommandsRetried.Inc()
		}
		d.logger.Info("retried command", zap.String("device_id", p.DeviceID), zap.Uint64("command_id", p.CommandID), zap.Int("retries", p.Retries))
	}
}

// runExpirySweep removes pending commands whose expiry has passed.
func (d *Dispatcher) runExpirySweep() {
	now := time.Now()

	d.mu.Lock()
	var expired []uint64
	for id, p := range d.pending {
		if p.isExpired(now) {
			expired = append(expired, id)
			delete(d.pending, id)
		}
	}
	d.mu.Unlock()

	if d.metrics != nil {
		for range expired {
			d.metrics.CommandsExpired.Inc()
		}
	}
	for _, id := range expired {
		d.logger.Warn("command expired without terminal ack", zap.Uint64("command_id", id))
	}
}
