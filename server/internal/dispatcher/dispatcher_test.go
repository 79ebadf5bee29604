package dispatcher

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

func newTestSession(t *testing.T, sessions *sessionmgr.Manager, deviceID string) (transport.Stream, *wire.FrameDecoder) {
	t.Helper()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan transport.Stream, 1)
	go func() {
		s, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		acceptCh <- s
	}()

	client, err := transport.NewTCPConnector(ln.Addr().String(), "client").Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	server := <-acceptCh
	sessions.Register(deviceID, server)
	return client, wire.NewFrameDecoder()
}

func recvCommand(t *testing.T, client transport.Stream, decoder *wire.FrameDecoder) *wire.Command {
	t.Helper()
	buf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		decoder.Extend(buf[:n])
		env, err := decoder.DecodeNext()
		if err != nil {
			t.Fatalf("DecodeNext: %v", err)
		}
		if env == nil {
			continue
		}
		if env.Command == nil {
			t.Fatalf("expected a Command envelope, got %+v", env)
		}
		return env.Command
	}
}

func TestSendCommandAssignsIDAndDelivers(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	client, decoder := newTestSession(t, sessions, "drone-1")
	defer client.Close()

	d := New(sessions, zap.NewNop())
	id, err := d.SendCommand("drone-1", &wire.Command{Type: wire.CommandStatusRequest})
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero assigned command id")
	}

	got := recvCommand(t, client, decoder)
	if got.CommandID != id {
		t.Fatalf("delivered CommandID = %d, want %d", got.CommandID, id)
	}

	if d.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", d.PendingCount())
	}
}

func TestSendCommandToUnknownDeviceKeepsPending(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	d := New(sessions, zap.NewNop())

	_, err := d.SendCommand("ghost", &wire.Command{Type: wire.CommandStatusRequest})
	if err == nil {
		t.Fatalf("expected an error sending to an unconnected device")
	}
	if d.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1 (pending record kept despite send failure)", d.PendingCount())
	}
}

func TestHandleAckTerminalRemovesPending(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	client, decoder := newTestSession(t, sessions, "drone-1")
	defer client.Close()

	d := New(sessions, zap.NewNop())
	id, _ := d.SendCommand("drone-1", &wire.Command{Type: wire.CommandStatusRequest})
	recvCommand(t, client, decoder)

	d.HandleAck("drone-1", &wire.Ack{CommandID: id, Status: wire.AckAccepted})
	if d.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1 after intermediate ack", d.PendingCount())
	}

	d.HandleAck("drone-1", &wire.Ack{CommandID: id, Status: wire.AckCompleted})
	if d.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after terminal ack", d.PendingCount())
	}
}

func TestHandleAckUnknownCommandIgnored(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	d := New(sessions, zap.NewNop())
	d.HandleAck("drone-1", &wire.Ack{CommandID: 999, Status: wire.AckCompleted})
	if d.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", d.PendingCount())
	}
}

func TestBroadcastCommandAssignsDistinctIDsPerDevice(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	c1, dec1 := newTestSession(t, sessions, "drone-1")
	c2, dec2 := newTestSession(t, sessions, "drone-2")
	defer c1.Close()
	defer c2.Close()

	d := New(sessions, zap.NewNop())
	ids := d.BroadcastCommand(&wire.Command{Type: wire.CommandStatusRequest})
	if len(ids) != 2 {
		t.Fatalf("got %d issued ids, want 2", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("broadcast must assign a fresh command id per device, got %v", ids)
	}

	recvCommand(t, c1, dec1)
	recvCommand(t, c2, dec2)
}

func TestRunTimeoutTrackerRetriesOverdueCommand(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	client, decoder := newTestSession(t, sessions, "drone-1")
	defer client.Close()

	d := New(sessions, zap.NewNop())
	id, _ := d.SendCommand("drone-1", &wire.Command{Type: wire.CommandStatusRequest})
	recvCommand(t, client, decoder) // drain the initial send

	d.mu.Lock()
	d.pending[id].SentAt = time.Now().Add(-2 * AckTimeout)
	d.mu.Unlock()

	d.runTimeoutTracker()

	d.mu.Lock()
	p := d.pending[id]
	retries := p.Retries
	d.mu.Unlock()
	if retries != 1 {
		t.Fatalf("Retries = %d, want 1 after one overdue tick", retries)
	}

	got := recvCommand(t, client, decoder)
	if got.CommandID != id {
		t.Fatalf("retry delivered CommandID = %d, want %d", got.CommandID, id)
	}
}

func TestRunExpirySweepRemovesExpiredCommand(t *testing.T) {
	sessions := sessionmgr.New(zap.NewNop())
	client, decoder := newTestSession(t, sessions, "drone-1")
	defer client.Close()

	d := New(sessions, zap.NewNop())
	id, _ := d.SendCommand("drone-1", &wire.Command{
		Type:        wire.CommandStatusRequest,
		ExpiresAtMs: uint64(time.Now().Add(-time.Hour).UnixMilli()),
	})
	recvCommand(t, client, decoder)

	d.runExpirySweep()
	if d.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after expiry sweep", d.PendingCount())
	}
	_ = id
}
