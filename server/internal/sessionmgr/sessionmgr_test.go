package sessionmgr

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

func newTestPair(t *testing.T) (transport.Stream, transport.Stream) {
	t.Helper()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	type result struct {
		s   transport.Stream
		err error
	}
	acceptCh := make(chan result, 1)
	go func() {
		s, err := ln.Accept()
		acceptCh <- result{s, err}
	}()

	client, err := transport.NewTCPConnector(ln.Addr().String(), "client").Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	r := <-acceptCh
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	return r.s, client
}

func TestRegisterUnregister(t *testing.T) {
	server, client := newTestPair(t)
	defer server.Close()
	defer client.Close()

	mgr := New(zap.NewNop())
	if mgr.IsConnected("drone-1") {
		t.Fatalf("should not be connected before Register")
	}
	mgr.Register("drone-1", server)
	if !mgr.IsConnected("drone-1") {
		t.Fatalf("should be connected after Register")
	}
	if mgr.Register("", server) != nil {
		t.Fatalf("Register with empty device id should return nil")
	}
	mgr.Unregister("drone-1")
	if mgr.IsConnected("drone-1") {
		t.Fatalf("should not be connected after Unregister")
	}
}

func TestSendToUnknownDeviceFails(t *testing.T) {
	mgr := New(zap.NewNop())
	err := mgr.SendTo("ghost", &wire.Envelope{})
	if err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendToWritesFramedEnvelope(t *testing.T) {
	server, client := newTestPair(t)
	defer server.Close()
	defer client.Close()

	mgr := New(zap.NewNop())
	mgr.Register("drone-1", server)

	env := &wire.Envelope{
		Header: wire.Header{DeviceID: "server", Type: wire.MessageTypeAck},
		Ack:    &wire.Ack{CommandID: 5, Status: wire.AckCompleted},
	}
	if err := mgr.SendTo("drone-1", env); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	decoder := wire.NewFrameDecoder()
	buf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		decoder.Extend(buf[:n])
		got, err := decoder.DecodeNext()
		if err != nil {
			t.Fatalf("DecodeNext: %v", err)
		}
		if got == nil {
			continue
		}
		if got.Ack == nil || got.Ack.CommandID != 5 {
			t.Fatalf("got %+v, want Ack CommandID=5", got)
		}
		break
	}
}

func TestCheckAndRemoveDeadSessions(t *testing.T) {
	server, client := newTestPair(t)
	defer server.Close()
	defer client.Close()

	mgr := New(zap.NewNop())
	sess := mgr.Register("drone-1", server)
	sess.mu.Lock()
	sess.lastHeartbeat = time.Now().Add(-2 * HeartbeatTimeout)
	sess.mu.Unlock()

	dead := mgr.CheckDeadSessions()
	if len(dead) != 1 || dead[0] != "drone-1" {
		t.Fatalf("CheckDeadSessions = %v, want [drone-1]", dead)
	}
	if !mgr.IsConnected("drone-1") {
		t.Fatalf("CheckDeadSessions must not remove sessions")
	}

	var evicted string
	mgr.OnDeadSession(func(deviceID string) { evicted = deviceID })

	removed := mgr.RemoveDeadSessions()
	if len(removed) != 1 || removed[0] != "drone-1" {
		t.Fatalf("RemoveDeadSessions = %v, want [drone-1]", removed)
	}
	if mgr.IsConnected("drone-1") {
		t.Fatalf("session should be removed")
	}
	if evicted != "drone-1" {
		t.Fatalf("onDead callback got %q, want drone-1", evicted)
	}
}

func TestUpdateHeartbeatAndState(t *testing.T) {
	server, client := newTestPair(t)
	defer server.Close()
	defer client.Close()

	mgr := New(zap.NewNop())
	sess := mgr.Register("drone-1", server)
	before := sess.LastHeartbeat()

	time.Sleep(5 * time.Millisecond)
	mgr.UpdateHeartbeat("drone-1")
	if !sess.LastHeartbeat().After(before) {
		t.Fatalf("UpdateHeartbeat did not advance the timestamp")
	}

	mgr.UpdateState("drone-1", wire.DroneStateArmed)
	if sess.State() != wire.DroneStateArmed {
		t.Fatalf("State() = %v, want Armed", sess.State())
	}
}
