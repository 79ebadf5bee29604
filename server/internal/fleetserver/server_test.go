package fleetserver

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

func TestServeRegistersSessionAndEchoesHeartbeat(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	sessions := sessionmgr.New(zap.NewNop())
	disp := dispatcher.New(sessions, zap.NewNop())
	srv := New(sessions, disp, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln, "tcp")

	client, err := transport.NewTCPConnector(ln.Addr().String(), "client").Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	hb := &wire.Envelope{
		Header:    wire.Header{DeviceID: "drone-1", Type: wire.MessageTypeHeartbeat},
		Heartbeat: &wire.Heartbeat{UptimeMs: 10, State: wire.DroneStateIdle, Healthy: true},
	}
	framed, err := wire.Encode(hb)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := client.Write(framed); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoder := wire.NewFrameDecoder()
	buf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("read echo: %v", err)
		}
		decoder.Extend(buf[:n])
		env, err := decoder.DecodeNext()
		if err != nil {
			t.Fatalf("DecodeNext: %v", err)
		}
		if env == nil {
			continue
		}
		if env.Heartbeat == nil {
			t.Fatalf("expected a heartbeat echo, got %+v", env)
		}
		break
	}

	deadline := time.Now().Add(time.Second)
	for !sessions.IsConnected("drone-1") {
		if time.Now().After(deadline) {
			t.Fatalf("drone-1 was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeRoutesAckToDispatcher(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	sessions := sessionmgr.New(zap.NewNop())
	disp := dispatcher.New(sessions, zap.NewNop())
	srv := New(sessions, disp, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln, "tcp")

	client, err := transport.NewTCPConnector(ln.Addr().String(), "client").Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	id, err := disp.SendCommand("drone-1", &wire.Command{Type: wire.CommandStatusRequest})
	if err != nil {
		t.Fatalf("SendCommand before registration should still record pending: %v", err)
	}

	hello := &wire.Envelope{
		Header:    wire.Header{DeviceID: "drone-1", Type: wire.MessageTypeHeartbeat},
		Heartbeat: &wire.Heartbeat{State: wire.DroneStateIdle},
	}
	framed, _ := wire.Encode(hello)
	client.Write(framed)

	deadline := time.Now().Add(time.Second)
	for !sessions.IsConnected("drone-1") {
		if time.Now().After(deadline) {
			t.Fatalf("drone-1 was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	drain := make([]byte, 4096)
	client.Read(drain) // discard heartbeat echo

	ack := &wire.Envelope{
		Header: wire.Header{DeviceID: "drone-1", Type: wire.MessageTypeAck},
		Ack:    &wire.Ack{CommandID: id, Status: wire.AckCompleted},
	}
	framed, _ = wire.Encode(ack)
	client.Write(framed)

	deadline = time.Now().Add(time.Second)
	for disp.PendingCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("PendingCount() never reached 0, ack was not routed to dispatcher")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
