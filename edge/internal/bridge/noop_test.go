package bridge

import (
	"context"
	"testing"
)

func TestNoopArmDisarmUpdatesStatus(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()

	status, err := n.RequestStatus(ctx)
	if err != nil {
		t.Fatalf("RequestStatus: %v", err)
	}
	if status.Armed {
		t.Fatalf("a fresh Noop should report Armed=false")
	}

	if err := n.Arm(ctx); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	status, _ = n.RequestStatus(ctx)
	if !status.Armed {
		t.Fatalf("after Arm, RequestStatus should report Armed=true")
	}

	if err := n.Disarm(ctx); err != nil {
		t.Fatalf("Disarm: %v", err)
	}
	status, _ = n.RequestStatus(ctx)
	if status.Armed {
		t.Fatalf("after Disarm, RequestStatus should report Armed=false")
	}
}

func TestNoopEmergencyStopDisarms(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()
	_ = n.Arm(ctx)

	if err := n.EmergencyStop(ctx); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	status, _ := n.RequestStatus(ctx)
	if status.Armed {
		t.Fatalf("after EmergencyStop, RequestStatus should report Armed=false")
	}
}

func TestNoopSetModeUpdatesStatus(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()
	if err := n.SetMode(ctx, "AUTO"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	status, _ := n.RequestStatus(ctx)
	if status.Mode != "AUTO" {
		t.Fatalf("Mode = %q, want AUTO", status.Mode)
	}
}

func TestNoopNeverErrors(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()

	calls := []func() error{
		func() error { return n.Takeoff(ctx, 10) },
		func() error { return n.Land(ctx) },
		func() error { return n.ReturnToHome(ctx, nil) },
		func() error { return n.StartMission(ctx, Params{"lat": "1"}) },
		func() error { return n.AbortMission(ctx) },
		func() error { return n.GotoPosition(ctx, 1, 2, 3) },
	}
	for i, call := range calls {
		if err := call(); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
}
