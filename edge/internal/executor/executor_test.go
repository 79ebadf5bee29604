package executor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/edge/internal/bridge"
	"github.com/skylinkc2/skylink/edge/internal/safetymonitor"
	"github.com/skylinkc2/skylink/edge/internal/seqcounter"
	"github.com/skylinkc2/skylink/shared/safety"
	"github.com/skylinkc2/skylink/shared/wire"
)

func newTestExecutor() (*Executor, *safetymonitor.Monitor) {
	monitor := safetymonitor.New(zap.NewNop())
	exec := New("drone-1", bridge.NewNoop(), monitor, &seqcounter.Counter{}, zap.NewNop())
	return exec, monitor
}

func TestExecuteStatusRequestAlwaysCompletes(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{CommandID: 1, Type: wire.CommandStatusRequest}

	env := exec.Execute(context.Background(), wire.Header{SequenceNum: 7}, cmd)

	if env.Ack == nil {
		t.Fatalf("expected an Ack envelope")
	}
	if env.Ack.Status != wire.AckCompleted {
		t.Fatalf("Status = %v, want Completed", env.Ack.Status)
	}
	if env.Ack.AckSequenceID != 7 {
		t.Fatalf("AckSequenceID = %d, want 7", env.Ack.AckSequenceID)
	}
	if env.Ack.CommandID != 1 {
		t.Fatalf("CommandID = %d, want 1", env.Ack.CommandID)
	}
}

func TestExecuteExpiredCommandNeverDispatches(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{
		CommandID:   2,
		Type:        wire.CommandMissionStart,
		ExpiresAtMs: uint64(time.Now().Add(-time.Hour).UnixMilli()),
		Params:      map[string]string{"lat": "1"},
	}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckExpired {
		t.Fatalf("Status = %v, want Expired", env.Ack.Status)
	}
}

func TestExecuteMissionStartRejectedWithoutParams(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{CommandID: 3, Type: wire.CommandMissionStart}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckRejected {
		t.Fatalf("Status = %v, want Rejected", env.Ack.Status)
	}
}

func TestExecuteMissionStartFromIdleCompletesAndAppliesEvent(t *testing.T) {
	exec, monitor := newTestExecutor()
	cmd := &wire.Command{CommandID: 4, Type: wire.CommandMissionStart, Params: map[string]string{"lat": "1", "lon": "2"}}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckCompleted {
		t.Fatalf("Status = %v, want Completed", env.Ack.Status)
	}

	select {
	case result := <-monitor.Actions():
		if result.Event != safety.EventMissionStarted {
			t.Fatalf("applied event = %v, want MissionStarted", result.Event)
		}
	default:
		t.Fatalf("expected the executor to apply a safety event on successful MissionStart")
	}
}

func TestExecuteRthFromIdleRejected(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{CommandID: 5, Type: wire.CommandRth}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckRejected {
		t.Fatalf("Status = %v, want Rejected (Rth from Idle)", env.Ack.Status)
	}
}

func TestExecuteEmergencyStopAlwaysAccepted(t *testing.T) {
	exec, monitor := newTestExecutor()
	cmd := &wire.Command{CommandID: 6, Type: wire.CommandEmergencyStop}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckCompleted {
		t.Fatalf("Status = %v, want Completed", env.Ack.Status)
	}
	if got := monitor.CurrentState(); got != safety.StateEmergency {
		t.Fatalf("CurrentState() = %v, want Emergency", got)
	}
}

func TestExecuteUnknownCommandTypeRejected(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{CommandID: 7, Type: wire.CommandType(99)}

	env := exec.Execute(context.Background(), wire.Header{}, cmd)
	if env.Ack.Status != wire.AckRejected {
		t.Fatalf("Status = %v, want Rejected", env.Ack.Status)
	}
}

func TestExecuteConfigUpdateRequiresParams(t *testing.T) {
	exec, _ := newTestExecutor()

	env := exec.Execute(context.Background(), wire.Header{}, &wire.Command{CommandID: 8, Type: wire.CommandConfigUpdate})
	if env.Ack.Status != wire.AckRejected {
		t.Fatalf("Status = %v, want Rejected without params", env.Ack.Status)
	}

	env = exec.Execute(context.Background(), wire.Header{}, &wire.Command{
		CommandID: 9, Type: wire.CommandConfigUpdate, Params: map[string]string{"k": "v"},
	})
	if env.Ack.Status != wire.AckCompleted {
		t.Fatalf("Status = %v, want Completed with params", env.Ack.Status)
	}
}

func TestExecuteSequenceNumbersIncrease(t *testing.T) {
	exec, _ := newTestExecutor()
	cmd := &wire.Command{CommandID: 1, Type: wire.CommandStatusRequest}

	first := exec.Execute(context.Background(), wire.Header{}, cmd)
	second := exec.Execute(context.Background(), wire.Header{}, cmd)

	if second.Header.SequenceNum <= first.Header.SequenceNum {
		t.Fatalf("sequence numbers did not increase: %d then %d", first.Header.SequenceNum, second.Header.SequenceNum)
	}
}
