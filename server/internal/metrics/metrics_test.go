package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectedDevices.Set(3)
	m.PendingCommands.Set(2)
	m.CommandsDispatched.Inc()
	m.CommandsAcked.Inc()
	m.CommandsRetried.Inc()
	m.CommandsExpired.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 6 {
		t.Fatalf("got %d metric families, want 6", len(families))
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic registering the same collectors twice")
		}
	}()
	New(reg)
}
