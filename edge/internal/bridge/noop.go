package bridge

import "context"

// Noop implements Bridge against no autopilot at all. Used in tests and on
// a ground rig with no flight controller attached — every call succeeds
// immediately. RequestStatus reports an in-memory status that Arm, Disarm,
// EmergencyStop and SetMode update; the other calls leave it unchanged.
type Noop struct {
	status Status
}

// NewNoop returns a Noop bridge reporting an unarmed, GPS-locked status in
// MANUAL mode with a full battery and a zero position — a rig with no autopilot attached still has
// something plausible to report on the telemetry link.
func NewNoop() *Noop {
	return &Noop{status: Status{
		Mode:    "MANUAL",
		GPSLock: true,
		Battery: BatteryState{VoltageV: 12.6, RemainingPercent: 100},
	}}
}

func (n *Noop) Arm(ctx context.Context) error {
	n.status.Armed = true
	return nil
}

func (n *Noop) Disarm(ctx context.Context) error {
	n.status.Armed = false
	return nil
}

func (n *Noop) Takeoff(ctx context.Context, altitudeM float64) error { return nil }

func (n *Noop) Land(ctx context.Context) error { return nil }

func (n *Noop) ReturnToHome(ctx context.Context, params Params) error { return nil }

func (n *Noop) StartMission(ctx context.Context, params Params) error { return nil }

func (n *Noop) AbortMission(ctx context.Context) error { return nil }

func (n *Noop) EmergencyStop(ctx context.Context) error {
	n.status.Armed = false
	return nil
}

func (n *Noop) RequestStatus(ctx context.Context) (Status, error) {
	return n.status, nil
}

func (n *Noop) SetMode(ctx context.Context, mode string) error {
	n.status.Mode = mode
	return nil
}

func (n *Noop) GotoPosition(ctx context.Context, lat, lon, altM float64) error { return nil }
