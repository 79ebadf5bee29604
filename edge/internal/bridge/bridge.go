// Package bridge defines the flight-controller capability the Command
// Executor drives, and a no-op double for tests and ground-rig runs with no
// autopilot attached.
package bridge

import "context"

// Status is the bridge's self-reported snapshot, returned by RequestStatus.
// Armed/GPSLock/Mode/ErrorCount/Faults populate Telemetry's FlightController
// field; Position and Battery populate Telemetry's GPS and Battery fields.
type Status struct {
	Armed      bool
	GPSLock    bool
	Mode       string
	ErrorCount uint32
	Faults     []string

	Position Position
	Battery  BatteryState
}

// Position is the autopilot's last-reported GPS fix.
type Position struct {
	Lat        float64
	Lon        float64
	AltM       float64
	HeadingDeg float64
	SpeedMS    float64
	Satellites uint32
	HDOP       float64
}

// BatteryState is the autopilot's last-reported power state.
type BatteryState struct {
	VoltageV         float64
	CurrentA         float64
	RemainingPercent uint32
	SecondsRemaining uint32
}

// Params carries command-specific arguments (e.g. "lat"/"lon"/"alt" for a
// mission start, arbitrary keys for a config update). Mirrors
// wire.Command.Params so handlers can pass it straight through.
type Params map[string]string

// Bridge is the capability surface the executor's per-command-type handlers
// call into. Implementations own the actual link to the autopilot (MAVLink,
// a simulator, or a no-op for testing).
type Bridge interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Takeoff(ctx context.Context, altitudeM float64) error
	Land(ctx context.Context) error
	ReturnToHome(ctx context.Context, params Params) error
	StartMission(ctx context.Context, params Params) error
	AbortMission(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	RequestStatus(ctx context.Context) (Status, error)
	SetMode(ctx context.Context, mode string) error
	GotoPosition(ctx context.Context, lat, lon, altM float64) error
}
