package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// groundStationSystemID is the MAV system ID this bridge presents as —
// identifies us to the autopilot as a ground control station, satisfying
// PX4's data-link-loss failsafe requirement.
const groundStationSystemID = 255

// MavlinkConfig configures the serial link to the flight controller.
type MavlinkConfig struct {
	Port     string
	BaudRate int
}

// Mavlink drives a real flight controller over a MAVLink v2 serial link via
// gomavlib. It satisfies Bridge.
type Mavlink struct {
	node *gomavlib.Node

	mu           sync.RWMutex
	systemID     uint8
	armed        bool
	mode         uint32
	battery      uint32
	batteryVoltV float64
	batteryCurrA float64
	gpsLock      bool
	lat, lon     float64
	altM         float64
	headingDeg   float64
	speedMS      float64
	satellites   uint32
	hdop         float64
	faults       []string
}

// NewMavlink opens a gomavlib node on cfg.Port and starts its listener and
// ground-station heartbeat goroutines. The returned Mavlink is ready to
// receive Bridge calls once the autopilot's own HEARTBEAT arrives.
func NewMavlink(cfg MavlinkConfig) (*Mavlink, error) {
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{Device: cfg.Port, Baud: cfg.BaudRate},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: groundStationSystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: open mavlink node on %s: %w", cfg.Port, err)
	}

	m := &Mavlink{node: node}
	go m.listen()
	go m.sendGroundStationHeartbeat()
	return m, nil
}

func (m *Mavlink) sendGroundStationHeartbeat() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.node.WriteMessageAll(&common.MessageHeartbeat{
			Type:         common.MAV_TYPE_GCS,
			Autopilot:    common.MAV_AUTOPILOT_INVALID,
			SystemStatus: common.MAV_STATE_ACTIVE,
		})
	}
}

func (m *Mavlink) listen() {
	for evt := range m.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		switch msg := frm.Message().(type) {
		case *common.MessageHeartbeat:
			m.mu.Lock()
			m.systemID = frm.SystemID()
			m.armed = msg.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
			m.mode = msg.CustomMode
			m.mu.Unlock()
		case *common.MessageSysStatus:
			m.mu.Lock()
			m.battery = uint32(msg.BatteryRemaining)
			m.batteryVoltV = float64(msg.VoltageBattery) / 1000
			m.batteryCurrA = float64(msg.CurrentBattery) / 100
			healthy := msg.OnboardControlSensorsHealth&msg.OnboardControlSensorsEnabled == msg.OnboardControlSensorsEnabled
			if !healthy {
				m.faults = []string{"sensor health check failed"}
			} else {
				m.faults = nil
			}
			m.mu.Unlock()
		case *common.MessageGpsRawInt:
			m.mu.Lock()
			m.gpsLock = msg.FixType >= common.GPS_FIX_TYPE_3D_FIX
			m.lat = float64(msg.Lat) / 1e7
			m.lon = float64(msg.Lon) / 1e7
			m.altM = float64(msg.Alt) / 1000
			m.headingDeg = float64(msg.Cog) / 100
			m.speedMS = float64(msg.Vel) / 100
			m.satellites = uint32(msg.SatellitesVisible)
			m.hdop = float64(msg.Eph) / 100
			m.mu.Unlock()
		}
	}
}

func (m *Mavlink) target() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemID
}

func (m *Mavlink) commandLong(cmd common.MAV_CMD, params ...float32) error {
	var p [7]float32
	copy(p[:], params)
	return m.node.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    m.target(),
		TargetComponent: 1,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	})
}

func (m *Mavlink) Arm(ctx context.Context) error {
	return m.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

func (m *Mavlink) Disarm(ctx context.Context) error {
	return m.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
}

func (m *Mavlink) Takeoff(ctx context.Context, altitudeM float64) error {
	return m.commandLong(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitudeM))
}

func (m *Mavlink) Land(ctx context.Context) error {
	return m.commandLong(common.MAV_CMD_NAV_LAND)
}

func (m *Mavlink) ReturnToHome(ctx context.Context, params Params) error {
	return m.commandLong(common.MAV_CMD_NAV_RETURN_TO_LAUNCH)
}

func (m *Mavlink) StartMission(ctx context.Context, params Params) error {
	return m.commandLong(common.MAV_CMD_MISSION_START)
}

func (m *Mavlink) AbortMission(ctx context.Context) error {
	return m.commandLong(common.MAV_CMD_DO_SET_MODE, float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), 0)
}

func (m *Mavlink) EmergencyStop(ctx context.Context) error {
	return m.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, 0, 21196) // force-disarm magic param2
}

func (m *Mavlink) RequestStatus(ctx context.Context) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Armed:      m.armed,
		GPSLock:    m.gpsLock,
		Mode:       fmt.Sprintf("%d", m.mode),
		ErrorCount: uint32(len(m.faults)),
		Faults:     append([]string(nil), m.faults...),
		Position: Position{
			Lat:        m.lat,
			Lon:        m.lon,
			AltM:       m.altM,
			HeadingDeg: m.headingDeg,
			SpeedMS:    m.speedMS,
			Satellites: m.satellites,
			HDOP:       m.hdop,
		},
		Battery: BatteryState{
			VoltageV:         m.batteryVoltV,
			CurrentA:         m.batteryCurrA,
			RemainingPercent: m.battery,
		},
	}, nil
}

func (m *Mavlink) SetMode(ctx context.Context, mode string) error {
	var px4Mode uint32
	if _, err := fmt.Sscanf(mode, "%d", &px4Mode); err != nil {
		return fmt.Errorf("bridge: invalid mode %q: %w", mode, err)
	}
	return m.commandLong(common.MAV_CMD_DO_SET_MODE, float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(px4Mode))
}

func (m *Mavlink) GotoPosition(ctx context.Context, lat, lon, altM float64) error {
	return m.node.WriteMessageAll(&common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    m.target(),
		TargetComponent: 1,
		TimeBootMs:      uint32(time.Now().UnixMilli()),
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask: common.POSITION_TARGET_TYPEMASK(
			1<<3 | 1<<4 | 1<<5 | 1<<6 | 1<<7 | 1<<8 | 1<<10 | 1<<11,
		),
		LatInt: int32(lat * 1e7),
		LonInt: int32(lon * 1e7),
		Alt:    float32(altM),
	})
}

// Close shuts down the underlying node.
func (m *Mavlink) Close() error {
	m.node.Close()
	return nil
}
