// Package main is the entry point for the edge-agent binary that runs on a
// drone's companion computer.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build the flight-controller bridge (MAVLink, or a no-op for a rig
//     with no autopilot attached)
//  4. Build the Safety Monitor, Command Executor, and Connection Manager
//  5. Start the Safety Monitor's periodic check, the Connection Manager's
//     session loop, and the dispatch loop that turns inbound Command
//     envelopes into Ack envelopes
//  6. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/edge/internal/bridge"
	"github.com/skylinkc2/skylink/edge/internal/connection"
	"github.com/skylinkc2/skylink/edge/internal/executor"
	"github.com/skylinkc2/skylink/edge/internal/hostmetrics"
	"github.com/skylinkc2/skylink/edge/internal/safetymonitor"
	"github.com/skylinkc2/skylink/edge/internal/seqcounter"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	deviceID      string
	serverAddr    string
	rfcommAddr    string
	rfcommChannel int
	mavlinkPort   string
	mavlinkBaud   int
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "skylink-edge",
		Short: "Skylink edge agent — runs on a drone's companion computer",
		Long: `skylink-edge connects to the ground server (directly or through a relay),
drives the drone's safety state machine, and executes commands against an
attached flight controller.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.deviceID, "device-id", envOrDefault("SKYLINK_DEVICE_ID", ""), "Unique device identifier (required)")
	root.PersistentFlags().StringVar(&cfg.serverAddr, "server-addr", envOrDefault("SKYLINK_SERVER_ADDR", "127.0.0.1:8080"), "Primary (5G/TCP) server or relay address")
	root.PersistentFlags().StringVar(&cfg.rfcommAddr, "rfcomm-addr", envOrDefault("SKYLINK_RFCOMM_ADDR", ""), "Fallback RFCOMM (simulated) peer address; empty disables the fallback connector")
	root.PersistentFlags().IntVar(&cfg.rfcommChannel, "rfcomm-channel", envIntOrDefault("SKYLINK_RFCOMM_CHANNEL", transport.DefaultRFCOMMChannel), "RFCOMM channel")
	root.PersistentFlags().StringVar(&cfg.mavlinkPort, "mavlink-port", envOrDefault("SKYLINK_MAVLINK_PORT", ""), "Serial device for the MAVLink flight-controller link; empty uses a no-op bridge")
	root.PersistentFlags().IntVar(&cfg.mavlinkBaud, "mavlink-baud", envIntOrDefault("SKYLINK_MAVLINK_BAUD", 57600), "MAVLink serial baud rate")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("SKYLINK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skylink-edge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.deviceID == "" {
		return fmt.Errorf("device-id is required (set --device-id or SKYLINK_DEVICE_ID)")
	}

	logger.Info("starting skylink edge agent",
		zap.String("version", version),
		zap.String("device_id", cfg.deviceID),
		zap.String("server", cfg.serverAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Flight-controller bridge ---
	fcBridge, closeBridge := buildBridge(cfg, logger)
	if closeBridge != nil {
		defer closeBridge()
	}

	// --- Safety Monitor ---
	monitor := safetymonitor.New(logger)
	go monitor.Run(ctx)
	go hostHealthLoop(ctx, monitor, logger)

	// --- Shared sequence counter (heartbeats + Acks draw from one stream) ---
	seq := &seqcounter.Counter{}

	// --- Command Executor ---
	exec := executor.New(cfg.deviceID, fcBridge, monitor, seq, logger)

	// --- Connectors: primary TCP, optional RFCOMM-simulated fallback ---
	connectors := []transport.Connector{
		transport.NewTCPConnector(cfg.serverAddr, "primary/tcp"),
	}
	if cfg.rfcommAddr != "" {
		connectors = append(connectors, transport.NewRFCOMMConnector(cfg.rfcommAddr, cfg.rfcommChannel, "fallback/rfcomm"))
	}

	mgr := connection.New(connection.Config{
		DeviceID:   cfg.deviceID,
		Connectors: connectors,
	}, monitor, seq, logger)

	// --- Dispatch loop: Received Command envelopes -> executor -> Send Ack ---
	go dispatchLoop(ctx, mgr, exec, monitor, logger)

	// --- Telemetry loop: sample the flight controller and publish at 1 Hz ---
	go telemetryLoop(ctx, mgr, fcBridge, monitor, seq, cfg.deviceID, logger)

	// Run blocks until ctx is cancelled (SIGINT/SIGTERM).
	mgr.Run(ctx)

	logger.Info("skylink edge agent stopped")
	return nil
}

// dispatchLoop drains Received ConnectionEvents, executes any Command
// payload, and enqueues the resulting Ack for send. It also logs the other
// event kinds and applies the safety monitor's heartbeat-liveness bookkeeping
// on every event observed from the server.
func dispatchLoop(ctx context.Context, mgr *connection.Manager, exec *executor.Executor, monitor *safetymonitor.Monitor, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mgr.Events():
			switch ev.Kind {
			case connection.EventConnected:
				logger.Info("connected", zap.String("transport", ev.Transport))
			case connection.EventDisconnected:
				logger.Warn("disconnected", zap.String("reason", ev.Reason))
			case connection.EventTransportSwitched:
				logger.Warn("transport switched", zap.String("from", ev.From), zap.String("to", ev.To))
			case connection.EventConnectionFailed:
				logger.Warn("connection failed", zap.String("reason", ev.Reason))
			case connection.EventReceived:
				monitor.RecordServerHeartbeat(time.Now().UnixMilli())
				handleReceived(ctx, ev.Envelope, mgr, exec, monitor, logger)
			}
		}
	}
}

func handleReceived(ctx context.Context, env *wire.Envelope, mgr *connection.Manager, exec *executor.Executor, monitor *safetymonitor.Monitor, logger *zap.Logger) {
	if env.Command == nil {
		return
	}
	ack := exec.Execute(ctx, env.Header, env.Command)
	if !mgr.Send(ack) {
		logger.Warn("failed to enqueue ack, outbound queue full", zap.Uint64("command_id", env.Command.CommandID))
	}
}

// telemetryInterval is the publication cadence: at least once per second
// while connected.
const telemetryInterval = 1 * time.Second

// telemetryLoop samples the flight-controller bridge every telemetryInterval
// and enqueues the resulting Telemetry envelope for send. RecordBattery feeds
// the bridge's last-reported charge into the Safety Monitor's battery-
// critical check, so this loop is also the only source of battery readings
// the monitor ever sees on a real airframe.
func telemetryLoop(ctx context.Context, mgr *connection.Manager, br bridge.Bridge, monitor *safetymonitor.Monitor, seq *seqcounter.Counter, deviceID string, logger *zap.Logger) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := br.RequestStatus(ctx)
			if err != nil {
				logger.Warn("telemetry: request status failed", zap.Error(err))
				continue
			}
			monitor.RecordBattery(int(status.Battery.RemainingPercent))

			env := buildTelemetry(deviceID, seq, monitor, status)
			if !mgr.Send(env) {
				logger.Warn("failed to enqueue telemetry, outbound queue full")
			}
		}
	}
}

// buildTelemetry assembles a Telemetry envelope from the monitor's current
// safety state and the bridge's latest self-reported status.
func buildTelemetry(deviceID string, seq *seqcounter.Counter, monitor *safetymonitor.Monitor, status bridge.Status) *wire.Envelope {
	return &wire.Envelope{
		Header: wire.Header{
			DeviceID:    deviceID,
			SequenceNum: seq.Next(),
			TimestampMs: uint64(time.Now().UnixMilli()),
			Type:        wire.MessageTypeTelemetry,
		},
		Telemetry: &wire.Telemetry{
			GPS: wire.GPS{
				Lat:        status.Position.Lat,
				Lon:        status.Position.Lon,
				AltM:       status.Position.AltM,
				HeadingDeg: status.Position.HeadingDeg,
				SpeedMS:    status.Position.SpeedMS,
				Satellites: status.Position.Satellites,
				HDOP:       status.Position.HDOP,
			},
			Battery: wire.Battery{
				VoltageV:         status.Battery.VoltageV,
				CurrentA:         status.Battery.CurrentA,
				RemainingPercent: status.Battery.RemainingPercent,
				SecondsRemaining: status.Battery.SecondsRemaining,
			},
			State:       monitor.CurrentWireState(),
			FC:          wire.FlightController{Armed: status.Armed, GPSLock: status.GPSLock, Mode: status.Mode, ErrorCount: status.ErrorCount, Faults: status.Faults},
			UptimeMs:    monitor.UptimeMs(),
			LinkQuality: linkQuality(status),
		},
	}
}

// linkQuality derives a 0-100 score from the bridge's reported faults — a
// coarse signal until a real link-budget measurement exists.
func linkQuality(status bridge.Status) uint32 {
	q := 100 - 10*len(status.Faults)
	if q < 0 {
		q = 0
	}
	return uint32(q)
}

// hostHealthLoop samples companion-computer resource usage every 5 seconds
// and feeds the result into the safety monitor's Heartbeat.healthy flag.
func hostHealthLoop(ctx context.Context, monitor *safetymonitor.Monitor, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := hostmetrics.Collect(ctx)
			if err != nil {
				logger.Warn("host metrics collection failed", zap.Error(err))
				continue
			}
			monitor.RecordHostHealth(snap.Healthy())
		}
	}
}

// buildBridge wires the flight-controller bridge: a real MAVLink link when
// mavlink-port is set, otherwise a no-op so the agent runs end-to-end on a
// rig with no autopilot attached. The returned close func is nil for the
// no-op bridge.
func buildBridge(cfg *config, logger *zap.Logger) (bridge.Bridge, func()) {
	if cfg.mavlinkPort == "" {
		logger.Warn("mavlink-port not set, using no-op flight-controller bridge")
		return bridge.NewNoop(), nil
	}

	mav, err := bridge.NewMavlink(bridge.MavlinkConfig{Port: cfg.mavlinkPort, BaudRate: cfg.mavlinkBaud})
	if err != nil {
		logger.Warn("failed to open mavlink bridge, falling back to no-op", zap.Error(err))
		return bridge.NewNoop(), nil
	}
	logger.Info("mavlink bridge ready", zap.String("port", cfg.mavlinkPort))
	return mav, func() { mav.Close() }
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
