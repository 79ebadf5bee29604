package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/alert"
	"github.com/skylinkc2/skylink/server/internal/api"
	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/fleetserver"
	"github.com/skylinkc2/skylink/server/internal/metrics"
	"github.com/skylinkc2/skylink/server/internal/opsauth"
	"github.com/skylinkc2/skylink/server/internal/opsfeed"
	"github.com/skylinkc2/skylink/server/internal/roster"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/transport"
	"github.com/skylinkc2/skylink/shared/wire"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr           string
	tcpAddr            string
	rfcommAddr         string
	rfcommChannel      int
	enableRFCOMM       bool
	operatorCredential string
	webhookURL         string
	webhookSecret      string
	rosterPath         string
	logLevel           string
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
		Use:   "skylink-server",
		Short: "Skylink ground server — fleet registry, command dispatch, and operator API",
		Long: `Skylink server is the ground station component of the fleet control plane.
It accepts edge/relay connections over the length-prefixed wire protocol,
tracks live drone sessions, dispatches and retries operator commands, and
exposes an HTTP control surface and live event feed for dashboards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("SKYLINK_HTTP_ADDR", ":8081"), "HTTP operator API and /metrics listen address")
	root.PersistentFlags().StringVar(&cfg.tcpAddr, "tcp-addr", envOrDefault("SKYLINK_TCP_ADDR", ":8080"), "TCP listen address for edge/relay wire connections")
	root.PersistentFlags().StringVar(&cfg.rfcommAddr, "rfcomm-addr", envOrDefault("SKYLINK_RFCOMM_ADDR", ":9091"), "RFCOMM (simulated) listen address")
	root.PersistentFlags().IntVar(&cfg.rfcommChannel, "rfcomm-channel", intEnvOrDefault("SKYLINK_RFCOMM_CHANNEL", transport.DefaultRFCOMMChannel), "RFCOMM channel number")
	root.PersistentFlags().BoolVar(&cfg.enableRFCOMM, "enable-rfcomm", envOrDefault("SKYLINK_ENABLE_RFCOMM", "false") == "true", "Also accept connections on the RFCOMM (simulated) listener")
	root.PersistentFlags().StringVar(&cfg.operatorCredential, "operator-credential", envOrDefault("SKYLINK_OPERATOR_CREDENTIAL", ""), "Shared credential operators present to obtain a bearer token (required)")
	root.PersistentFlags().StringVar(&cfg.webhookURL, "alert-webhook-url", envOrDefault("SKYLINK_ALERT_WEBHOOK_URL", ""), "Webhook URL for safety-critical fleet alerts (empty = disabled)")
	root.PersistentFlags().StringVar(&cfg.webhookSecret, "alert-webhook-secret", envOrDefault("SKYLINK_ALERT_WEBHOOK_SECRET", ""), "HMAC secret for signing webhook alert payloads")
	root.PersistentFlags().StringVar(&cfg.rosterPath, "roster-path", envOrDefault("SKYLINK_ROSTER_PATH", ""), "Fleet roster YAML file (empty = fleet listing only reports live sessions)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("SKYLINK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skylink-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.operatorCredential == "" {
		return fmt.Errorf("operator credential is required — set --operator-credential or SKYLINK_OPERATOR_CREDENTIAL")
	}

	logger.Info("starting skylink server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("tcp_addr", cfg.tcpAddr),
		zap.Bool("rfcomm_enabled", cfg.enableRFCOMM),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Core registries ---
	sessions := sessionmgr.New(logger)
	disp := dispatcher.New(sessions, logger)
	feed := opsfeed.NewHub()
	reg := metrics.New(prometheus.DefaultRegisterer)
	disp.SetMetrics(reg)

	authMgr, err := opsauth.NewGenerated("skylink-server", cfg.operatorCredential)
	if err != nil {
		return fmt.Errorf("failed to initialize operator auth: %w", err)
	}

	alertSender := alert.New(alert.Config{URL: cfg.webhookURL, Secret: cfg.webhookSecret})

	var fleetRoster *roster.Registry
	if cfg.rosterPath != "" {
		fleetRoster, err = roster.Load(cfg.rosterPath)
		if err != nil {
			return fmt.Errorf("failed to load fleet roster: %w", err)
		}
		logger.Info("loaded fleet roster", zap.String("path", cfg.rosterPath), zap.Int("devices", len(fleetRoster.Devices)))
	}

	// --- Wire session/state events into the ops feed and alerting ---
	sessions.OnDeadSession(func(deviceID string) {
		feed.Publish("fleet", opsfeed.Message{
			Type:    opsfeed.MsgDisconnected,
			Topic:   "fleet",
			Payload: map[string]any{"device_id": deviceID},
		})
		if err := alertSender.Send(ctx, alert.EventSessionDead, "Session evicted", deviceID+" stopped sending heartbeats", nil); err != nil {
			logger.Warn("alert send failed", zap.Error(err))
		}
	})

	fleetSrv := fleetserver.New(sessions, disp, logger)
	fleetSrv.OnStateChanged(func(deviceID string, state wire.DroneState) {
		feed.Publish("device:"+deviceID, opsfeed.Message{
			Type:    opsfeed.MsgStateChanged,
			Topic:   "device:" + deviceID,
			Payload: map[string]any{"device_id": deviceID, "state": state.String()},
		})
		if eventType, critical := alertEventForState(state); critical {
			if err := alertSender.Send(ctx, eventType, "Drone state changed", deviceID+" entered "+state.String(), map[string]any{"device_id": deviceID}); err != nil {
				logger.Warn("alert send failed", zap.Error(err))
			}
		}
	})

	// --- Background sweeps ---
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sessions.StartSweep(cron); err != nil {
		return fmt.Errorf("failed to register session sweep: %w", err)
	}
	if err := disp.StartSweep(cron); err != nil {
		return fmt.Errorf("failed to register dispatcher sweep: %w", err)
	}
	cron.Start()
	defer func() {
		if err := cron.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	go pollGauges(ctx, sessions, disp, reg)

	// --- Wire listeners ---
	tcpLn, err := transport.ListenTCP(cfg.tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on tcp %s: %w", cfg.tcpAddr, err)
	}
	go func() {
		logger.Info("tcp listener accepting connections", zap.String("addr", cfg.tcpAddr))
		if err := fleetSrv.Serve(ctx, tcpLn, "tcp"); err != nil {
			logger.Error("tcp accept loop error", zap.Error(err))
			cancel()
		}
	}()

	if cfg.enableRFCOMM {
		rfcommLn, err := transport.ListenRFCOMM(cfg.rfcommAddr, cfg.rfcommChannel)
		if err != nil {
			return fmt.Errorf("failed to listen on rfcomm %s: %w", cfg.rfcommAddr, err)
		}
		go func() {
			logger.Info("rfcomm listener accepting connections", zap.String("addr", cfg.rfcommAddr))
			if err := fleetSrv.Serve(ctx, rfcommLn, "rfcomm"); err != nil {
				logger.Error("rfcomm accept loop error", zap.Error(err))
				cancel()
			}
		}()
	}

	// --- Ops feed hub ---
	go feed.Run(ctx)

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Sessions:   sessions,
		Dispatcher: disp,
		Auth:       authMgr,
		Feed:       feed,
		Roster:     fleetRoster,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down skylink server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}
	_ = tcpLn.Close()

	logger.Info("skylink server stopped")
	return nil
}

// alertEventForState maps a safety-critical drone state to the alert event
// it should fire, reporting critical=false for every other state.
func alertEventForState(state wire.DroneState) (alert.EventType, bool) {
	switch state {
	case wire.DroneStateEmergency:
		return alert.EventEmergency, true
	case wire.DroneStateReturningHome:
		return alert.EventReturningHome, true
	default:
		return "", false
	}
}

// pollGauges periodically snapshots point-in-time registry sizes into the
// metrics registry's gauges — these are not discrete events, so nothing
// increments them inline the way the dispatch counters are.
func pollGauges(ctx context.Context, sessions *sessionmgr.Manager, disp *dispatcher.Dispatcher, reg *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ConnectedDevices.Set(float64(sessions.Count()))
			reg.PendingCommands.Set(float64(disp.PendingCount()))
		}
	}
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
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
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

func intEnvOrDefault(key string, defaultVal int) int {
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
