// Package main is the entry point for the relay binary: it tunnels traffic
// from drones that can't reach the ground server directly, accepting
// inbound connections on TCP and/or RFCOMM and splicing each to an outbound
// TCP connection to the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/relay/internal/splice"
	"github.com/skylinkc2/skylink/shared/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	serverAddr    string
	tcpListen     string
	rfcommChannel int
	enableRFCOMM  bool
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
		Use:   "skylink-relay",
		Short: "Skylink relay — tunnels drone traffic to the ground server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.serverAddr, "server", envOrDefault("RELAY_SERVER", "127.0.0.1:8080"), "Ground server address to relay traffic to")
	root.PersistentFlags().StringVar(&cfg.tcpListen, "tcp-listen", envOrDefault("RELAY_TCP_LISTEN", "0.0.0.0:9000"), "TCP address to accept inbound drone connections on")
	root.PersistentFlags().IntVar(&cfg.rfcommChannel, "rfcomm-channel", envIntOrDefault("RELAY_RFCOMM_CHANNEL", transport.DefaultRFCOMMChannel), "RFCOMM channel to accept on when enabled")
	root.PersistentFlags().BoolVar(&cfg.enableRFCOMM, "enable-rfcomm", enableRFCOMMFromEnv(), "Also accept inbound connections on the RFCOMM (simulated) channel")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("RELAY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skylink-relay %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting skylink relay",
		zap.String("version", version),
		zap.String("server", cfg.serverAddr),
		zap.String("tcp_listen", cfg.tcpListen),
	)

	tcpLn, err := transport.ListenTCP(cfg.tcpListen)
	if err != nil {
		return fmt.Errorf("relay: listen tcp %s: %w", cfg.tcpListen, err)
	}
	defer tcpLn.Close()

	go acceptLoop(ctx, tcpLn, cfg.serverAddr, "tcp", logger)

	if cfg.enableRFCOMM {
		rfAddr := cfg.tcpListen // simulated RFCOMM binds its own TCP-simulation address; reuse tcp-listen's host with the relay's dedicated channel semantics handled at the application layer
		rfLn, err := transport.ListenRFCOMM(rfAddr, cfg.rfcommChannel)
		if err != nil {
			logger.Warn("failed to start rfcomm (simulated) listener", zap.Error(err))
		} else {
			defer rfLn.Close()
			go acceptLoop(ctx, rfLn, cfg.serverAddr, "rfcomm", logger)
		}
	}

	<-ctx.Done()
	logger.Info("skylink relay stopped")
	return nil
}

// listener is the minimal accept capability shared by transport.TCPListener
// and transport.RFCOMMListener.
type listener interface {
	Accept() (transport.Stream, error)
}

func acceptLoop(ctx context.Context, ln listener, serverAddr, label string, logger *zap.Logger) {
	connector := transport.NewTCPConnector(serverAddr, "relay-upstream")

	for {
		inbound, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept failed", zap.String("listener", label), zap.Error(err))
			continue
		}

		id := uuid.NewString()
		logger.Info("accepted inbound connection", zap.String("connection_id", id), zap.String("listener", label))

		go func() {
			defer inbound.Close()

			outbound, err := connector.Connect(ctx)
			if err != nil {
				logger.Warn("failed to dial server, dropping inbound connection",
					zap.String("connection_id", id), zap.Error(err))
				return
			}
			defer outbound.Close()

			splice.Run(inbound, outbound, logger, id)
			logger.Info("connection closed", zap.String("connection_id", id))
		}()
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

func enableRFCOMMFromEnv() bool {
	v := strings.ToLower(os.Getenv("RELAY_ENABLE_RFCOMM"))
	return v == "1" || v == "true"
}
