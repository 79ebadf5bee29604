// Package main implements a one-shot command that adds or updates a device
// in the fleet roster file the server reads at startup, so an operator
// dashboard can show a device before it has ever connected. It lives inside
// the server module so it can access server/internal/* packages.
//
// Usage (from monorepo root):
//
//	go run ./server/cmd/seed \
//	  --roster ./roster.yaml \
//	  --device-id drone-1 \
//	  --label "North Field Surveyor"
//
// Environment variables:
//
//	SKYLINK_ROSTER_PATH  Roster YAML file path (default: ./roster.yaml)
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/skylinkc2/skylink/server/internal/roster"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	rosterPath := flag.String("roster", envOrDefault("SKYLINK_ROSTER_PATH", "./roster.yaml"), "Path to the fleet roster YAML file")
	deviceID := flag.String("device-id", "", "Device id as it appears on the wire (required)")
	label := flag.String("label", "", "Human-readable label shown on dashboards (required)")
	flag.Parse()

	if *deviceID == "" {
		return fmt.Errorf("--device-id is required")
	}
	if *label == "" {
		return fmt.Errorf("--label is required")
	}

	// ─── Load, upsert, save ───────────────────────────────────────────────────

	reg, err := roster.Load(*rosterPath)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	reg.Upsert(roster.Device{ID: *deviceID, Label: *label})

	if err := reg.Save(*rosterPath); err != nil {
		return fmt.Errorf("save roster: %w", err)
	}

	fmt.Printf("✓ Device upserted\n")
	fmt.Printf("  Roster: %s\n", *rosterPath)
	fmt.Printf("  ID:     %s\n", *deviceID)
	fmt.Printf("  Label:  %s\n", *label)
	fmt.Printf("  Total devices in roster: %d\n", len(reg.Devices))

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
