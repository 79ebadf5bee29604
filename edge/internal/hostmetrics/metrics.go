// Package hostmetrics collects companion-computer resource utilization that
// feeds the Heartbeat envelope's healthy flag, read through gopsutil.
package hostmetrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Thresholds above which the companion computer is considered unhealthy for
// heartbeat-reporting purposes. These are host-resource thresholds, distinct
// from the flight-critical safety conditions in shared/safety.
const (
	CPUUnhealthyPercent  = 95.0
	MemUnhealthyPercent  = 95.0
	DiskUnhealthyPercent = 95.0
)

// Snapshot is a point-in-time read of companion-computer resource usage.
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Healthy reports whether the snapshot is within the unhealthy thresholds.
func (s Snapshot) Healthy() bool {
	return s.CPUPercent < CPUUnhealthyPercent &&
		s.MemPercent < MemUnhealthyPercent &&
		s.DiskPercent < DiskUnhealthyPercent
}

// Collect samples CPU, memory, and disk utilization for the root filesystem.
// A short CPU sampling window (200ms) is used rather than a 0-duration call,
// which would otherwise return 0 on the first invocation.
func Collect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	cpuPercents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err == nil && len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap, nil
}
