// Local metrics source — gathers the same snapshot shape as the scraper
// from the host itself via gopsutil, for machines that run no
// node-exporter. The cumulative CPU counters are populated so the cache's
// delta computation works identically over either source.
package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/statuspoll/agent/internal/models"
)

// Local collects host metrics in-process.
type Local struct {
	logger *zap.Logger
}

// NewLocal creates a local metrics source.
func NewLocal(logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{logger: logger}
}

// Fetch gathers CPU, memory, and disk levels. Like the scraper, it is
// total: any collection failure produces an invalid snapshot.
func (l *Local) Fetch(ctx context.Context) models.HostMetricsSnapshot {
	var snap models.HostMetricsSnapshot

	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		return models.InvalidSnapshot(fmt.Sprintf("reading cpu times: %v", err))
	}
	t := times[0]
	snap.CPUIdleSecondsTotal = t.Idle
	snap.CPUTotalSecondsTotal = t.User + t.System + t.Idle + t.Nice +
		t.Iowait + t.Irq + t.Softirq + t.Steal
	if snap.CPUTotalSecondsTotal == 0 {
		return models.InvalidSnapshot("no CPU metrics parsed")
	}
	snap.CPUUsagePercent = SingleSampleUsage(snap.CPUIdleSecondsTotal, snap.CPUTotalSecondsTotal)

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.InvalidSnapshot(fmt.Sprintf("reading memory: %v", err))
	}
	snap.MemoryTotalBytes = vm.Total
	snap.MemoryAvailableBytes = vm.Available
	if snap.MemoryTotalBytes == 0 {
		return models.InvalidSnapshot("no memory metrics parsed")
	}

	// Disk failures are non-fatal: the snapshot stays valid with an
	// empty mount list.
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		l.logger.Debug("Listing partitions failed", zap.Error(err))
		partitions = nil
	}
	for _, p := range partitions {
		if isPseudoMountPath(p.Mountpoint) || !realFSTypes[p.Fstype] {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		snap.Mounts = append(snap.Mounts, models.DiskMount{
			MountPoint:     p.Mountpoint,
			TotalBytes:     usage.Total,
			AvailableBytes: usage.Free,
			FilesystemType: p.Fstype,
		})
	}
	snap.SortMounts()

	snap.Valid = true
	return snap
}

var (
	_ Source = (*Local)(nil)
	_ Source = (*Scraper)(nil)
)
