// Package models defines the data structures shared between the metrics
// sources, the cache, and the monitor. These structures are serialized to
// JSON for consumption by presentation layers.
package models

import "sort"

// HostMetricsSnapshot represents a single point-in-time view of the host's
// CPU, memory, and disk levels.
//
// CPUIdleSecondsTotal and CPUTotalSecondsTotal are cumulative counters
// since boot. They exist only so the next snapshot can compute a delta;
// they are not meaningful in isolation.
type HostMetricsSnapshot struct {
	CPUUsagePercent      float64     `json:"cpu_usage_percent"`
	CPUIdleSecondsTotal  float64     `json:"cpu_idle_seconds_total"`
	CPUTotalSecondsTotal float64     `json:"cpu_total_seconds_total"`
	MemoryTotalBytes     uint64      `json:"memory_total_bytes"`
	MemoryAvailableBytes uint64      `json:"memory_available_bytes"`
	Mounts               []DiskMount `json:"mounts"`
	Valid                bool        `json:"valid"`
	ErrorMessage         string      `json:"error_message,omitempty"`
}

// InvalidSnapshot returns a snapshot marked invalid with the given reason.
// Numeric fields keep their zero defaults and must not be trusted.
func InvalidSnapshot(reason string) HostMetricsSnapshot {
	return HostMetricsSnapshot{ErrorMessage: reason}
}

// MemoryUsedBytes returns total minus available memory.
func (s HostMetricsSnapshot) MemoryUsedBytes() uint64 {
	if s.MemoryAvailableBytes > s.MemoryTotalBytes {
		return 0
	}
	return s.MemoryTotalBytes - s.MemoryAvailableBytes
}

// MemoryUsagePercent returns used memory as a percentage of total,
// or 0 when total is unknown.
func (s HostMetricsSnapshot) MemoryUsagePercent() float64 {
	if s.MemoryTotalBytes == 0 {
		return 0
	}
	return float64(s.MemoryUsedBytes()) / float64(s.MemoryTotalBytes) * 100
}

// SortMounts orders the mount list by mount point for deterministic output.
func (s *HostMetricsSnapshot) SortMounts() {
	sort.Slice(s.Mounts, func(i, j int) bool {
		return s.Mounts[i].MountPoint < s.Mounts[j].MountPoint
	})
}

// DiskMount represents usage for a single mounted filesystem.
type DiskMount struct {
	MountPoint     string `json:"mount_point"`
	TotalBytes     uint64 `json:"total_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	FilesystemType string `json:"filesystem_type,omitempty"`
}

// UsedBytes returns total minus available bytes.
func (m DiskMount) UsedBytes() uint64 {
	if m.AvailableBytes > m.TotalBytes {
		return 0
	}
	return m.TotalBytes - m.AvailableBytes
}

// UsagePercent returns used space as a percentage of total, or 0 when
// the mount reports zero size.
func (m DiskMount) UsagePercent() float64 {
	if m.TotalBytes == 0 {
		return 0
	}
	return float64(m.UsedBytes()) / float64(m.TotalBytes) * 100
}
