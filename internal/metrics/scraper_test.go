package metrics

import (
	"bufio"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/statuspoll/agent/internal/models"
)

func parseText(t *testing.T, text string) models.HostMetricsSnapshot {
	t.Helper()
	return Parse(bufio.NewScanner(strings.NewReader(text)))
}

const sampleExposition = `# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 100
node_cpu_seconds_total{cpu="0",mode="user"} 300
node_memory_MemTotal_bytes 8000000000
node_memory_MemAvailable_bytes 2000000000
node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 1000
node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 400
node_filesystem_free_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 450
node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/tmp"} 500
node_filesystem_size_bytes{device="proc",fstype="ext4",mountpoint="/proc/foo"} 500
node_filesystem_avail_bytes{device="proc",fstype="ext4",mountpoint="/proc/foo"} 100
node_filesystem_size_bytes{device="/dev/sdb1",fstype="xfs",mountpoint="/data"} 0
node_filesystem_size_bytes{device="/dev/sdc1",fstype="btrfs",mountpoint="/backup"} 2000
node_filesystem_free_bytes{device="/dev/sdc1",fstype="btrfs",mountpoint="/backup"} 1500
`

func TestParse_CPUSingleSample(t *testing.T) {
	snap := parseText(t, sampleExposition)
	if !snap.Valid {
		t.Fatalf("snapshot invalid: %s", snap.ErrorMessage)
	}
	// total=400 (idle included), idle=100 -> 75%
	if math.Abs(snap.CPUUsagePercent-75.0) > 1e-9 {
		t.Errorf("CPUUsagePercent = %v, want 75.0", snap.CPUUsagePercent)
	}
	if snap.CPUIdleSecondsTotal != 100 || snap.CPUTotalSecondsTotal != 400 {
		t.Errorf("counters = (%v, %v), want (100, 400)",
			snap.CPUIdleSecondsTotal, snap.CPUTotalSecondsTotal)
	}
}

func TestParse_Memory(t *testing.T) {
	snap := parseText(t, sampleExposition)
	if snap.MemoryTotalBytes != 8000000000 || snap.MemoryAvailableBytes != 2000000000 {
		t.Errorf("memory = (%d, %d)", snap.MemoryTotalBytes, snap.MemoryAvailableBytes)
	}
	if snap.MemoryUsedBytes() != 6000000000 {
		t.Errorf("MemoryUsedBytes = %d, want 6000000000", snap.MemoryUsedBytes())
	}
}

func TestParse_MountFiltering(t *testing.T) {
	snap := parseText(t, sampleExposition)

	// Expected survivors, sorted by mount point: /, /backup.
	// /tmp is tmpfs (not in the allow-list), /proc/foo is a pseudo path
	// regardless of its fstype, /data has zero size.
	if len(snap.Mounts) != 2 {
		t.Fatalf("mounts = %+v, want 2 entries", snap.Mounts)
	}
	root, backup := snap.Mounts[0], snap.Mounts[1]

	if root.MountPoint != "/" || backup.MountPoint != "/backup" {
		t.Errorf("mount order = %q, %q", root.MountPoint, backup.MountPoint)
	}
	// avail takes precedence over free when both were seen
	if root.AvailableBytes != 400 {
		t.Errorf("root available = %d, want 400 (avail over free)", root.AvailableBytes)
	}
	// free fills in when avail was never seen
	if backup.AvailableBytes != 1500 {
		t.Errorf("backup available = %d, want 1500", backup.AvailableBytes)
	}
	if root.UsedBytes() != 600 {
		t.Errorf("root used = %d, want 600", root.UsedBytes())
	}
	if math.Abs(root.UsagePercent()-60.0) > 1e-9 {
		t.Errorf("root usage = %v, want 60.0", root.UsagePercent())
	}
}

func TestParse_NoCPUMetrics(t *testing.T) {
	snap := parseText(t, "node_memory_MemTotal_bytes 1000\n")
	if snap.Valid {
		t.Error("snapshot should be invalid without CPU metrics")
	}
	if snap.ErrorMessage != "no CPU metrics parsed" {
		t.Errorf("ErrorMessage = %q", snap.ErrorMessage)
	}
}

func TestParse_NoMemoryMetrics(t *testing.T) {
	snap := parseText(t, `node_cpu_seconds_total{mode="idle"} 5`+"\n")
	if snap.Valid {
		t.Error("snapshot should be invalid without memory metrics")
	}
	if snap.ErrorMessage != "no memory metrics parsed" {
		t.Errorf("ErrorMessage = %q", snap.ErrorMessage)
	}
}

func TestParse_CPUErrorNotOverridden(t *testing.T) {
	snap := parseText(t, "# just comments\n")
	if snap.ErrorMessage != "no CPU metrics parsed" {
		t.Errorf("ErrorMessage = %q, want CPU reason to win", snap.ErrorMessage)
	}
}

func TestParse_MalformedLinesSkipped(t *testing.T) {
	text := `node_cpu_seconds_total{mode="idle"} not-a-number
node_cpu_seconds_total{mode="user"} 200
node_memory_MemTotal_bytes 1024
node_memory_MemAvailable_bytes garbage
`
	snap := parseText(t, text)
	if !snap.Valid {
		t.Fatalf("snapshot invalid: %s", snap.ErrorMessage)
	}
	if snap.CPUTotalSecondsTotal != 200 {
		t.Errorf("CPUTotalSecondsTotal = %v, want 200", snap.CPUTotalSecondsTotal)
	}
	// The malformed available line keeps its zero default.
	if snap.MemoryAvailableBytes != 0 {
		t.Errorf("MemoryAvailableBytes = %d, want 0", snap.MemoryAvailableBytes)
	}
}

func TestScraper_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleExposition))
	}))
	defer srv.Close()

	snap := NewScraper(srv.URL, nil).Fetch(context.Background())
	if !snap.Valid {
		t.Fatalf("snapshot invalid: %s", snap.ErrorMessage)
	}
	if snap.CPUUsagePercent != 75.0 {
		t.Errorf("CPUUsagePercent = %v, want 75.0", snap.CPUUsagePercent)
	}
}

func TestScraper_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	snap := NewScraper(srv.URL, nil).Fetch(context.Background())
	if snap.Valid {
		t.Error("snapshot should be invalid for unreachable endpoint")
	}
	if snap.ErrorMessage == "" {
		t.Error("invalid snapshot must carry an error message")
	}
	if snap.CPUUsagePercent != 0 || snap.CPUTotalSecondsTotal != 0 ||
		snap.MemoryTotalBytes != 0 || len(snap.Mounts) != 0 {
		t.Error("numeric fields must keep zero defaults on fetch failure")
	}
}

func TestScraper_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	snap := NewScraper(srv.URL, nil).Fetch(context.Background())
	if snap.Valid || snap.ErrorMessage == "" {
		t.Errorf("snapshot = %+v, want invalid with message", snap)
	}
}

func TestSingleSampleUsage_Clamped(t *testing.T) {
	if got := SingleSampleUsage(0, 0); got != 0 {
		t.Errorf("zero total usage = %v, want 0", got)
	}
	if got := SingleSampleUsage(-50, 100); got != 100 {
		t.Errorf("usage = %v, want clamp to 100", got)
	}
}
