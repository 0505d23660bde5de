// Package metrics produces HostMetricsSnapshot values from either a
// Prometheus node-exporter endpoint or a local gopsutil collector, with a
// TTL-gated cache computing CPU utilization from counter deltas.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/statuspoll/agent/internal/models"
)

// DefaultEndpoint is the node-exporter URL scraped when none is configured.
const DefaultEndpoint = "http://node-exporter:9100/metrics"

// fetchTimeout bounds one scrape of the exposition endpoint.
const fetchTimeout = 5 * time.Second

// Exposition metric names consumed by the scraper.
const (
	cpuMetric          = "node_cpu_seconds_total"
	memTotalMetric     = "node_memory_MemTotal_bytes"
	memAvailableMetric = "node_memory_MemAvailable_bytes"
	fsSizeMetric       = "node_filesystem_size_bytes"
	fsAvailMetric      = "node_filesystem_avail_bytes"
	fsFreeMetric       = "node_filesystem_free_bytes"
)

// pseudoMountPrefixes are mount-point prefixes excluded from disk
// reporting. Paths under these never represent user-visible storage.
var pseudoMountPrefixes = []string{"/proc", "/sys", "/dev", "/run", "/etc/"}

// realFSTypes is the allow-list of filesystem types that count as real
// local storage.
var realFSTypes = map[string]bool{
	"overlay": true,
	"ext4":    true,
	"xfs":     true,
	"btrfs":   true,
	"zfs":     true,
	"apfs":    true,
}

var (
	mountpointLabelRe = regexp.MustCompile(`mountpoint="([^"]*)"`)
	fstypeLabelRe     = regexp.MustCompile(`fstype="([^"]*)"`)
)

// Source produces host metric snapshots. Implementations are total with
// respect to network and parse failure: errors become invalid snapshots.
type Source interface {
	Fetch(ctx context.Context) models.HostMetricsSnapshot
}

// Scraper fetches and parses Prometheus text exposition format from a
// node-exporter endpoint.
type Scraper struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

// NewScraper creates a scraper for the given exposition URL; an empty URL
// selects DefaultEndpoint.
func NewScraper(url string, logger *zap.Logger) *Scraper {
	if url == "" {
		url = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		client: &http.Client{Timeout: fetchTimeout},
		url:    url,
		logger: logger,
	}
}

// Fetch performs one bounded scrape. Transport failure, a non-2xx status,
// or a body with no usable metrics all produce an invalid snapshot with a
// human-readable message — never an error.
func (s *Scraper) Fetch(ctx context.Context) models.HostMetricsSnapshot {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return models.InvalidSnapshot(fmt.Sprintf("building metrics request: %v", err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("Metrics fetch failed", zap.String("url", s.url), zap.Error(err))
		return models.InvalidSnapshot(fmt.Sprintf("fetching metrics: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.InvalidSnapshot(fmt.Sprintf("metrics endpoint returned %d", resp.StatusCode))
	}

	return Parse(bufio.NewScanner(resp.Body))
}

// mountRecord accumulates filesystem lines for one mount point. Fields
// arrive in any order; available takes precedence over free.
type mountRecord struct {
	size     uint64
	avail    uint64
	free     uint64
	hasAvail bool
	hasFree  bool
	fstype   string
}

// Parse scans Prometheus exposition lines into a snapshot. Individual
// lines that fail to parse are skipped, leaving their metric at its zero
// default; only a blob with no CPU or no memory data marks the snapshot
// invalid.
func Parse(scanner *bufio.Scanner) models.HostMetricsSnapshot {
	var snap models.HostMetricsSnapshot
	mounts := make(map[string]*mountRecord)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, cpuMetric):
			v, ok := lineValue(line)
			if !ok {
				continue
			}
			snap.CPUTotalSecondsTotal += v
			if strings.Contains(line, `mode="idle"`) {
				snap.CPUIdleSecondsTotal += v
			}
		case strings.HasPrefix(line, memTotalMetric+" "):
			if v, ok := lineValue(line); ok {
				snap.MemoryTotalBytes = uint64(v)
			}
		case strings.HasPrefix(line, memAvailableMetric+" "):
			if v, ok := lineValue(line); ok {
				snap.MemoryAvailableBytes = uint64(v)
			}
		case strings.HasPrefix(line, fsSizeMetric),
			strings.HasPrefix(line, fsAvailMetric),
			strings.HasPrefix(line, fsFreeMetric):
			recordFilesystemLine(mounts, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return models.InvalidSnapshot(fmt.Sprintf("reading metrics body: %v", err))
	}

	snap.Valid = true
	if snap.CPUTotalSecondsTotal == 0 {
		snap.Valid = false
		snap.ErrorMessage = "no CPU metrics parsed"
	} else {
		snap.CPUUsagePercent = SingleSampleUsage(snap.CPUIdleSecondsTotal, snap.CPUTotalSecondsTotal)
	}
	if snap.MemoryTotalBytes == 0 && snap.Valid {
		snap.Valid = false
		snap.ErrorMessage = "no memory metrics parsed"
	}

	snap.Mounts = assembleMounts(mounts)
	snap.SortMounts()
	return snap
}

// lineValue extracts the numeric sample from a "name{labels} value" or
// "name value" exposition line.
func lineValue(line string) (float64, bool) {
	idx := strings.LastIndexByte(line, ' ')
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// recordFilesystemLine folds one node_filesystem_* line into the
// per-mount records, creating the record on first sighting.
func recordFilesystemLine(mounts map[string]*mountRecord, line string) {
	mp := mountpointLabelRe.FindStringSubmatch(line)
	if mp == nil {
		return
	}
	v, ok := lineValue(line)
	if !ok {
		return
	}

	rec := mounts[mp[1]]
	if rec == nil {
		rec = &mountRecord{}
		mounts[mp[1]] = rec
	}
	if rec.fstype == "" {
		if ft := fstypeLabelRe.FindStringSubmatch(line); ft != nil {
			rec.fstype = ft[1]
		}
	}

	switch {
	case strings.HasPrefix(line, fsSizeMetric):
		rec.size = uint64(v)
	case strings.HasPrefix(line, fsAvailMetric):
		rec.avail = uint64(v)
		rec.hasAvail = true
	case strings.HasPrefix(line, fsFreeMetric):
		rec.free = uint64(v)
		rec.hasFree = true
	}
}

// assembleMounts applies the pseudo-path and filesystem-type filters and
// drops zero-sized entries.
func assembleMounts(mounts map[string]*mountRecord) []models.DiskMount {
	var out []models.DiskMount
	for mountPoint, rec := range mounts {
		if rec.size == 0 || isPseudoMountPath(mountPoint) || !realFSTypes[rec.fstype] {
			continue
		}
		avail := rec.free
		if rec.hasAvail {
			avail = rec.avail
		}
		out = append(out, models.DiskMount{
			MountPoint:     mountPoint,
			TotalBytes:     rec.size,
			AvailableBytes: avail,
			FilesystemType: rec.fstype,
		})
	}
	return out
}

// isPseudoMountPath reports whether a mount point lives under one of the
// pseudo-filesystem prefixes.
func isPseudoMountPath(mountPoint string) bool {
	for _, prefix := range pseudoMountPrefixes {
		if strings.HasPrefix(mountPoint, prefix) {
			return true
		}
	}
	return false
}

// SingleSampleUsage computes CPU usage from one snapshot's cumulative
// counters: (total-idle)/total, clamped to [0, 100]. Since the counters
// run since boot this converges to the long-run average; the cache's
// delta form is preferred once two samples exist.
func SingleSampleUsage(idle, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clampPercent((total - idle) / total * 100)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
