package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/statuspoll/agent/internal/models"
)

// stubSource replays a scripted sequence of snapshots and counts fetches.
type stubSource struct {
	snapshots []models.HostMetricsSnapshot
	fetches   int
}

func (s *stubSource) Fetch(ctx context.Context) models.HostMetricsSnapshot {
	i := s.fetches
	s.fetches++
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	return s.snapshots[i]
}

func validSnapshot(idle, total float64) models.HostMetricsSnapshot {
	return models.HostMetricsSnapshot{
		CPUUsagePercent:      SingleSampleUsage(idle, total),
		CPUIdleSecondsTotal:  idle,
		CPUTotalSecondsTotal: total,
		MemoryTotalBytes:     1024,
		MemoryAvailableBytes: 512,
		Valid:                true,
	}
}

// testCache builds a cache with a controllable clock.
func testCache(src Source, ttl time.Duration) (*Cache, *time.Time) {
	c := NewCache(src, ttl, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_TTLSuppressesFetch(t *testing.T) {
	src := &stubSource{snapshots: []models.HostMetricsSnapshot{validSnapshot(100, 400)}}
	c, now := testCache(src, time.Second)

	c.Get(context.Background())
	*now = now.Add(500 * time.Millisecond)
	c.Get(context.Background())

	if src.fetches != 1 {
		t.Errorf("fetches = %d, want exactly 1 within the TTL", src.fetches)
	}
}

func TestCache_DeltaUsage(t *testing.T) {
	src := &stubSource{snapshots: []models.HostMetricsSnapshot{
		validSnapshot(100, 400),
		validSnapshot(120, 500),
	}}
	c, now := testCache(src, time.Second)

	first := c.Get(context.Background())
	if math.Abs(first.CPUUsagePercent-75.0) > 1e-9 {
		t.Errorf("first sample usage = %v, want single-sample 75.0", first.CPUUsagePercent)
	}

	*now = now.Add(2 * time.Second)
	second := c.Get(context.Background())
	// idleDelta=20, totalDelta=100 -> (1 - 0.2) * 100
	if math.Abs(second.CPUUsagePercent-80.0) > 1e-9 {
		t.Errorf("delta usage = %v, want 80.0", second.CPUUsagePercent)
	}
}

func TestCache_CounterResetFallsBack(t *testing.T) {
	src := &stubSource{snapshots: []models.HostMetricsSnapshot{
		validSnapshot(100, 400),
		validSnapshot(10, 40), // counters went backwards: reboot
	}}
	c, now := testCache(src, time.Second)

	c.Get(context.Background())
	*now = now.Add(2 * time.Second)
	snap := c.Get(context.Background())

	if math.Abs(snap.CPUUsagePercent-75.0) > 1e-9 {
		t.Errorf("usage = %v, want single-sample 75.0 after counter reset", snap.CPUUsagePercent)
	}
}

func TestCache_InvalidPreviousFallsBack(t *testing.T) {
	src := &stubSource{snapshots: []models.HostMetricsSnapshot{
		models.InvalidSnapshot("fetching metrics: connection refused"),
		validSnapshot(100, 400),
	}}
	c, now := testCache(src, time.Second)

	first := c.Get(context.Background())
	if first.Valid {
		t.Error("first snapshot should be invalid")
	}

	*now = now.Add(2 * time.Second)
	second := c.Get(context.Background())
	if !second.Valid {
		t.Fatalf("second snapshot invalid: %s", second.ErrorMessage)
	}
	if math.Abs(second.CPUUsagePercent-75.0) > 1e-9 {
		t.Errorf("usage = %v, want single-sample 75.0", second.CPUUsagePercent)
	}
}

func TestCache_InvalidSnapshotReplacesCache(t *testing.T) {
	src := &stubSource{snapshots: []models.HostMetricsSnapshot{
		validSnapshot(100, 400),
		models.InvalidSnapshot("metrics endpoint returned 503"),
	}}
	c, now := testCache(src, time.Second)

	c.Get(context.Background())
	*now = now.Add(2 * time.Second)
	snap := c.Get(context.Background())
	if snap.Valid {
		t.Error("invalid snapshot must be visible, not hidden behind the old cache")
	}

	// Within the TTL the cached (invalid) snapshot is returned as-is.
	*now = now.Add(100 * time.Millisecond)
	again := c.Get(context.Background())
	if again.Valid || again.ErrorMessage != snap.ErrorMessage {
		t.Errorf("cached snapshot = %+v, want the invalid one", again)
	}
}
