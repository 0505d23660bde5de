// TTL-gated cache in front of a metrics source. Besides throttling the
// upstream fetch rate, the cache is where the accurate CPU figure is
// computed: the delta between two samples of the cumulative counters
// reflects current load, where a single sample only reflects the average
// since boot.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/statuspoll/agent/internal/models"
)

// DefaultTTL is the minimum interval between upstream fetches.
const DefaultTTL = time.Second

// Cache holds the last snapshot and bounds the fetch rate regardless of
// caller concurrency.
type Cache struct {
	source Source
	ttl    time.Duration
	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time

	mu        sync.Mutex
	current   models.HostMetricsSnapshot
	lastFetch time.Time
}

// NewCache creates a cache over the given source; a non-positive ttl
// selects DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached snapshot when it is fresher than the TTL;
// otherwise it fetches a new one, folds it against the previous sample,
// and swaps it in unconditionally — an invalid snapshot is visible to
// callers, not hidden behind the old cache. The lock is not held across
// the network call.
func (c *Cache) Get(ctx context.Context) models.HostMetricsSnapshot {
	c.mu.Lock()
	if !c.lastFetch.IsZero() && c.now().Sub(c.lastFetch) < c.ttl {
		snap := c.current
		c.mu.Unlock()
		return snap
	}
	prev := c.current
	hadPrev := !c.lastFetch.IsZero()
	c.mu.Unlock()

	snap := c.source.Fetch(ctx)

	if usage, ok := deltaUsage(prev, snap, hadPrev); ok {
		snap.CPUUsagePercent = usage
	}
	if !snap.Valid {
		c.logger.Warn("Metrics fetch produced invalid snapshot",
			zap.String("reason", snap.ErrorMessage))
	}

	c.mu.Lock()
	c.current = snap
	c.lastFetch = c.now()
	c.mu.Unlock()
	return snap
}

// deltaUsage computes CPU usage from the counter deltas between two
// samples. It reports ok=false when the delta is not computable — first
// sample, invalid previous or current snapshot, or a counter reset — in
// which case the snapshot keeps its own single-sample figure.
func deltaUsage(prev, curr models.HostMetricsSnapshot, hadPrev bool) (float64, bool) {
	if !hadPrev || !prev.Valid || !curr.Valid {
		return 0, false
	}
	totalDelta := curr.CPUTotalSecondsTotal - prev.CPUTotalSecondsTotal
	idleDelta := curr.CPUIdleSecondsTotal - prev.CPUIdleSecondsTotal
	if totalDelta <= 0 || idleDelta < 0 {
		return 0, false
	}
	return clampPercent((1 - idleDelta/totalDelta) * 100), true
}
