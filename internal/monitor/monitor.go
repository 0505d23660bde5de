// Package monitor implements the tick-based polling driver. Each cycle it
// probes every configured game server concurrently, consults the host
// metrics cache, and hands the assembled report to a callback. The
// monitor does NOT render output — presentation layers subscribe via
// OnReport.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/statuspoll/agent/internal/config"
	"github.com/statuspoll/agent/internal/metrics"
	"github.com/statuspoll/agent/internal/models"
	"github.com/statuspoll/agent/internal/playercount"
	"github.com/statuspoll/agent/internal/probe"
)

// wildcardHost is the unroutable bind-all address some panels report as a
// server's allocation. It is substituted with the configured gateway host
// before probing.
const wildcardHost = "0.0.0.0"

// ServerStatus is one monitored server's state for one poll cycle.
type ServerStatus struct {
	Name    string       `json:"name"`
	Target  probe.Target `json:"target"`
	Online  bool         `json:"online"`
	Raw     string       `json:"raw"`
	Players int          `json:"players"`
}

// Report bundles one cycle's server statuses with the host snapshot.
type Report struct {
	Timestamp time.Time                  `json:"timestamp"`
	Servers   []ServerStatus             `json:"servers"`
	Host      models.HostMetricsSnapshot `json:"host"`
}

// Reporter receives a finished report. It is responsible for rendering
// and delivery; the monitor only produces data.
type Reporter func(Report)

// Monitor polls the configured servers and metrics cache on an interval.
type Monitor struct {
	cfg      *config.Config
	cache    *metrics.Cache
	fallback probe.Resolver
	logger   *zap.Logger

	// newProbe is swappable for tests.
	newProbe func(game string, opts probe.Options) (probe.Probe, error)

	onReport Reporter
}

// New creates a monitor over the given config, metrics cache, and
// fallback resolver.
func New(cfg *config.Config, cache *metrics.Cache, fallback probe.Resolver, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:      cfg,
		cache:    cache,
		fallback: fallback,
		logger:   logger,
		newProbe: probe.New,
	}
}

// OnReport sets the callback invoked after every poll cycle.
func (m *Monitor) OnReport(fn Reporter) {
	m.onReport = fn
}

// Start begins the polling loop. It blocks until the context is
// cancelled. An initial poll runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Monitor.Interval.Duration)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll runs one cycle: all probes concurrently under a limit, then the
// metrics cache, then the report callback.
func (m *Monitor) poll(ctx context.Context) {
	statuses := make([]ServerStatus, len(m.cfg.Servers))

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Monitor.Concurrency > 0 {
		g.SetLimit(m.cfg.Monitor.Concurrency)
	}
	for i, srv := range m.cfg.Servers {
		i, srv := i, srv
		g.Go(func() error {
			statuses[i] = m.probeServer(gctx, srv)
			return nil
		})
	}
	g.Wait()

	host := m.cache.Get(ctx)

	report := Report{
		Timestamp: time.Now().UTC(),
		Servers:   statuses,
		Host:      host,
	}
	m.logger.Debug("Poll cycle complete",
		zap.Int("servers", len(statuses)),
		zap.Bool("host_metrics_valid", host.Valid))

	if m.onReport != nil {
		m.onReport(report)
	}
}

// probeServer runs one server's probe lifecycle and normalizes the
// outcome. Probe construction failures and the NoData sentinel both map
// to an offline status.
func (m *Monitor) probeServer(ctx context.Context, srv config.ServerConfig) ServerStatus {
	target := probe.Target{Host: m.queryHost(srv.Host), Port: srv.Port}
	status := ServerStatus{Name: srv.Name, Target: target, Raw: probe.NoData}

	p, err := m.newProbe(srv.Game, probe.Options{
		Fallback:     m.fallback,
		Timeout:      m.cfg.Monitor.ProbeTimeout.Duration,
		Logger:       m.logger,
		RCONPassword: srv.RCONPassword,
		RCONCommand:  srv.RCONCommand,
	})
	if err != nil {
		m.logger.Error("Probe construction failed",
			zap.String("server", srv.Name),
			zap.Error(err))
		return status
	}

	raw := probe.Status(ctx, p, target)
	status.Raw = raw
	status.Online = raw != probe.NoData
	status.Players = playercount.Extract(raw, srv.CountPattern)
	return status
}

// queryHost resolves the address actually probed. Wildcard allocations
// fall back to the Docker gateway host from configuration.
func (m *Monitor) queryHost(host string) string {
	if host == wildcardHost && m.cfg.Monitor.GatewayHost != "" {
		return m.cfg.Monitor.GatewayHost
	}
	return host
}
