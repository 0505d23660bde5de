// Package main is the entry point for the status polling agent.
// It initializes configuration, wires the probes, fallback resolver, and
// metrics cache into the monitor, and runs until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/statuspoll/agent/internal/config"
	"github.com/statuspoll/agent/internal/metrics"
	"github.com/statuspoll/agent/internal/monitor"
	"github.com/statuspoll/agent/internal/probe"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "agent.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("statuspoll-agent %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting status polling agent",
		zap.String("version", version),
		zap.Int("servers", len(cfg.Servers)),
		zap.String("metrics_source", cfg.Metrics.Source))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	runAgent(ctx, cfg, logger)
	logger.Info("Agent stopped")
}

// runAgent wires all components and starts the polling loop.
// It blocks until the context is cancelled.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	var source metrics.Source
	if cfg.Metrics.Source == "local" {
		source = metrics.NewLocal(logger)
	} else {
		source = metrics.NewScraper(cfg.Metrics.Endpoint, logger)
	}
	cache := metrics.NewCache(source, cfg.Metrics.TTL.Duration, logger)

	fallback := probe.NewHTTPResolver(cfg.Monitor.FallbackEndpoint, logger)

	mon := monitor.New(cfg, cache, fallback, logger)
	mon.OnReport(func(r monitor.Report) {
		for _, srv := range r.Servers {
			logger.Info("Server status",
				zap.String("server", srv.Name),
				zap.Bool("online", srv.Online),
				zap.Int("players", srv.Players),
				zap.String("raw", srv.Raw))
		}
		if r.Host.Valid {
			logger.Info("Host metrics",
				zap.Float64("cpu_percent", r.Host.CPUUsagePercent),
				zap.Float64("memory_percent", r.Host.MemoryUsagePercent()),
				zap.Int("mounts", len(r.Host.Mounts)))
		} else {
			logger.Warn("Host metrics unavailable",
				zap.String("reason", r.Host.ErrorMessage))
		}
	})

	logger.Info("Agent running",
		zap.Duration("poll_interval", cfg.Monitor.Interval.Duration),
		zap.Duration("probe_timeout", cfg.Monitor.ProbeTimeout.Duration))
	mon.Start(ctx)
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Console output (human-readable)
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	// File output (structured JSON, if configured)
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
