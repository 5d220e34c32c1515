// Package main implements the edge-supervisor daemon, the core
// video-analytics supervision service.
//
// edge-supervisor is designed for 24/7 unattended operation, managing each
// configured camera's decode/detect/event pipeline with automatic failure
// recovery and graceful shutdown.
//
// Usage:
//
//	edge-supervisor [options]
//
// Options:
//
//	--config=PATH      Path to config file (default: /etc/edge/config.yaml)
//	--lock-dir=PATH    Directory for lock files (default: /var/run/edge)
//	--log-level=LEVEL  Log level: debug, info, warn, error (default: info)
//	--health-addr=ADDR  Health/metrics HTTP listen address (default: :8080)
//	--help             Show this help message
//
// Example:
//
//	# Run with default config
//	edge-supervisor
//
//	# Run with custom config
//	edge-supervisor --config=/path/to/config.yaml
//
// The daemon automatically:
//   - Loads per-camera FFmpeg decode pipelines
//   - Runs motion and object detection against each frame
//   - Restarts failed decoders with exponential backoff
//   - Serves /healthz and /metrics for monitoring
//   - Handles SIGINT/SIGTERM for graceful shutdown and SIGHUP for reload
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/CE-Thesis-2023/edge/internal/config"
	"github.com/CE-Thesis-2023/edge/internal/health"
	"github.com/CE-Thesis-2023/edge/internal/orchestrator"
)

// liveOrchestrator forwards health.StatusProvider/SystemInfoProvider calls
// to whichever Orchestrator generation is currently running, so the health
// server doesn't need to restart across a SIGHUP config reload.
type liveOrchestrator struct {
	current atomic.Pointer[orchestrator.Orchestrator]
	dbPath  atomic.Pointer[string]
}

func (l *liveOrchestrator) Services() []health.ServiceInfo {
	if o := l.current.Load(); o != nil {
		return o.Services()
	}
	return nil
}

func (l *liveOrchestrator) SystemInfo() health.SystemInfo {
	o := l.current.Load()
	path := l.dbPath.Load()
	if o == nil || path == nil {
		return health.SystemInfo{}
	}
	return o.SystemInfo(*path)
}

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath     = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	lockDir        = flag.String("lock-dir", "/var/run/edge", "Directory for lock files")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	healthAddr     = flag.String("health-addr", ":8080", "Health/metrics HTTP listen address")
	hwaccelBackend = flag.String("hwaccel", "", "Hardware acceleration backend: va_api, nvidia_cuda, intel_quicksync_h264 (default: software decode)")
	showHelp       = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	logger.Info("starting edge-supervisor", "version", Version, "commit", Commit, "built", BuildTime)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded configuration", "path", *configPath, "cameras", len(cfg.Cameras))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	reload := make(chan struct{}, 1)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration")
				select {
				case reload <- struct{}{}:
				default:
				}
				continue
			}
			logger.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
			return
		}
	}()

	live := &liveOrchestrator{}
	handler := health.NewHandler(live).WithSystemInfo(live)

	go func() {
		addr := *healthAddr
		if err := health.ListenAndServe(ctx, addr, handler); err != nil && ctx.Err() == nil {
			logger.Error("health server exited", "error", err)
		}
	}()

	if err := runGeneration(ctx, logger, *configPath, *lockDir, *hwaccelBackend, reload, live); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// runGeneration builds and runs an Orchestrator, rebuilding it whenever the
// reload channel fires (SIGHUP) and returning once ctx is cancelled. live
// is updated to point at each new generation so the health server always
// reports the currently-running cameras.
func runGeneration(ctx context.Context, logger *slog.Logger, configPath, lockDir, hwaccelBackend string, reload <-chan struct{}, live *liveOrchestrator) error {
	for {
		cfg, err := loadConfiguration(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		opts := orchestrator.DefaultOptions()
		opts.LockDir = lockDir
		opts.Logger = logger
		opts.HwaccelBackend = hwaccelBackend

		orch, err := orchestrator.Build(cfg, opts)
		if err != nil {
			return fmt.Errorf("build orchestrator: %w", err)
		}

		dbPath := cfg.Database.Path
		live.dbPath.Store(&dbPath)
		live.current.Store(orch)

		genCtx, genCancel := context.WithCancel(ctx)

		done := make(chan error, 1)
		go func() { done <- orch.Run(genCtx) }()

		select {
		case <-ctx.Done():
			genCancel()
			<-done
			return nil
		case <-reload:
			logger.Info("stopping current generation for reload")
			genCancel()
			<-done
			continue
		case err := <-done:
			genCancel()
			return err
		}
	}
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("edge-supervisor - Video analytics supervisor daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: edge-supervisor [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon decodes each configured camera's RTSP stream, runs motion")
	fmt.Println("and object detection, and publishes events to the configured sinks.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
	fmt.Println("  SIGHUP           Reload configuration")
}
