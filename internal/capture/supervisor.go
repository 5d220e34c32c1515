package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/backoff"
	"github.com/CE-Thesis-2023/edge/internal/decoder"
	"github.com/CE-Thesis-2023/edge/internal/lock"
	"github.com/CE-Thesis-2023/edge/internal/procmon"
	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/types"
	"github.com/CE-Thesis-2023/edge/internal/util"
)

// DefaultStallTimeout is how long without a new frame before the watchdog
// considers the decoder stalled and restarts it.
const DefaultStallTimeout = 20 * time.Second

// DefaultRunawayFPS is the default rate above which the watchdog treats the
// decoder as runaway and restarts it (configurable per camera, §9).
const DefaultRunawayFPS = 40.0

// resourceCheckInterval is how often the decoder's /proc metrics are polled
// for file-descriptor, CPU, and memory thresholds.
const resourceCheckInterval = 10 * time.Second

// Config configures one camera's CaptureSupervisor.
type Config struct {
	Camera        string
	Command       decoder.Command
	LockDir       string
	RetryInterval time.Duration
	StallTimeout  time.Duration
	RunawayFPS    float64
	Backoff       *backoff.Backoff
	Logger        *slog.Logger
}

// Supervisor owns one camera's DecoderSupervisor and FrameCollector, and
// runs the watchdog loop that restarts the decoder on stall, exit, or
// excess rate. It implements the supervision-tree Service interface
// (Run(ctx) error, Name() string) so it can be hosted by the generic
// supervisor.Supervisor.
type Supervisor struct {
	cfg       Config
	decoders  *decoder.Supervisor
	shmMgr    *shm.Manager
	frameKeys *queue.Queue[types.FrameKey]
	fileLock  *lock.FileLock

	resources     *procmon.Monitor
	resourceAlert atomic.Pointer[string]
	tracker       *util.ResourceTracker

	startedAt atomic.Value // time.Time
	restarts  atomic.Int32
	current   atomic.Pointer[statusSnapshot]
}

// statusSnapshot holds the most recently started decoder/collector pair so
// Status can report live FPS without racing the watchdog loop.
type statusSnapshot struct {
	handle    *decoder.Handle
	collector *Collector
}

// Status is a point-in-time health summary for this camera's pipeline.
type Status struct {
	Healthy    bool
	Uptime     time.Duration
	Restarts   int
	CameraFPS  float64
	SkippedFPS float64
}

// Status reports the camera's current health, for the health endpoint.
func (s *Supervisor) Status() Status {
	snap := s.current.Load()
	if snap == nil {
		return Status{}
	}

	var uptime time.Duration
	if t, ok := s.startedAt.Load().(time.Time); ok && !t.IsZero() {
		uptime = time.Since(t)
	}

	return Status{
		Healthy:    snap.handle.Alive() && snap.collector.Alive(),
		Uptime:     uptime,
		Restarts:   int(s.restarts.Load()),
		CameraFPS:  snap.collector.FPS(),
		SkippedFPS: float64(snap.collector.SkippedFPS()),
	}
}

// New creates a CaptureSupervisor. shmMgr and frameKeys are shared with the
// process worker that consumes published frame keys.
func New(cfg Config, shmMgr *shm.Manager, frameKeys *queue.Queue[types.FrameKey]) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.RunawayFPS <= 0 {
		cfg.RunawayFPS = DefaultRunawayFPS
	}
	return &Supervisor{
		cfg:       cfg,
		decoders:  decoder.New(decoder.WithLogger(cfg.Logger)),
		resources: procmon.New(),
		tracker:   util.NewResourceTracker(),
		shmMgr:    shmMgr,
		frameKeys: frameKeys,
	}
}

// Name identifies this supervised service.
func (s *Supervisor) Name() string { return "capture:" + s.cfg.Camera }

// Run acquires the per-camera lock, starts the decoder and collector, and
// runs the watchdog loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	fl, err := lock.NewFileLock(filepath.Join(s.cfg.LockDir, s.cfg.Camera+".lock"))
	if err != nil {
		return fmt.Errorf("capture: create lock: %w", err)
	}
	if err := fl.AcquireContext(ctx, 30*time.Second); err != nil {
		return fmt.Errorf("capture: acquire lock: %w", err)
	}
	s.fileLock = fl
	s.tracker.TrackResource("lock", fl)
	defer func() {
		s.tracker.UntrackResource("lock")
		if err := fl.Release(); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("failed to release capture lock", "camera", s.cfg.Camera, "error", err)
		}
		if leaked := s.tracker.LeakedResources(); len(leaked) > 0 && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("resource leak at shutdown", "camera", s.cfg.Camera, "leaked", leaked)
		}
	}()

	handle, collector, err := s.startOnce(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.tracker.UntrackProcess(s.cfg.Camera)
			s.decoders.Stop(handle)
			s.frameKeys.Drain()
			return nil

		case <-ticker.C:
			restart := false
			reason := ""

			if !collector.Alive() {
				restart = true
				reason = "collector exited"
			} else if last := collector.LastFrameTime(); !last.IsZero() && time.Since(last) > s.cfg.StallTimeout {
				restart = true
				reason = "stalled"
			} else if fps := collector.FPS(); fps >= s.cfg.RunawayFPS {
				restart = true
				reason = "runaway rate"
			}

			if !handle.Alive() {
				restart = true
				reason = "decoder exited"
			}

			if alert := s.resourceAlert.Swap(nil); alert != nil {
				restart = true
				reason = *alert
			}

			if !restart {
				continue
			}

			if s.cfg.Logger != nil {
				s.cfg.Logger.Warn("restarting decoder", "camera", s.cfg.Camera, "reason", reason)
			}
			s.decoders.DumpLog(handle)
			if err := s.cfg.Backoff.WaitContext(ctx); err != nil {
				return nil
			}
			s.cfg.Backoff.RecordFailure()
			s.restarts.Add(1)

			s.resources.Clear(handle.PID())
			s.tracker.UntrackProcess(s.cfg.Camera)
			if err := s.decoders.Stop(handle); err != nil && s.cfg.Logger != nil {
				s.cfg.Logger.Warn("failed to stop decoder before restart", "camera", s.cfg.Camera, "error", err)
			}

			handle, collector, err = s.startOnce(ctx)
			if err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) startOnce(ctx context.Context) (*decoder.Handle, *Collector, error) {
	handle, err := s.decoders.Start(ctx, s.cfg.Camera, s.cfg.Command)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: start decoder: %w", err)
	}

	collector := NewCollector(s.cfg.Camera, s.cfg.Command.FrameSize, s.shmMgr, s.frameKeys, s.cfg.Logger)
	go func() {
		err := util.RecoverToPanic(func() error {
			return collector.Run(ctx, handle.Stdout())
		})
		if err != nil && !errors.Is(err, ErrDecoderExited) && s.cfg.Logger != nil {
			s.cfg.Logger.Error("collector error", "camera", s.cfg.Camera, "error", err)
		}
	}()

	go s.resources.Run(ctx, handle.PID(), resourceCheckInterval, func(alerts []procmon.Alert) {
		for _, a := range alerts {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Warn("decoder resource usage", "camera", s.cfg.Camera, "level", a.Level.String(), "resource", a.Resource, "message", a.Message)
			}
			if a.Level == procmon.AlertCritical {
				reason := "resource alert: " + a.Message
				s.resourceAlert.Store(&reason)
			}
		}
	})

	if p := handle.Process(); p != nil {
		s.tracker.TrackProcess(s.cfg.Camera, p)
	}

	s.startedAt.Store(time.Now())
	s.current.Store(&statusSnapshot{handle: handle, collector: collector})

	return handle, collector, nil
}
