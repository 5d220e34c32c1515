// Package orchestrator wires one running edge supervisor out of a loaded
// configuration: it builds each camera's capture pipeline, the shared
// object-detection worker, and the event fan-out worker, then hosts all of
// them in a single generic supervisor.Supervisor: a capture service and a
// process-worker service per camera, plus one shared detection service and
// one event service.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/backoff"
	"github.com/CE-Thesis-2023/edge/internal/capture"
	"github.com/CE-Thesis-2023/edge/internal/config"
	"github.com/CE-Thesis-2023/edge/internal/decoder"
	"github.com/CE-Thesis-2023/edge/internal/detectworker"
	"github.com/CE-Thesis-2023/edge/internal/eventworker"
	"github.com/CE-Thesis-2023/edge/internal/health"
	"github.com/CE-Thesis-2023/edge/internal/hwaccel"
	"github.com/CE-Thesis-2023/edge/internal/motion"
	"github.com/CE-Thesis-2023/edge/internal/processworker"
	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/readyevent"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/sink"
	"github.com/CE-Thesis-2023/edge/internal/supervisor"
	"github.com/CE-Thesis-2023/edge/internal/types"
	"golang.org/x/sys/unix"
)

// Options configures the daemon-wide parts of the orchestrator that don't
// come from the camera config: paths and tunables an operator sets on the
// command line.
type Options struct {
	LockDir        string
	ShmDir         string
	FFmpegPath     string
	HwaccelBackend string // config.ModelConfig doesn't carry this; it's a daemon-wide flag
	Logger         *slog.Logger

	FrameQueueDepth     int
	DetectionQueueDepth int
	EventQueueDepth     int

	ShutdownTimeout time.Duration
}

// DefaultOptions returns sane defaults for an Options left mostly zero.
func DefaultOptions() Options {
	return Options{
		LockDir:             "/var/run/edge",
		ShmDir:              "/dev/shm",
		FFmpegPath:          "ffmpeg",
		FrameQueueDepth:     8,
		DetectionQueueDepth: 4,
		EventQueueDepth:     64,
		ShutdownTimeout:     30 * time.Second,
	}
}

// cameraRuntime is the set of long-lived objects built for one camera.
type cameraRuntime struct {
	name    string
	capture *capture.Supervisor
	process *processworker.Worker
	ready   *readyevent.Event
}

// Orchestrator owns every camera's pipeline plus the shared detection and
// event workers, hosted inside one supervisor.Supervisor.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	shmMgr *shm.Manager
	sup    *supervisor.Supervisor

	cameras  map[string]*cameraRuntime
	detector *detectworker.Worker
	events   *eventworker.Worker
	mqttSink *sink.MQTT
}

// Build assembles an Orchestrator from a loaded configuration. It creates
// the shared-memory regions each worker expects to find pre-allocated, but
// does not start anything; call Run to do that.
func Build(cfg *config.Config, opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FrameQueueDepth <= 0 {
		opts.FrameQueueDepth = 8
	}
	if opts.DetectionQueueDepth <= 0 {
		opts.DetectionQueueDepth = 4
	}
	if opts.EventQueueDepth <= 0 {
		opts.EventQueueDepth = 64
	}

	if err := os.MkdirAll(opts.LockDir, 0750); err != nil { //nolint:gosec // lock dir needs group read for service monitoring
		return nil, fmt.Errorf("orchestrator: create lock dir: %w", err)
	}

	o := &Orchestrator{
		opts:    opts,
		logger:  opts.Logger,
		shmMgr:  shm.New(opts.ShmDir),
		cameras: make(map[string]*cameraRuntime),
		sup: supervisor.New(supervisor.Config{
			ShutdownTimeout: opts.ShutdownTimeout,
		}),
	}

	eventQueue := queue.New[types.Event](opts.EventQueueDepth)
	detectionTokens := queue.New[string](opts.DetectionQueueDepth)
	ready := make(map[string]*readyevent.Event)

	selector := hwaccel.NewSelector("/dev/dri", nil)

	for name, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}

		ev := readyevent.New()
		ready[name] = ev

		cmd, err := buildDecoderCommand(opts, cam, cfg.Model, selector)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: camera %s: %w", name, err)
		}

		frameQueue := queue.New[types.FrameKey](opts.FrameQueueDepth)

		detectW, detectH := cameraDetectDims(cam, cfg.Model)
		if _, err := o.shmMgr.Create(name, cfg.Model.Width*cfg.Model.Height*3); err != nil {
			return nil, fmt.Errorf("orchestrator: camera %s: allocate detection input: %w", name, err)
		}
		if _, err := o.shmMgr.Create("detection-result_"+name, types.DetectionRegionSize); err != nil {
			return nil, fmt.Errorf("orchestrator: camera %s: allocate detection output: %w", name, err)
		}

		capSup := capture.New(capture.Config{
			Camera:  name,
			Command: cmd,
			LockDir: opts.LockDir,
			Backoff: backoff.New(time.Second, 30*time.Second, 0),
			Logger:  o.logger,
		}, o.shmMgr, frameQueue)

		procW := processworker.New(processworker.Config{
			Camera:        name,
			FrameSize:     cmd.FrameSize,
			NativeH:       detectH,
			NativeW:       detectW,
			Detector:      motion.NewDetector(detectH, detectW, motionConfig(cam), 1),
			DetectEnabled: cam.Detect.Width != nil || cam.Detect.Height != nil,
			Logger:        o.logger,
		}, o.shmMgr, frameQueue, detectionTokens, ev, eventQueue)

		o.cameras[name] = &cameraRuntime{name: name, capture: capSup, process: procW, ready: ev}

		if err := o.sup.Add(capSup); err != nil {
			return nil, fmt.Errorf("orchestrator: register capture %s: %w", name, err)
		}
		if err := o.sup.Add(procW); err != nil {
			return nil, fmt.Errorf("orchestrator: register process worker %s: %w", name, err)
		}
	}

	o.detector = detectworker.New(detectworker.Config{
		ModelHeight: cfg.Model.Height,
		ModelWidth:  cfg.Model.Width,
		Detect:      unimplementedModel,
		Logger:      o.logger,
	}, o.shmMgr, detectionTokens, ready)
	if err := o.sup.Add(o.detector); err != nil {
		return nil, fmt.Errorf("orchestrator: register detect worker: %w", err)
	}

	sinks := []sink.Sink{sink.NewLog(o.logger)}
	if cfg.MQTT.Enabled {
		m, err := sink.NewMQTT(sink.MQTTConfig{
			Host:        cfg.MQTT.Host,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			User:        cfg.MQTT.User,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: connect mqtt sink: %w", err)
		}
		o.mqttSink = m
		sinks = append(sinks, m)
	}

	o.events = eventworker.New(eventworker.Config{Logger: o.logger}, eventQueue, sinks...)
	if err := o.sup.Add(o.events); err != nil {
		return nil, fmt.Errorf("orchestrator: register event worker: %w", err)
	}

	return o, nil
}

// Run starts every registered service and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		if o.mqttSink != nil {
			o.mqttSink.Close()
		}
		_ = o.shmMgr.Clean()
	}()
	return o.sup.Run(ctx)
}

// Services implements health.StatusProvider.
func (o *Orchestrator) Services() []health.ServiceInfo {
	out := make([]health.ServiceInfo, 0, len(o.cameras))
	for name, rt := range o.cameras {
		st := rt.capture.Status()
		out = append(out, health.ServiceInfo{
			Name:       name,
			State:      stateString(st.Healthy),
			Uptime:     st.Uptime,
			Healthy:    st.Healthy,
			Restarts:   st.Restarts,
			CameraFPS:  st.CameraFPS,
			SkippedFPS: st.SkippedFPS,
		})
	}
	return out
}

// SystemInfo implements health.SystemInfoProvider, reporting free space on
// the event database's filesystem.
func (o *Orchestrator) SystemInfo(dbPath string) health.SystemInfo {
	var stat unix.Statfs_t
	dir := filepath.Dir(dbPath)
	if dir == "" {
		dir = "."
	}
	if err := unix.Statfs(dir, &stat); err != nil {
		return health.SystemInfo{}
	}

	free := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)

	return health.SystemInfo{
		DiskFreeBytes:  free,
		DiskTotalBytes: total,
		DiskLowWarning: total > 0 && free < total/20, // below 5% free
		NTPSynced:      true,
	}
}

func stateString(healthy bool) string {
	if healthy {
		return "running"
	}
	return "degraded"
}

// cameraDetectDims resolves the per-camera detect frame dimensions,
// falling back to the model's native input size when unset.
func cameraDetectDims(cam config.CameraConfig, model config.ModelConfig) (w, h int) {
	w, h = model.Width, model.Height
	if cam.Detect.Width != nil {
		w = *cam.Detect.Width
	}
	if cam.Detect.Height != nil {
		h = *cam.Detect.Height
	}
	return w, h
}

func motionConfig(cam config.CameraConfig) motion.Config {
	cfg := motion.DefaultConfig()
	if cam.Motion == nil {
		return cfg
	}
	m := cam.Motion
	cfg.Enabled = m.Enabled
	cfg.Threshold = float32(m.Threshold)
	cfg.ContourArea = float64(m.ContourArea)
	cfg.DeltaAlpha = m.DeltaAlpha
	cfg.FrameAlpha = m.FrameAlpha
	if m.FrameHeight > 0 {
		cfg.FrameHeight = m.FrameHeight
	}
	if m.LightningThreshold > 0 {
		cfg.LightningThreshold = float32(m.LightningThreshold)
	}
	return cfg
}

// unimplementedModel is the DetectFunc used until a concrete model backend
// is wired in; it reports no detections rather than block the pipeline.
func unimplementedModel(tensor []float32, shape [4]int) ([]types.Detection, error) {
	return nil, nil
}

// buildDecoderCommand assembles the FFmpeg invocation for one camera:
// global args, hardware-acceleration args (explicit or auto-selected),
// the RTSP input, and a raw-video pipe output sized to the camera's detect
// dimensions.
func buildDecoderCommand(opts Options, cam config.CameraConfig, model config.ModelConfig, selector *hwaccel.Selector) (decoder.Command, error) {
	w, h := cameraDetectDims(cam, model)
	frameSize := w * h * 3 / 2 // yuv420p

	args := append([]string(nil), cam.Source.Ffmpeg.GlobalArgs...)

	hwArgs := cam.Source.Ffmpeg.HwaccelArgs
	if len(hwArgs) == 0 && opts.HwaccelBackend != "" {
		backend := hwaccel.ParseBackend(opts.HwaccelBackend, hwaccel.BackendNone)
		if device := selector.Select(context.Background()); device != "" {
			hwArgs = hwaccel.DecodeArgs(backend, device)
		}
	}
	args = append(args, hwArgs...)

	args = append(args, cam.Source.Ffmpeg.InputArgs...)
	args = append(args, "-i", cam.Source.Path)
	args = append(args, cam.Source.Ffmpeg.OutputArgs...)
	args = append(args,
		"-vf", hwaccel.ScaleFilter(hwaccel.BackendNone, cam.Detect.FPS, w, h),
		"-f", "rawvideo", "-pix_fmt", "yuv420p", "pipe:1",
	)

	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	return decoder.Command{
		Path:      ffmpegPath,
		Args:      args,
		FrameSize: frameSize,
	}, nil
}
