// Package capture implements the per-camera FrameCollector and its
// CaptureSupervisor watchdog: reading fixed-size raw frames from a decoder
// subprocess into shared memory, publishing frame keys to a bounded queue,
// and restarting the decoder on stall, exit, or runaway rate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/fpsmeter"
	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/types"
)

// Collector reads fixed-size frames from a decoder's stdout, stores each
// into a freshly allocated shared-memory region, and publishes its key to
// the frame queue for the process worker.
type Collector struct {
	camera    string
	frameSize int
	shmMgr    *shm.Manager
	queue     *queue.Queue[types.FrameKey]
	logger    *slog.Logger

	fps        *fpsmeter.Meter
	skippedFPS atomic.Int64
	lastFrame  atomic.Int64 // unix nanoseconds

	alive atomic.Bool
}

// NewCollector creates a Collector for one camera.
func NewCollector(camera string, frameSize int, shmMgr *shm.Manager, q *queue.Queue[types.FrameKey], logger *slog.Logger) *Collector {
	return &Collector{
		camera:    camera,
		frameSize: frameSize,
		shmMgr:    shmMgr,
		queue:     q,
		logger:    logger,
		fps:       fpsmeter.New(),
	}
}

// FPS returns the current capture rate.
func (c *Collector) FPS() float64 { return c.fps.FPS() }

// SkippedFPS returns the number of frames dropped for a full queue.
func (c *Collector) SkippedFPS() int64 { return c.skippedFPS.Load() }

// LastFrameTime returns the time the most recent frame was read.
func (c *Collector) LastFrameTime() time.Time {
	ns := c.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Alive reports whether Run is currently executing its read loop.
func (c *Collector) Alive() bool { return c.alive.Load() }

// ErrDecoderExited is returned by Run when the decoder source reached EOF.
var ErrDecoderExited = errors.New("capture: decoder source exited")

// Run reads frames from src until ctx is cancelled or src is exhausted.
// Each frame is stored under a fresh key "<camera>@<time>" and published to
// the queue; a full queue drops the newest frame rather than blocking.
func (c *Collector) Run(ctx context.Context, src io.Reader) error {
	c.alive.Store(true)
	defer c.alive.Store(false)

	buf := make([]byte, c.frameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t := time.Now()
		key := types.NewFrameKey(c.camera, t)

		region, err := c.shmMgr.Create(string(key), c.frameSize)
		if err != nil {
			return fmt.Errorf("capture: allocate frame %s: %w", key, err)
		}

		if _, err := io.ReadFull(src, buf); err != nil {
			_ = c.shmMgr.Delete(string(key))
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrDecoderExited
			}
			// Corrupt frame: drop and keep reading.
			continue
		}
		copy(region.Bytes(), buf)

		c.fps.Update()
		c.lastFrame.Store(t.UnixNano())

		if c.queue.TryPut(key) {
			_ = c.shmMgr.Close(string(key))
		} else {
			c.skippedFPS.Add(1)
			_ = c.shmMgr.Delete(string(key))
			if c.logger != nil {
				c.logger.Warn("frame queue full, dropping frame", "camera", c.camera, "key", key)
			}
		}
	}
}
