// Package eventworker drains the shared event queue and dispatches each
// Event to every configured sink, converting it to its wire form first.
package eventworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/sink"
	"github.com/CE-Thesis-2023/edge/internal/types"
	"github.com/CE-Thesis-2023/edge/internal/util"
)

// Config configures the Worker.
type Config struct {
	GetTimeout time.Duration
	Logger     *slog.Logger
}

// Worker drains the event queue and publishes to every sink.
type Worker struct {
	cfg    Config
	events *queue.Queue[types.Event]
	sinks  []sink.Sink
}

// New creates a Worker.
func New(cfg Config, events *queue.Queue[types.Event], sinks ...sink.Sink) *Worker {
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = time.Second
	}
	return &Worker{cfg: cfg, events: events, sinks: sinks}
}

// Name identifies this supervised service.
func (w *Worker) Name() string { return "event" }

// Run drains events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		evt, ok := w.events.Get(w.cfg.GetTimeout)
		if !ok {
			continue
		}

		msg := evt.ToMessage(time.Now())
		for _, s := range w.sinks {
			sinkErr := util.RecoverToPanic(func() error {
				return s.Publish(ctx, msg)
			})
			if sinkErr != nil && w.cfg.Logger != nil {
				w.cfg.Logger.Error("sink publish failed", "camera", msg.Camera, "error", sinkErr)
			}
		}
	}
}
