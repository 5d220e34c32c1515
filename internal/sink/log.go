package sink

import (
	"context"
	"log/slog"

	"github.com/CE-Thesis-2023/edge/internal/types"
)

// Log publishes events as structured log lines. Used for brokerless
// deployments and in tests where no MQTT broker is available.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log sink writing through logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Publish logs msg at info level and never fails.
func (l *Log) Publish(ctx context.Context, msg types.EventMessage) error {
	l.logger.Info("event",
		"camera", msg.Camera,
		"frame_time", msg.FrameTime,
		"motion_boxes", len(msg.MotionBoxes),
		"detections", len(msg.Detections),
	)
	return nil
}
