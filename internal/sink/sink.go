// Package sink implements the event delivery boundary: publishing an
// EventMessage to wherever the deployment wants it observed. Two concrete
// sinks are provided — an MQTT publisher for production brokers and a
// structured-log sink for brokerless deployments and tests.
package sink

import (
	"context"

	"github.com/CE-Thesis-2023/edge/internal/types"
)

// Sink publishes one event. Implementations must be safe for concurrent use
// by a single EventWorker goroutine per camera group; no sink in this
// package requires additional synchronization beyond what its constructor
// sets up.
type Sink interface {
	Publish(ctx context.Context, msg types.EventMessage) error
}
