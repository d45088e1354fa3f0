// Package broker defines the message broker client used by the
// orchestrator. The orchestrator never consumes messages itself; it only
// observes queue depth and publishes task payloads on behalf of callers.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrBrokerUnavailable marks transient broker failures. Callers retry
// with backoff; the failure degrades observability for one queue only.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// QueueSnapshot is a point-in-time observation of one queue. Immutable
// after creation.
type QueueSnapshot struct {
	Queue         string    `json:"queue"`
	Depth         int       `json:"depth"` // ready + unacked
	ConsumerCount int       `json:"consumerCount"`
	ObservedAt    time.Time `json:"observedAt"`
}

// Client is the broker interface consumed by the monitor and the publish
// path. Implementations must be safe for concurrent use.
type Client interface {
	// QueueDepth reports the message and consumer counts for a queue.
	QueueDepth(ctx context.Context, queue string) (depth, consumers int, err error)

	// Publish sends a persistent message to a queue, declaring it durably
	// if it does not exist.
	Publish(ctx context.Context, queue string, body []byte) error

	Close() error
}
