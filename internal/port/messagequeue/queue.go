// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject
	// (wildcards allowed). The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject suffixes, joined under the configured prefix (default "swarm").
const (
	SubjectBus         = "bus"              // bus.{channel}.{type}: bridged bus envelopes
	SubjectAssignPhase = "runtime.assign"   // runtime.assign.{agent}: core → agent
	SubjectCancelPhase = "runtime.cancel"   // runtime.cancel.{agent}: core → agent
	SubjectHeartbeat   = "agents.heartbeat" // agent → core
)

// Join builds a subject from parts.
func Join(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '.')
		}
		b = append(b, p...)
	}
	return string(b)
}
