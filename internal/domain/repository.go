package domain

import "context"

// Sink is an external system that security events are forwarded to.
// Deliver never returns an error: failures are reported in the Result so one
// sink cannot abort delivery to the others.
type Sink interface {
	// Name identifies the sink in results, logs and metrics.
	Name() string

	// IsConfigured reports whether the sink has the endpoint and credentials it needs.
	IsConfigured() bool

	// Deliver sends the batch and reports per-sink accounting.
	Deliver(ctx context.Context, events []SecurityEvent) Result
}

// Encoder renders a security event into a single-line wire format.
type Encoder interface {
	Encode(event SecurityEvent) string
}

// Submitter accepts events for forwarding. Submission is fire-and-forget.
type Submitter interface {
	Submit(ctx context.Context, event SecurityEvent)
}

// EventSource is a stream that other platform services publish events into.
type EventSource interface {
	// ReadEventBatch reads up to count unacknowledged events for a consumer.
	ReadEventBatch(ctx context.Context, consumer string, count int) ([]SourcedEvent, error)

	// AcknowledgeEvents marks stream messages as handled.
	AcknowledgeEvents(ctx context.Context, messageIDs ...string) error
}

// SourcedEvent pairs a decoded event with the stream message that carried it.
// Event is nil when the payload could not be decoded.
type SourcedEvent struct {
	MessageID string
	Event     *SecurityEvent
}

// APIKeyRepository validates producer API keys.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	// Implementations should handle caching to reduce database load.
	IsValid(ctx context.Context, key string) (bool, error)
}

// DropArchive keeps a copy of events the forwarder had to drop.
type DropArchive interface {
	// Write appends dropped events to the archive.
	Write(ctx context.Context, events ...SecurityEvent) error

	// Replay reads archived events in order and passes each to handler.
	Replay(ctx context.Context, handler func(event SecurityEvent) error) error

	// Truncate removes all archived segments.
	Truncate(ctx context.Context) error
}
