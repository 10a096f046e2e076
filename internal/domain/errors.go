package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSinkNotConfigured is returned (inside a Result) by sinks missing endpoint or credentials.
	ErrSinkNotConfigured = errors.New("sink is not configured")

	// ErrBufferOverflow marks events dropped because the buffer hit MaxBufferedEvents.
	ErrBufferOverflow = errors.New("event buffer overflow")

	// ErrInvalidEvent is returned when an event violates the SecurityEvent invariants.
	ErrInvalidEvent = errors.New("invalid security event")

	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// TransportError is a network or protocol failure talking to one sink.
type TransportError struct {
	Sink string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Sink, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialBatchError reports items of a single request that failed while the
// rest of the request succeeded.
type PartialBatchError struct {
	Sink   string
	Failed int
	Total  int
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Sink, e.Failed, e.Total)
}
