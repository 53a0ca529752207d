// Package logstore defines the log-store capability consumed by stream
// maintenance and cluster health aggregation.
//
// A log store holds named, append-only streams that may be read by consumer
// groups. Implementations live in sub-packages (redisstream, kafka,
// jetstream); MemoryStore is an in-process implementation for tests and
// local runs.
package logstore

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by Store operations. Implementations wrap these so
// callers can classify failures with errors.Is.
var (
	// ErrNotFound is returned when the backend does not know the stream.
	ErrNotFound = errors.New("logstore: stream not found")

	// ErrBackendUnavailable is returned for transient failures: connection
	// errors, timeouts, server-side errors.
	ErrBackendUnavailable = errors.New("logstore: backend unavailable")
)

// Store is the log-store capability.
//
// All operations accept a context.Context for cancellation and timeouts.
// A context deadline is reported as ErrBackendUnavailable.
type Store interface {
	// Length returns the number of entries currently held by the stream.
	Length(ctx context.Context, stream string) (int64, error)

	// ConsumerGroupCount returns the number of consumer groups attached to
	// the stream.
	ConsumerGroupCount(ctx context.Context, stream string) (int, error)

	// Trim discards the oldest entries so that at most target entries remain.
	// With approximate set the backend may choose a cheaper boundary and keep
	// somewhat more than target entries. Returns an estimate of the number of
	// entries removed.
	Trim(ctx context.Context, stream string, target int64, approximate bool) (int64, error)
}

// Unavailable wraps cause as an ErrBackendUnavailable for the given operation.
func Unavailable(op, stream string, cause error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrBackendUnavailable, op, stream, cause)
}

// NotFound returns an ErrNotFound for the given stream.
func NotFound(stream string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, stream)
}

// Classify maps context errors to ErrBackendUnavailable and leaves already
// classified errors untouched.
func Classify(op, stream string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return Unavailable(op, stream, err)
}
