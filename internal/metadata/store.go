// Package metadata defines the key-value store used for worker
// self-reports. The production implementation is backed by Oxia; MockStore
// serves tests and single-process runs.
//
// Workers publish their status under ephemeral keys so that a crashed
// worker disappears from the registry once its session expires.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrVersionMismatch is returned when a conditional ephemeral put finds
	// the key in an unexpected state.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version is a key's version. Zero means the key has never been written.
type Version int64

// KV is a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// EphemeralOption configures a PutEphemeral operation.
type EphemeralOption func(*ephemeralOptions)

type ephemeralOptions struct {
	expectNotExists bool
}

// WithEphemeralExpectNotExists makes PutEphemeral fail with
// ErrVersionMismatch if the key already exists. Used to detect two workers
// reporting under the same ID.
func WithEphemeralExpectNotExists() EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectNotExists = true
	}
}

// ExtractEphemeralOptions reports whether WithEphemeralExpectNotExists was given.
func ExtractEphemeralOptions(opts []EphemeralOption) (expectNotExists bool) {
	var o ephemeralOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectNotExists
}

// MetadataStore is the interface for metadata storage operations.
//
// All operations accept a context.Context for cancellation and timeouts.
type MetadataStore interface {
	// Get retrieves a value by key. A missing key is not an error; the
	// result has Exists=false.
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value and returns its new version.
	Put(ctx context.Context, key string, value []byte) (Version, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns keys in [startKey, endKey) in lexicographic order. An
	// empty endKey lists every key with the prefix startKey. A non-positive
	// limit returns all matches.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// PutEphemeral stores a value that is deleted when the client session
	// ends.
	PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error)

	// Close releases resources held by the store.
	Close() error
}
