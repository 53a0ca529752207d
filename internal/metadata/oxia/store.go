package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/faultwatch/faultwatch/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace to use. All keys are scoped to it.
	Namespace string

	// RequestTimeout is the timeout for individual requests.
	RequestTimeout time.Duration

	// SessionTimeout bounds how long a worker report outlives its process.
	// Oxia enforces a minimum of 5 seconds.
	SessionTimeout time.Duration
}

// Store implements metadata.MetadataStore using Oxia.
type Store struct {
	client oxiaclient.SyncClient

	mu     sync.RWMutex
	closed bool
}

// New creates a new Oxia metadata store.
func New(_ context.Context, cfg Config) (*Store, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(cfg.Namespace),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(cfg.SessionTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Oxia versions start at 0; metadata.Version reserves 0 for missing keys.
func toVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{Exists: false}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get failed: %w", err)
	}
	return metadata.GetResult{
		Value:   value,
		Version: toVersion(version.VersionId),
		Exists:  true,
	}, nil
}

// Put stores a value unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	_, version, err := s.client.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("oxia: put failed: %w", err)
	}
	return toVersion(version.VersionId), nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Delete(ctx, key); err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("oxia: delete failed: %w", err)
	}
	return nil
}

// List returns keys in the range [startKey, endKey) in lexicographic order.
func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	// Oxia sorts '/' specially: a trailing-slash prefix scans its direct
	// children with the double-slash end key.
	if endKey == "" {
		if len(startKey) > 0 && startKey[len(startKey)-1] == '/' {
			endKey = startKey + "/"
		} else {
			endKey = prefixEnd(startKey)
		}
	}

	results := s.client.RangeScan(ctx, startKey, endKey)

	var kvs []metadata.KV
	for result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("oxia: list failed: %w", result.Err)
		}
		kvs = append(kvs, metadata.KV{
			Key:     result.Key,
			Value:   result.Value,
			Version: toVersion(result.Version.VersionId),
		})
		if limit > 0 && len(kvs) >= limit {
			go drainRangeScan(results)
			return kvs, nil
		}
	}
	return kvs, nil
}

// PutEphemeral stores a value that is deleted when the client session ends.
func (s *Store) PutEphemeral(ctx context.Context, key string, value []byte, opts ...metadata.EphemeralOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	oxiaOpts := []oxiaclient.PutOption{oxiaclient.Ephemeral()}
	if metadata.ExtractEphemeralOptions(opts) {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedRecordNotExists())
	}

	_, version, err := s.client.Put(ctx, key, value, oxiaOpts...)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return 0, metadata.ErrVersionMismatch
		}
		return 0, fmt.Errorf("oxia: put ephemeral failed: %w", err)
	}
	return toVersion(version.VersionId), nil
}

// Close releases the client session, which drops every ephemeral key it
// wrote.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// prefixEnd returns the key that is lexicographically greater than all keys
// with the given prefix.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ metadata.MetadataStore = (*Store)(nil)
