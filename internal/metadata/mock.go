package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore implements MetadataStore in memory.
// It is exported so that tests in other packages can use it.
type MockStore struct {
	mu        sync.RWMutex
	data      map[string]KV
	ephemeral map[string]struct{}
	closed    bool
	nextVer   Version
	failErr   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		data:      make(map[string]KV),
		ephemeral: make(map[string]struct{}),
		nextVer:   1,
	}
}

// SetError makes every subsequent operation fail with err. A nil err
// restores normal behaviour.
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// ExpireSession deletes every ephemeral key, as a session timeout would.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.ephemeral {
		delete(m.data, k)
	}
	m.ephemeral = make(map[string]struct{})
}

// must be called with m.mu held.
func (m *MockStore) check() error {
	if m.closed {
		return ErrStoreClosed
	}
	return m.failErr
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	delete(m.ephemeral, key)
	return m.put(key, value), nil
}

// must be called with m.mu held.
func (m *MockStore) put(key string, value []byte) Version {
	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	return ver
}

func (m *MockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return err
	}
	delete(m.data, key)
	delete(m.ephemeral, key)
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	if ExtractEphemeralOptions(opts) {
		if _, exists := m.data[key]; exists {
			return 0, ErrVersionMismatch
		}
	}
	m.ephemeral[key] = struct{}{}
	return m.put(key, value), nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockStore implements MetadataStore
var _ MetadataStore = (*MockStore)(nil)
