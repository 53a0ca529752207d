package logstore

import (
	"context"
	"sync"
	"time"
)

// TrimCall records a Trim invocation against a MemoryStore.
type TrimCall struct {
	Stream      string
	Target      int64
	Approximate bool
}

type memStream struct {
	length int64
	groups int
}

// MemoryStore is an in-process Store. It is exported so that tests in other
// packages and local runs can use it.
type MemoryStore struct {
	mu       sync.Mutex
	streams  map[string]*memStream
	failures map[string]error
	calls    []TrimCall
	latency  time.Duration

	// NodeSize emulates backends that trim approximately in whole blocks of
	// entries. Zero means approximate trims are exact.
	NodeSize int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:  make(map[string]*memStream),
		failures: make(map[string]error),
	}
}

// SetLength creates the stream if needed and sets its length.
func (m *MemoryStore) SetLength(stream string, length int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream(stream).length = length
}

// Append adds n entries to the stream, creating it if needed.
func (m *MemoryStore) Append(stream string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream(stream).length += n
}

// SetGroups sets the consumer group count of the stream.
func (m *MemoryStore) SetGroups(stream string, groups int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream(stream).groups = groups
}

// Remove deletes the stream.
func (m *MemoryStore) Remove(stream string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, stream)
}

// FailStream makes every operation on stream return err until cleared with
// a nil err.
func (m *MemoryStore) FailStream(stream string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, stream)
		return
	}
	m.failures[stream] = err
}

// SetLatency delays every operation by d, or until the context is done.
func (m *MemoryStore) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// TrimCalls returns the Trim invocations seen so far, in order.
func (m *MemoryStore) TrimCalls() []TrimCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrimCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Streams returns the names of all streams.
func (m *MemoryStore) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	return names
}

// must be called with m.mu held.
func (m *MemoryStore) stream(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{}
		m.streams[name] = s
	}
	return s
}

func (m *MemoryStore) wait(ctx context.Context, op, stream string) error {
	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()
	if latency <= 0 {
		return nil
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return Unavailable(op, stream, ctx.Err())
	}
}

// lookup must be called with m.mu held.
func (m *MemoryStore) lookup(op, name string) (*memStream, error) {
	if err, ok := m.failures[name]; ok {
		return nil, Classify(op, name, err)
	}
	s, ok := m.streams[name]
	if !ok {
		return nil, NotFound(name)
	}
	return s, nil
}

// Length implements Store.
func (m *MemoryStore) Length(ctx context.Context, stream string) (int64, error) {
	if err := m.wait(ctx, "length", stream); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup("length", stream)
	if err != nil {
		return 0, err
	}
	return s.length, nil
}

// ConsumerGroupCount implements Store.
func (m *MemoryStore) ConsumerGroupCount(ctx context.Context, stream string) (int, error) {
	if err := m.wait(ctx, "groups", stream); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup("groups", stream)
	if err != nil {
		return 0, err
	}
	return s.groups, nil
}

// Trim implements Store.
func (m *MemoryStore) Trim(ctx context.Context, stream string, target int64, approximate bool) (int64, error) {
	if err := m.wait(ctx, "trim", stream); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, TrimCall{Stream: stream, Target: target, Approximate: approximate})
	s, err := m.lookup("trim", stream)
	if err != nil {
		return 0, err
	}
	if target < 0 {
		target = 0
	}
	if s.length <= target {
		return 0, nil
	}
	excess := s.length - target
	if approximate && m.NodeSize > 0 {
		excess -= excess % m.NodeSize
	}
	s.length -= excess
	return excess, nil
}
