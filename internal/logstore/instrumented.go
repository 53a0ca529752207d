package logstore

import (
	"context"
	"time"
)

// MetricsRecorder records log-store operation metrics. It keeps this package
// decoupled from the metrics package.
type MetricsRecorder interface {
	RecordLength(durationSeconds float64, success bool)
	RecordGroups(durationSeconds float64, success bool)
	RecordTrim(durationSeconds float64, success bool, removed int64)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// Length implements Store.
func (s *InstrumentedStore) Length(ctx context.Context, stream string) (int64, error) {
	start := time.Now()
	n, err := s.store.Length(ctx, stream)
	if s.metrics != nil {
		s.metrics.RecordLength(time.Since(start).Seconds(), err == nil)
	}
	return n, err
}

// ConsumerGroupCount implements Store.
func (s *InstrumentedStore) ConsumerGroupCount(ctx context.Context, stream string) (int, error) {
	start := time.Now()
	n, err := s.store.ConsumerGroupCount(ctx, stream)
	if s.metrics != nil {
		s.metrics.RecordGroups(time.Since(start).Seconds(), err == nil)
	}
	return n, err
}

// Trim implements Store.
func (s *InstrumentedStore) Trim(ctx context.Context, stream string, target int64, approximate bool) (int64, error) {
	start := time.Now()
	removed, err := s.store.Trim(ctx, stream, target, approximate)
	if s.metrics != nil {
		s.metrics.RecordTrim(time.Since(start).Seconds(), err == nil, removed)
	}
	return removed, err
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() Store {
	return s.store
}
