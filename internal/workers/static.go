package workers

import (
	"context"
	"sync"
)

// StaticRegistry serves a fixed, replaceable worker list.
type StaticRegistry struct {
	mu      sync.RWMutex
	workers []WorkerSnapshot
	err     error
}

// NewStaticRegistry creates a registry holding ws.
func NewStaticRegistry(ws ...WorkerSnapshot) *StaticRegistry {
	r := &StaticRegistry{}
	r.Set(ws...)
	return r
}

// Set replaces the worker list.
func (r *StaticRegistry) Set(ws ...WorkerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append([]WorkerSnapshot(nil), ws...)
}

// SetError makes ListWorkers fail with err until cleared with nil.
func (r *StaticRegistry) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// ListWorkers implements Registry.
func (r *StaticRegistry) ListWorkers(context.Context) ([]WorkerSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]WorkerSnapshot(nil), r.workers...), nil
}
