package workers

import (
	"context"
	"fmt"
)

// MultiRegistry merges several registries. Workers are matched on
// WorkerSnapshot.Key, so equally named consumers of different groups stay
// distinct. A snapshot without stream or group, such as a self-report,
// is merged into every qualified worker it describes and is listed on its
// own only when it describes none. When snapshots merge, later registries
// fill in fields the earlier ones left empty and the worse status wins.
type MultiRegistry struct {
	registries []Registry
}

// NewMultiRegistry combines registries in priority order.
func NewMultiRegistry(registries ...Registry) *MultiRegistry {
	return &MultiRegistry{registries: registries}
}

// ListWorkers implements Registry. Any failing registry fails the call.
func (m *MultiRegistry) ListWorkers(ctx context.Context) ([]WorkerSnapshot, error) {
	var all []WorkerSnapshot
	for i, r := range m.registries {
		ws, err := r.ListWorkers(ctx)
		if err != nil {
			return nil, fmt.Errorf("workers: registry %d: %w", i, err)
		}
		all = append(all, ws...)
	}

	var out []WorkerSnapshot
	index := make(map[string]int)
	add := func(w WorkerSnapshot) {
		key := w.Key()
		if at, ok := index[key]; ok {
			out[at] = merge(out[at], w)
			return
		}
		index[key] = len(out)
		out = append(out, w)
	}

	for _, w := range all {
		if w.qualified() {
			add(w)
		}
	}
	qualified := len(out)
	for _, w := range all {
		if w.qualified() {
			continue
		}
		matched := false
		for at := 0; at < qualified; at++ {
			if describes(w, out[at]) {
				out[at] = merge(out[at], w)
				matched = true
			}
		}
		if !matched {
			add(w)
		}
	}

	SortSnapshots(out)
	return out, nil
}

func merge(a, b WorkerSnapshot) WorkerSnapshot {
	a.Status = Worse(a.Status, b.Status)
	if a.Type == "" {
		a.Type = b.Type
	}
	if a.StreamName == "" {
		a.StreamName = b.StreamName
	}
	if a.GroupName == "" {
		a.GroupName = b.GroupName
	}
	if a.CPUUsage == 0 {
		a.CPUUsage = b.CPUUsage
	}
	if a.MemoryUsage == 0 {
		a.MemoryUsage = b.MemoryUsage
	}
	if a.SuccessRate == 0 {
		a.SuccessRate = b.SuccessRate
	}
	if b.CurrentTasks > a.CurrentTasks {
		a.CurrentTasks = b.CurrentTasks
	}
	if b.IdleMs > a.IdleMs {
		a.IdleMs = b.IdleMs
	}
	return a
}
