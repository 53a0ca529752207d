// Package workers models the fault-detection workers of the pipeline and
// the registries that report them.
//
// A worker is a stream consumer. Its snapshot comes either from the log
// store's consumer metadata (idle time, pending entries) or from a
// self-report published by the worker process, or from both merged.
package workers

import (
	"context"
	"sort"
	"time"
)

// Status is a worker's health as reported or derived.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// ParseStatus maps a reported status string to a Status. Unknown values
// report ok=false.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusHealthy, StatusWarning, StatusError:
		return Status(s), true
	}
	return "", false
}

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

// Worse returns the less healthy of a and b.
func Worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// StatusFromIdle derives a status from the time since a consumer last
// interacted with its stream.
func StatusFromIdle(idle, warnAfter, errorAfter time.Duration) Status {
	switch {
	case errorAfter > 0 && idle >= errorAfter:
		return StatusError
	case warnAfter > 0 && idle >= warnAfter:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// WorkerSnapshot is the observed state of one worker.
type WorkerSnapshot struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Status       Status  `json:"status"`
	CPUUsage     float64 `json:"cpuUsage"`
	MemoryUsage  float64 `json:"memoryUsage"`
	CurrentTasks int     `json:"currentTasks"`
	SuccessRate  float64 `json:"successRate"`
	StreamName   string  `json:"streamName"`
	GroupName    string  `json:"groupName"`
	IdleMs       int64   `json:"idleMs"`
}

// Key identifies w across registries. Consumer names are only unique within
// a consumer group, so a known stream and group qualify the ID.
func (w WorkerSnapshot) Key() string {
	if w.StreamName == "" && w.GroupName == "" {
		return w.ID
	}
	return w.StreamName + "/" + w.GroupName + "/" + w.ID
}

// qualified reports whether w names both its stream and its group.
func (w WorkerSnapshot) qualified() bool {
	return w.StreamName != "" && w.GroupName != ""
}

// describes reports whether a partial snapshot p can refer to the fully
// qualified worker w.
func describes(p, w WorkerSnapshot) bool {
	return p.ID == w.ID &&
		(p.StreamName == "" || p.StreamName == w.StreamName) &&
		(p.GroupName == "" || p.GroupName == w.GroupName)
}

// Registry lists the workers currently known to the cluster.
type Registry interface {
	ListWorkers(ctx context.Context) ([]WorkerSnapshot, error)
}

// SortSnapshots orders workers by stream, group and ID so that snapshots
// are stable between calls.
func SortSnapshots(ws []WorkerSnapshot) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if a.StreamName != b.StreamName {
			return a.StreamName < b.StreamName
		}
		if a.GroupName != b.GroupName {
			return a.GroupName < b.GroupName
		}
		return a.ID < b.ID
	})
}

func clampRate(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Normalize clamps percentages and rates into range and replaces an
// unknown status with StatusError.
func (w WorkerSnapshot) Normalize() WorkerSnapshot {
	if _, ok := ParseStatus(string(w.Status)); !ok {
		w.Status = StatusError
	}
	w.CPUUsage = clampPercent(w.CPUUsage)
	w.MemoryUsage = clampPercent(w.MemoryUsage)
	w.SuccessRate = clampRate(w.SuccessRate)
	if w.CurrentTasks < 0 {
		w.CurrentTasks = 0
	}
	if w.IdleMs < 0 {
		w.IdleMs = 0
	}
	return w
}
