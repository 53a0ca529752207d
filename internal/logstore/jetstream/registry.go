package jetstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/workers"
)

// RegistryConfig configures a WorkerRegistry.
type RegistryConfig struct {
	Streams   []string
	WarnIdle  time.Duration
	ErrorIdle time.Duration
}

// WorkerRegistry lists the consumers of the configured streams as workers.
// Idle time runs from the consumer's last delivery, or from its creation if
// nothing was delivered yet.
type WorkerRegistry struct {
	js     nats.JetStreamContext
	config RegistryConfig
	now    func() time.Time
}

// NewWorkerRegistry creates a registry on js.
func NewWorkerRegistry(js nats.JetStreamContext, config RegistryConfig) *WorkerRegistry {
	return &WorkerRegistry{js: js, config: config, now: time.Now}
}

// ListWorkers implements workers.Registry. Missing streams contribute no
// workers.
func (r *WorkerRegistry) ListWorkers(ctx context.Context) ([]workers.WorkerSnapshot, error) {
	var out []workers.WorkerSnapshot
	for _, stream := range r.config.Streams {
		if _, err := r.js.StreamInfo(stream, nats.Context(ctx)); err != nil {
			err = classify("consumers", stream, err)
			if errors.Is(err, logstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for info := range r.js.ConsumersInfo(stream, nats.Context(ctx)) {
			out = append(out, r.fromConsumer(info))
		}
		if err := ctx.Err(); err != nil {
			return nil, logstore.Unavailable("consumers", stream, err)
		}
	}
	workers.SortSnapshots(out)
	return out, nil
}

func (r *WorkerRegistry) fromConsumer(info *nats.ConsumerInfo) workers.WorkerSnapshot {
	since := info.Created
	if last := info.Delivered.Last; last != nil {
		since = *last
	}
	idle := r.now().Sub(since)

	name := info.Name
	if info.Config.Durable != "" {
		name = info.Config.Durable
	}
	return workers.WorkerSnapshot{
		ID:           name,
		Type:         strings.TrimSuffix(name, "_group"),
		Status:       workers.StatusFromIdle(idle, r.config.WarnIdle, r.config.ErrorIdle),
		CurrentTasks: info.NumAckPending,
		StreamName:   info.Stream,
		GroupName:    name,
		IdleMs:       idle.Milliseconds(),
	}.Normalize()
}

var _ workers.Registry = (*WorkerRegistry)(nil)
