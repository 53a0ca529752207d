package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/workers"
)

// RegistryConfig configures a WorkerRegistry.
type RegistryConfig struct {
	// Streams whose consumer groups are inspected.
	Streams []string

	// Consumers idle at least WarnIdle are reported as warning, at least
	// ErrorIdle as error.
	WarnIdle  time.Duration
	ErrorIdle time.Duration

	// ReportKeyPrefix, when set, enables self-reports: a worker may keep a
	// hash at ReportKeyPrefix+<stream>/<group>/<consumer> with fields type,
	// status, cpu, memory, successRate and tasks. A hash at
	// ReportKeyPrefix+<consumer> is used when the qualified one is absent.
	ReportKeyPrefix string

	// GroupTypes maps a consumer group to the worker type it runs. Groups
	// without an entry use their name minus a "_group" suffix.
	GroupTypes map[string]string
}

// WorkerRegistry lists stream consumers as workers.
type WorkerRegistry struct {
	client redis.UniversalClient
	config RegistryConfig
}

// NewWorkerRegistry creates a registry on client.
func NewWorkerRegistry(client redis.UniversalClient, config RegistryConfig) *WorkerRegistry {
	return &WorkerRegistry{client: client, config: config}
}

// ListWorkers implements workers.Registry. Streams that do not exist yet
// contribute no workers.
func (r *WorkerRegistry) ListWorkers(ctx context.Context) ([]workers.WorkerSnapshot, error) {
	var out []workers.WorkerSnapshot

	for _, stream := range r.config.Streams {
		groups, err := r.client.XInfoGroups(ctx, stream).Result()
		if err != nil {
			err = classify("groups", stream, err)
			if errors.Is(err, logstore.ErrNotFound) {
				continue
			}
			return nil, err
		}

		for _, g := range groups {
			consumers, err := r.client.XInfoConsumers(ctx, stream, g.Name).Result()
			if err != nil {
				return nil, classify("consumers", stream, err)
			}
			for _, c := range consumers {
				out = append(out, r.fromConsumer(stream, g.Name, c))
			}
		}
	}

	if r.config.ReportKeyPrefix != "" && len(out) > 0 {
		if err := r.applyReports(ctx, out); err != nil {
			return nil, err
		}
	}

	for i := range out {
		out[i] = out[i].Normalize()
	}
	workers.SortSnapshots(out)
	return out, nil
}

func (r *WorkerRegistry) fromConsumer(stream, group string, c redis.XInfoConsumer) workers.WorkerSnapshot {
	return workers.WorkerSnapshot{
		ID:           c.Name,
		Type:         r.groupType(group),
		Status:       workers.StatusFromIdle(c.Idle, r.config.WarnIdle, r.config.ErrorIdle),
		CurrentTasks: int(c.Pending),
		StreamName:   stream,
		GroupName:    group,
		IdleMs:       c.Idle.Milliseconds(),
	}
}

func (r *WorkerRegistry) groupType(group string) string {
	if t, ok := r.config.GroupTypes[group]; ok {
		return t
	}
	return strings.TrimSuffix(group, "_group")
}

func (r *WorkerRegistry) applyReports(ctx context.Context, ws []workers.WorkerSnapshot) error {
	pipe := r.client.Pipeline()
	qualified := make([]*redis.MapStringStringCmd, len(ws))
	bare := make([]*redis.MapStringStringCmd, len(ws))
	for i, w := range ws {
		qualified[i] = pipe.HGetAll(ctx, ReportKey(r.config.ReportKeyPrefix, w))
		bare[i] = pipe.HGetAll(ctx, r.config.ReportKeyPrefix+w.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return logstore.Unavailable("reports", "", err)
	}
	for i := range ws {
		fields := qualified[i].Val()
		if len(fields) == 0 {
			fields = bare[i].Val()
		}
		ws[i] = applyReport(ws[i], fields)
	}
	return nil
}

// ReportKey is the self-report hash key for w under prefix.
func ReportKey(prefix string, w workers.WorkerSnapshot) string {
	return prefix + w.Key()
}

// applyReport overlays self-reported fields onto a consumer-derived
// snapshot. The worse of the derived and reported status wins.
func applyReport(w workers.WorkerSnapshot, fields map[string]string) workers.WorkerSnapshot {
	if len(fields) == 0 {
		return w
	}
	if t := fields["type"]; t != "" {
		w.Type = t
	}
	if s, ok := workers.ParseStatus(fields["status"]); ok {
		w.Status = workers.Worse(w.Status, s)
	}
	if v, err := strconv.ParseFloat(fields["cpu"], 64); err == nil {
		w.CPUUsage = v
	}
	if v, err := strconv.ParseFloat(fields["memory"], 64); err == nil {
		w.MemoryUsage = v
	}
	if v, err := strconv.ParseFloat(fields["successRate"], 64); err == nil {
		w.SuccessRate = v
	}
	if v, err := strconv.Atoi(fields["tasks"]); err == nil {
		w.CurrentTasks = v
	}
	return w
}

// PublishReport writes a worker self-report hash with a TTL, so a crashed
// worker's report expires. Set StreamName and GroupName on w to report for
// one consumer of a reused name.
func PublishReport(ctx context.Context, client redis.UniversalClient, prefix string, w workers.WorkerSnapshot, ttl time.Duration) error {
	key := ReportKey(prefix, w)
	pipe := client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"type":        w.Type,
		"status":      string(w.Status),
		"cpu":         strconv.FormatFloat(w.CPUUsage, 'f', -1, 64),
		"memory":      strconv.FormatFloat(w.MemoryUsage, 'f', -1, 64),
		"successRate": strconv.FormatFloat(w.SuccessRate, 'f', -1, 64),
		"tasks":       strconv.Itoa(w.CurrentTasks),
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstream: publish report %s: %w", w.ID, err)
	}
	return nil
}

var _ workers.Registry = (*WorkerRegistry)(nil)
