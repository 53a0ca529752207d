package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
)

// State is the lifecycle state of a Scheduler.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// MetricsRecorder receives scheduler events. Implemented by
// metrics.MaintenanceMetrics.
type MetricsRecorder interface {
	RecordCycle(duration time.Duration, trims, failures int)
	RecordSkippedCycle()
	RecordTrim(stream string, removed int64)
	RecordError(stream string)
}

// TrimResult is the outcome of a manual trim.
type TrimResult struct {
	Stream    string `json:"stream"`
	MaxLength int64  `json:"maxLength"`
	Removed   int64  `json:"removed"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithStats replaces the stats collector. Intended for tests that need an
// injected clock.
func WithStats(c *StatsCollector) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.stats = c
		}
	}
}

// Scheduler periodically bounds the length of the configured streams.
//
// A single background goroutine issues all scheduled trims. Cancellation is
// observed while waiting for the next tick, between streams and during the
// inter-trim delay; a backend call that has started always runs to
// completion or to its own timeout.
type Scheduler struct {
	store   logstore.Store
	stats   *StatsCollector
	logger  *logging.Logger
	metrics MetricsRecorder

	cfgMu sync.Mutex
	cfg   Config

	// cycleMu serializes cycles started by the loop and by RunCycle.
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	// interval returns the wait before the next tick.
	interval func(Config) time.Duration
}

// NewScheduler creates a stopped scheduler. cfg is validated up front so a
// scheduler never runs with a malformed configuration.
func NewScheduler(store logstore.Store, cfg Config, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("maintenance: log store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:    store,
		stats:    NewStatsCollector(DefaultRecentErrorCapacity),
		logger:   logging.Global(),
		cfg:      cfg.Clone(),
		interval: Config.Interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(map[string]any{"component": "maintenance"})
	return s, nil
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return StateRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(ctx, s.doneCh)

	cfg := s.Config()
	s.logger.Infof("maintenance scheduler started", map[string]any{
		"intervalSeconds": cfg.IntervalSeconds,
		"streams":         len(cfg.Streams),
		"enabled":         cfg.Enabled,
	})
	return StateRunning
}

// Stop cancels the loop and waits for it to exit. If the loop does not exit
// within the shutdown timeout, Stop logs a warning and returns anyway; the
// abandoned loop exits after its current backend call.
func (s *Scheduler) Stop() State {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return StateStopped
	}
	cancel, done := s.cancel, s.doneCh
	s.running = false
	s.cancel = nil
	s.doneCh = nil
	s.mu.Unlock()

	cancel()

	timeout := s.Config().ShutdownTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("maintenance scheduler stopped")
	case <-timer.C:
		s.logger.Warnf("maintenance loop did not stop in time, abandoning", map[string]any{
			"timeout": timeout.String(),
		})
	}
	return StateStopped
}

// State reports whether the background loop is running.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return StateRunning
	}
	return StateStopped
}

// Config returns a copy of the live configuration.
func (s *Scheduler) Config() Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Clone()
}

// UpdateConfig merges u into the live configuration. Invalid updates are
// rejected with a *ConfigError and leave the configuration untouched. The
// change takes effect on the next tick.
func (s *Scheduler) UpdateConfig(u ConfigUpdate) (Config, error) {
	s.cfgMu.Lock()
	merged, err := s.cfg.Merge(u)
	if err != nil {
		s.cfgMu.Unlock()
		s.logger.Warnf("rejected maintenance config update", map[string]any{"error": err.Error()})
		return merged, err
	}
	s.cfg = merged
	s.cfgMu.Unlock()

	s.logger.Infof("maintenance config updated", map[string]any{
		"enabled":               merged.Enabled,
		"intervalSeconds":       merged.IntervalSeconds,
		"maxOperationsPerCycle": merged.MaxOperationsPerCycle,
	})
	return merged.Clone(), nil
}

// Stats returns a snapshot of the maintenance statistics.
func (s *Scheduler) Stats() Stats {
	return s.stats.Snapshot()
}

// ResetStats clears all statistics.
func (s *Scheduler) ResetStats() {
	s.stats.ResetAll()
	s.logger.Info("maintenance stats reset")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.interval(s.Config()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		cfg := s.Config()
		if cfg.Enabled {
			_ = s.runCycle(ctx, cfg)
		} else {
			if s.metrics != nil {
				s.metrics.RecordSkippedCycle()
			}
			s.logger.Debug("maintenance disabled, skipping cycle")
		}
		timer.Reset(s.interval(s.Config()))
	}
}

// RunCycle runs one maintenance cycle synchronously with the current
// configuration, regardless of Enabled. It returns ErrPartialCycle when at
// least one stream failed.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	return s.runCycle(ctx, s.Config())
}

func (s *Scheduler) runCycle(ctx context.Context, cfg Config) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleID := uuid.NewString()
	log := s.logger.WithCorrelationID(cycleID)
	start := time.Now()

	s.stats.RecordCycleStart()

	var trims, attempts, failures int
	delay := cfg.OperationDelay()

streams:
	for _, name := range cfg.Streams {
		if attempts >= cfg.MaxOperationsPerCycle {
			log.Debugf("operation budget exhausted, deferring remaining streams", map[string]any{
				"budget": cfg.MaxOperationsPerCycle,
			})
			break
		}
		if ctx.Err() != nil {
			break
		}

		desc := Resolve(name, cfg)
		length, err := s.length(ctx, cfg, name)
		if err != nil {
			failures++
			s.recordError(log, name, "length query failed", err)
			continue
		}
		if !desc.NeedsTrim(length) {
			continue
		}

		if attempts > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				break streams
			case <-time.After(delay):
			}
		}
		attempts++

		removed, err := s.trim(ctx, cfg, desc)
		if err != nil {
			failures++
			s.recordError(log, name, "trim failed", err)
			continue
		}
		trims++
		s.stats.RecordTrim(name, removed)
		if s.metrics != nil {
			s.metrics.RecordTrim(name, removed)
		}
		log.Infof("stream trimmed", map[string]any{
			"stream":      name,
			"length":      length,
			"maxLength":   desc.EffectiveMaxLength,
			"approximate": desc.Approximate,
			"removed":     removed,
		})
	}

	s.stats.RecordCycleEnd()
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordCycle(elapsed, trims, failures)
	}
	log.Infof("maintenance cycle complete", map[string]any{
		"trims":      trims,
		"errors":     failures,
		"durationMs": elapsed.Milliseconds(),
	})

	if failures > 0 {
		return fmt.Errorf("%w: %d failed", ErrPartialCycle, failures)
	}
	return nil
}

// opContext detaches from ctx so that stopping never interrupts a backend
// call, and bounds the call by the operation timeout.
func opContext(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cfg.OperationTimeout())
}

func (s *Scheduler) length(ctx context.Context, cfg Config, stream string) (int64, error) {
	opCtx, cancel := opContext(ctx, cfg)
	defer cancel()
	n, err := s.store.Length(opCtx, stream)
	return n, logstore.Classify("length", stream, err)
}

func (s *Scheduler) trim(ctx context.Context, cfg Config, d StreamDescriptor) (int64, error) {
	opCtx, cancel := opContext(ctx, cfg)
	defer cancel()
	n, err := s.store.Trim(opCtx, d.Name, d.EffectiveMaxLength, d.Approximate)
	return n, logstore.Classify("trim", d.Name, err)
}

func (s *Scheduler) recordError(log *logging.Logger, stream, msg string, err error) {
	s.stats.RecordError(stream, fmt.Sprintf("%s: %v", msg, err))
	if s.metrics != nil {
		s.metrics.RecordError(stream)
	}
	log.Warnf(msg, map[string]any{"stream": stream, "error": err.Error()})
}

// ManualTrim trims stream to at most maxLength entries immediately,
// bypassing the interval and the per-cycle budget. The trim mode follows the
// configuration. Returns ErrNotFound, without touching stats, when the log
// store does not know the stream.
func (s *Scheduler) ManualTrim(ctx context.Context, stream string, maxLength int64) (TrimResult, error) {
	return s.ManualTrimWithOptions(ctx, stream, TrimOverride{MaxLength: &maxLength})
}

// ManualTrimWithOptions is ManualTrim with optional overrides. A nil
// MaxLength uses the stream's configured limit.
func (s *Scheduler) ManualTrimWithOptions(ctx context.Context, stream string, o TrimOverride) (TrimResult, error) {
	if stream == "" {
		return TrimResult{}, ErrInvalidStream
	}
	if o.MaxLength != nil && *o.MaxLength <= 0 {
		return TrimResult{}, ErrInvalidLength
	}

	cfg := s.Config()
	desc := ResolveWithOverride(stream, cfg, o)
	log := logging.ContextLogger(ctx, s.logger)

	if _, err := s.length(ctx, cfg, stream); err != nil {
		if errors.Is(err, logstore.ErrNotFound) {
			return TrimResult{}, fmt.Errorf("maintenance: manual trim %s: %w", stream, err)
		}
		s.recordError(log, stream, "manual trim length query failed", err)
		return TrimResult{}, err
	}

	removed, err := s.trim(ctx, cfg, desc)
	if err != nil {
		if errors.Is(err, logstore.ErrNotFound) {
			return TrimResult{}, fmt.Errorf("maintenance: manual trim %s: %w", stream, err)
		}
		s.recordError(log, stream, "manual trim failed", err)
		return TrimResult{}, err
	}

	s.stats.RecordTrim(stream, removed)
	if s.metrics != nil {
		s.metrics.RecordTrim(stream, removed)
	}
	log.Infof("manual trim", map[string]any{
		"stream":      stream,
		"maxLength":   desc.EffectiveMaxLength,
		"approximate": desc.Approximate,
		"removed":     removed,
	})
	return TrimResult{Stream: stream, MaxLength: desc.EffectiveMaxLength, Removed: removed}, nil
}
