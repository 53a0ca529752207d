package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
)

type fakeMetrics struct {
	mu      sync.Mutex
	cycles  int
	skipped int
	trims   int
	errors  int
}

func (m *fakeMetrics) RecordCycle(time.Duration, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *fakeMetrics) RecordSkippedCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *fakeMetrics) RecordTrim(string, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
}

func (m *fakeMetrics) RecordError(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *fakeMetrics) skippedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipped
}

func testConfig(streams ...string) Config {
	cfg := DefaultConfig()
	cfg.Streams = streams
	cfg.OperationDelaySeconds = 0
	cfg.ShutdownTimeoutSeconds = 5
	return cfg
}

func newTestScheduler(t *testing.T, store logstore.Store, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	s, err := NewScheduler(store, cfg, opts...)
	require.NoError(t, err)
	s.interval = func(Config) time.Duration { return 5 * time.Millisecond }
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestNewSchedulerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntervalSeconds = 0
	_, err := NewScheduler(logstore.NewMemoryStore(), cfg)
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewScheduler(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestRunCycle_TrimsStreamOverLimit(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 6000)
	s := newTestScheduler(t, store, testConfig("motor_raw_data"))

	require.NoError(t, s.RunCycle(context.Background()))

	n, err := store.Length(context.Background(), "motor_raw_data")
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(5000))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(1), stats.TotalTrimmed)
	assert.Equal(t, int64(1000), stats.TotalMessagesRemoved)
	assert.Equal(t, int64(1000), stats.Streams["motor_raw_data"].MessagesRemoved)

	calls := store.TrimCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, logstore.TrimCall{Stream: "motor_raw_data", Target: 5000, Approximate: true}, calls[0])
}

func TestRunCycle_OnlyStreamsOverLimitAreTrimmed(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 6000)
	store.SetLength("bearing_fault_stream", 100)
	store.SetLength("broken_bar_stream", 12000)
	store.SetLength("eccentricity_stream", 10000)
	store.SetLength("insulation_stream", 0)

	s := newTestScheduler(t, store, testConfig(
		"motor_raw_data", "bearing_fault_stream", "broken_bar_stream",
		"eccentricity_stream", "insulation_stream",
	))

	require.NoError(t, s.RunCycle(context.Background()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TotalTrimmed)
	assert.Len(t, stats.Streams, 2)
	assert.Contains(t, stats.Streams, "motor_raw_data")
	assert.Contains(t, stats.Streams, "broken_bar_stream")
	assert.Len(t, store.TrimCalls(), 2)
}

func TestRunCycle_BudgetDefersRemainingStreams(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 200)
	store.SetLength("b", 300)
	store.SetLength("c", 400)

	cfg := testConfig("a", "b", "c")
	cfg.DefaultMaxLength = 100
	cfg.MaxOperationsPerCycle = 1
	s := newTestScheduler(t, store, cfg)

	require.NoError(t, s.RunCycle(context.Background()))
	calls := store.TrimCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].Stream)

	b, _ := store.Length(context.Background(), "b")
	c, _ := store.Length(context.Background(), "c")
	assert.Equal(t, int64(300), b)
	assert.Equal(t, int64(400), c)

	require.NoError(t, s.RunCycle(context.Background()))
	require.NoError(t, s.RunCycle(context.Background()))

	for _, name := range cfg.Streams {
		n, err := store.Length(context.Background(), name)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, int64(100), name)
	}
	assert.Equal(t, int64(3), s.Stats().TotalCycles)
}

func TestRunCycle_FailedStreamDoesNotAbortCycle(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 200)
	store.SetLength("c", 200)
	store.FailStream("a", errors.New("connection refused"))

	cfg := testConfig("a", "missing", "c")
	cfg.DefaultMaxLength = 100
	s := newTestScheduler(t, store, cfg)

	err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrPartialCycle)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(1), stats.TotalTrimmed)
	assert.Equal(t, int64(2), stats.ErrorCount)
	assert.Equal(t, 2, stats.LastCycleErrors)
	require.Len(t, stats.RecentErrors, 2)
	assert.Equal(t, "a", stats.RecentErrors[0].Stream)
	assert.Equal(t, "missing", stats.RecentErrors[1].Stream)

	c, _ := store.Length(context.Background(), "c")
	assert.Equal(t, int64(100), c)
}

func TestRunCycle_TimeoutIsStreamFailure(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("slow", 200)
	store.SetLatency(200 * time.Millisecond)

	cfg := testConfig("slow")
	cfg.DefaultMaxLength = 100
	cfg.OperationTimeoutSeconds = 0.02
	s := newTestScheduler(t, store, cfg)

	err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrPartialCycle)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(1), stats.ErrorCount)
}

func TestRunCycle_ApproximateModeTrimsJustOverLimit(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 5040)
	s := newTestScheduler(t, store, testConfig("motor_raw_data"))

	require.NoError(t, s.RunCycle(context.Background()))
	calls := store.TrimCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(5000), calls[0].Target)
	assert.True(t, calls[0].Approximate)

	n, err := store.Length(context.Background(), "motor_raw_data")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
}

func TestRunCycle_ApproximateTrimEndsWithinTolerance(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.NodeSize = 30
	store.SetLength("motor_raw_data", 5040)
	s := newTestScheduler(t, store, testConfig("motor_raw_data"))

	require.NoError(t, s.RunCycle(context.Background()))
	require.Len(t, store.TrimCalls(), 1)

	n, err := store.Length(context.Background(), "motor_raw_data")
	require.NoError(t, err)
	assert.Equal(t, int64(5010), n)

	desc := Resolve("motor_raw_data", s.Config())
	assert.True(t, desc.NeedsTrim(n))
	assert.True(t, desc.WithinBounds(n, s.Config().ApproximateTolerance))

	exact := false
	_, err = s.UpdateConfig(ConfigUpdate{ApproximateTrim: &exact})
	require.NoError(t, err)

	require.NoError(t, s.RunCycle(context.Background()))
	calls := store.TrimCalls()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].Approximate)

	n, err = store.Length(context.Background(), "motor_raw_data")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
}

func TestRunCycle_DelayOnlyBetweenTrims(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 10)
	store.SetLength("b", 10)
	store.SetLength("c", 200)

	cfg := testConfig("a", "b", "c")
	cfg.DefaultMaxLength = 100
	cfg.OperationDelaySeconds = 0.3
	s := newTestScheduler(t, store, cfg)

	start := time.Now()
	require.NoError(t, s.RunCycle(context.Background()))
	assert.Less(t, time.Since(start), 300*time.Millisecond, "skips must not sleep")

	store.SetLength("a", 200)
	store.SetLength("b", 200)
	store.SetLength("c", 10)
	delay := 0.05
	_, err := s.UpdateConfig(ConfigUpdate{OperationDelaySeconds: &delay})
	require.NoError(t, err)

	start = time.Now()
	require.NoError(t, s.RunCycle(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRunCycle_LengthsBoundedAfterEveryCycle(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.NodeSize = 100
	cfg := testConfig(DefaultStreams...)
	cfg.MaxOperationsPerCycle = 2
	cfg.ApproximateTolerance = 0.05
	s := newTestScheduler(t, store, cfg)

	for i, name := range cfg.Streams {
		store.SetLength(name, int64(3000*(i+1)))
	}

	for cycle := 0; cycle < 6; cycle++ {
		require.NoError(t, s.RunCycle(context.Background()))

		stats := s.Stats()
		var sum int64
		for _, st := range stats.Streams {
			sum += st.MessagesRemoved
		}
		assert.Equal(t, stats.TotalMessagesRemoved, sum)
		assert.LessOrEqual(t, stats.LastCycleTrims, cfg.MaxOperationsPerCycle)
	}

	for _, name := range cfg.Streams {
		n, err := store.Length(context.Background(), name)
		require.NoError(t, err)
		assert.True(t, Resolve(name, cfg).WithinBounds(n, cfg.ApproximateTolerance), "%s at %d", name, n)
	}
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 10)
	s := newTestScheduler(t, store, testConfig("a"))

	assert.Equal(t, StateRunning, s.Start())
	s.mu.Lock()
	firstDone := s.doneCh
	s.mu.Unlock()

	require.Eventually(t, func() bool { return s.Stats().TotalCycles >= 2 },
		time.Second, 5*time.Millisecond)
	before := s.Stats().TotalCycles

	assert.Equal(t, StateRunning, s.Start())
	s.mu.Lock()
	assert.Equal(t, firstDone, s.doneCh, "second Start must not create a new loop")
	s.mu.Unlock()
	assert.GreaterOrEqual(t, s.Stats().TotalCycles, before)
	assert.Equal(t, StateRunning, s.State())
}

func TestScheduler_NoTicksAfterStop(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 10)
	s := newTestScheduler(t, store, testConfig("a"))

	s.Start()
	require.Eventually(t, func() bool { return s.Stats().TotalCycles >= 1 },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, StateStopped, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	after := s.Stats().TotalCycles

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, s.Stats().TotalCycles)

	// Restartable.
	s.Start()
	require.Eventually(t, func() bool { return s.Stats().TotalCycles > after },
		time.Second, 5*time.Millisecond)
}

func TestScheduler_StopWhenStopped(t *testing.T) {
	s := newTestScheduler(t, logstore.NewMemoryStore(), testConfig("a"))
	assert.Equal(t, StateStopped, s.Stop())
}

func TestScheduler_DisabledSkipsCycles(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 500)
	cfg := testConfig("a")
	cfg.DefaultMaxLength = 100
	m := &fakeMetrics{}
	s := newTestScheduler(t, store, cfg, WithMetrics(m))

	disabled := false
	_, err := s.UpdateConfig(ConfigUpdate{Enabled: &disabled})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return m.skippedCount() >= 3 },
		time.Second, 5*time.Millisecond)

	assert.Zero(t, s.Stats().TotalCycles)
	assert.Empty(t, store.TrimCalls())
	assert.Equal(t, StateRunning, s.State())
}

type blockingStore struct {
	*logstore.MemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	ctxErr error
}

func (b *blockingStore) Trim(ctx context.Context, stream string, target int64, approximate bool) (int64, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.mu.Lock()
	b.ctxErr = ctx.Err()
	b.mu.Unlock()
	return b.MemoryStore.Trim(ctx, stream, target, approximate)
}

func TestScheduler_StopWaitsForInFlightTrim(t *testing.T) {
	mem := logstore.NewMemoryStore()
	mem.SetLength("a", 500)
	mem.SetLength("b", 500)
	store := &blockingStore{
		MemoryStore: mem,
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	cfg := testConfig("a", "b")
	cfg.DefaultMaxLength = 100
	s := newTestScheduler(t, store, cfg)

	s.Start()
	<-store.started

	stopped := make(chan State)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a trim was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(store.release)
	assert.Equal(t, StateStopped, <-stopped)

	store.mu.Lock()
	assert.NoError(t, store.ctxErr, "in-flight trim must not see cancellation")
	store.mu.Unlock()

	a, _ := mem.Length(context.Background(), "a")
	b, _ := mem.Length(context.Background(), "b")
	assert.Equal(t, int64(100), a)
	assert.Equal(t, int64(500), b, "no stream after the stop signal is visited")

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(1), stats.TotalTrimmed)
}

func TestScheduler_StopTimeout(t *testing.T) {
	mem := logstore.NewMemoryStore()
	mem.SetLength("a", 500)
	store := &blockingStore{
		MemoryStore: mem,
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	defer close(store.release)

	cfg := testConfig("a")
	cfg.DefaultMaxLength = 100
	cfg.ShutdownTimeoutSeconds = 0.05
	s := newTestScheduler(t, store, cfg)

	s.Start()
	<-store.started

	start := time.Now()
	assert.Equal(t, StateStopped, s.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_UpdateConfig(t *testing.T) {
	s := newTestScheduler(t, logstore.NewMemoryStore(), testConfig("a"))

	cfg, err := s.UpdateConfig(ConfigUpdate{PerStreamLimits: map[string]int64{"x": 7}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.PerStreamLimits["x"])
	assert.Equal(t, int64(5000), cfg.PerStreamLimits["motor_raw_data"])

	bad := int64(0)
	_, err = s.UpdateConfig(ConfigUpdate{DefaultMaxLength: &bad})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, int64(10000), s.Config().DefaultMaxLength)
	assert.Equal(t, int64(7), s.Config().PerStreamLimits["x"])
}

func TestManualTrim(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 900)
	cfg := testConfig("motor_raw_data")
	cfg.MaxOperationsPerCycle = 1
	s := newTestScheduler(t, store, cfg)

	res, err := s.ManualTrim(context.Background(), "motor_raw_data", 100)
	require.NoError(t, err)
	assert.Equal(t, TrimResult{Stream: "motor_raw_data", MaxLength: 100, Removed: 800}, res)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalTrimmed)
	assert.Zero(t, stats.TotalCycles)
}

func TestManualTrim_NotFoundLeavesStatsUnchanged(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 6000)
	s := newTestScheduler(t, store, testConfig("motor_raw_data"))
	require.NoError(t, s.RunCycle(context.Background()))
	before := s.Stats()

	_, err := s.ManualTrim(context.Background(), "nonexistent", 100)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, s.Stats())
}

func TestManualTrim_InvalidArguments(t *testing.T) {
	s := newTestScheduler(t, logstore.NewMemoryStore(), testConfig("a"))

	_, err := s.ManualTrim(context.Background(), "", 100)
	assert.ErrorIs(t, err, ErrInvalidStream)

	_, err = s.ManualTrim(context.Background(), "a", 0)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestManualTrimWithOptions(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.NodeSize = 100
	store.SetLength("performance_metrics", 2550)
	s := newTestScheduler(t, store, testConfig("performance_metrics"))

	exact := false
	res, err := s.ManualTrimWithOptions(context.Background(), "performance_metrics", TrimOverride{Approximate: &exact})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.MaxLength)
	assert.Equal(t, int64(550), res.Removed)

	calls := store.TrimCalls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Approximate)

	// The override did not stick.
	assert.True(t, s.Config().ApproximateTrim)
}

func TestManualTrim_BackendFailureRecorded(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 500)
	store.FailStream("a", errors.New("READONLY"))
	s := newTestScheduler(t, store, testConfig("a"))

	_, err := s.ManualTrim(context.Background(), "a", 100)
	assert.ErrorIs(t, err, logstore.ErrBackendUnavailable)
	assert.Equal(t, int64(1), s.Stats().ErrorCount)
}

func TestResetStats(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("a", 20000)
	s := newTestScheduler(t, store, testConfig("a"))
	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, int64(1), s.Stats().TotalCycles)

	s.ResetStats()
	assert.Zero(t, s.Stats().TotalCycles)
	assert.Zero(t, s.Stats().TotalTrimmed)
}
