package maintenance

import (
	"sync"
	"time"
)

// DefaultRecentErrorCapacity is the size of the recent-error ring buffer.
const DefaultRecentErrorCapacity = 50

// ErrorRecord is one entry of the recent-error log.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Message   string    `json:"message"`
}

// StreamStats holds per-stream trim history.
type StreamStats struct {
	TrimCount       int64      `json:"trimCount"`
	MessagesRemoved int64      `json:"messagesRemoved"`
	LastTrimmedTime *time.Time `json:"lastTrimmedTime,omitempty"`
}

// Stats is a point-in-time copy of the maintenance counters.
type Stats struct {
	TotalCycles          int64                  `json:"totalCycles"`
	TotalTrimmed         int64                  `json:"totalTrimmed"`
	TotalMessagesRemoved int64                  `json:"totalMessagesRemoved"`
	LastMaintenanceTime  *time.Time             `json:"lastMaintenanceTime,omitempty"`
	ErrorCount           int64                  `json:"errorCount"`
	RecentErrors         []ErrorRecord          `json:"recentErrors"`
	Streams              map[string]StreamStats `json:"streams"`

	// LastCycle* describe the most recently completed cycle.
	LastCycleDuration time.Duration `json:"lastCycleDuration"`
	LastCycleTrims    int           `json:"lastCycleTrims"`
	LastCycleErrors   int           `json:"lastCycleErrors"`
}

// StatsCollector records cycle, trim and error history. All methods are
// safe for concurrent use; one mutex guards all counters and is never held
// across backend calls.
type StatsCollector struct {
	mu  sync.Mutex
	now func() time.Time

	totalCycles          int64
	totalTrimmed         int64
	totalMessagesRemoved int64
	lastMaintenanceTime  *time.Time
	errorCount           int64
	streams              map[string]*StreamStats

	// recent is a ring buffer; head is the index of the oldest entry.
	recent []ErrorRecord
	head   int
	size   int

	cycleStart  time.Time
	cycleTrims  int
	cycleErrors int
	inCycle     bool

	lastCycleDuration time.Duration
	lastCycleTrims    int
	lastCycleErrors   int
}

// NewStatsCollector creates a collector holding up to capacity recent
// errors. A non-positive capacity selects DefaultRecentErrorCapacity.
func NewStatsCollector(capacity int) *StatsCollector {
	if capacity <= 0 {
		capacity = DefaultRecentErrorCapacity
	}
	return &StatsCollector{
		now:     time.Now,
		streams: make(map[string]*StreamStats),
		recent:  make([]ErrorRecord, capacity),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *StatsCollector) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// RecordCycleStart marks the beginning of a cycle.
func (c *StatsCollector) RecordCycleStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleStart = c.now()
	c.cycleTrims = 0
	c.cycleErrors = 0
	c.inCycle = true
}

// RecordTrim records a successful trim of stream that removed entries.
func (c *StatsCollector) RecordTrim(stream string, removed int64) {
	if removed < 0 {
		removed = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s, ok := c.streams[stream]
	if !ok {
		s = &StreamStats{}
		c.streams[stream] = s
	}
	s.TrimCount++
	s.MessagesRemoved += removed
	s.LastTrimmedTime = &now

	c.totalTrimmed++
	c.totalMessagesRemoved += removed
	if c.inCycle {
		c.cycleTrims++
	}
}

// RecordError appends to the recent-error ring, evicting the oldest entry
// at capacity. ErrorCount is incremented even when an entry is evicted.
func (c *StatsCollector) RecordError(stream, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := ErrorRecord{Timestamp: c.now(), Stream: stream, Message: message}
	capacity := len(c.recent)
	if c.size < capacity {
		c.recent[(c.head+c.size)%capacity] = rec
		c.size++
	} else {
		c.recent[c.head] = rec
		c.head = (c.head + 1) % capacity
	}

	c.errorCount++
	if c.inCycle {
		c.cycleErrors++
	}
}

// RecordCycleEnd marks the end of a cycle and bumps TotalCycles.
func (c *StatsCollector) RecordCycleEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.totalCycles++
	c.lastMaintenanceTime = &now
	if c.inCycle {
		c.lastCycleDuration = now.Sub(c.cycleStart)
	}
	c.lastCycleTrims = c.cycleTrims
	c.lastCycleErrors = c.cycleErrors
	c.inCycle = false
}

// Snapshot returns a deep copy of the counters.
func (c *StatsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Stats{
		TotalCycles:          c.totalCycles,
		TotalTrimmed:         c.totalTrimmed,
		TotalMessagesRemoved: c.totalMessagesRemoved,
		ErrorCount:           c.errorCount,
		RecentErrors:         make([]ErrorRecord, 0, c.size),
		Streams:              make(map[string]StreamStats, len(c.streams)),
		LastCycleDuration:    c.lastCycleDuration,
		LastCycleTrims:       c.lastCycleTrims,
		LastCycleErrors:      c.lastCycleErrors,
	}
	if c.lastMaintenanceTime != nil {
		t := *c.lastMaintenanceTime
		out.LastMaintenanceTime = &t
	}
	for i := 0; i < c.size; i++ {
		out.RecentErrors = append(out.RecentErrors, c.recent[(c.head+i)%len(c.recent)])
	}
	for name, s := range c.streams {
		cp := *s
		if s.LastTrimmedTime != nil {
			t := *s.LastTrimmedTime
			cp.LastTrimmedTime = &t
		}
		out.Streams[name] = cp
	}
	return out
}

// ResetAll clears every counter. Only explicit operator action calls this.
func (c *StatsCollector) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCycles = 0
	c.totalTrimmed = 0
	c.totalMessagesRemoved = 0
	c.lastMaintenanceTime = nil
	c.errorCount = 0
	c.streams = make(map[string]*StreamStats)
	c.recent = make([]ErrorRecord, len(c.recent))
	c.head = 0
	c.size = 0
	c.cycleTrims = 0
	c.cycleErrors = 0
	c.inCycle = false
	c.lastCycleDuration = 0
	c.lastCycleTrims = 0
	c.lastCycleErrors = 0
}
