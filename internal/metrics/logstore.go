package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Log-store operation label values.
const (
	OpLength = "length"
	OpGroups = "groups"
	OpTrim   = "trim"
)

// DefaultLogStoreLatencyBuckets suit backend round trips, from sub-millisecond
// Redis calls to slow Kafka DeleteRecords.
var DefaultLogStoreLatencyBuckets = []float64{
	0.0005, // 500us
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
}

// LogStoreMetrics holds log-store operation metrics. It implements
// logstore.MetricsRecorder.
type LogStoreMetrics struct {
	// LatencyHistogram tracks operation latencies.
	// Labels: operation (length, groups, trim), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	OperationsTotal *prometheus.CounterVec

	// TrimmedTotal counts entries the backend reported as removed.
	TrimmedTotal prometheus.Counter
}

// NewLogStoreMetrics creates log-store metrics registered with the default
// registry.
func NewLogStoreMetrics() *LogStoreMetrics {
	return NewLogStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewLogStoreMetricsWithRegistry creates log-store metrics registered with
// reg.
func NewLogStoreMetricsWithRegistry(reg prometheus.Registerer) *LogStoreMetrics {
	f := promauto.With(reg)
	m := &LogStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "logstore",
			Name:      "operation_latency_seconds",
			Help:      "Log-store operation latency in seconds, broken down by operation and status.",
			Buckets:   DefaultLogStoreLatencyBuckets,
		}, []string{"operation", "status"}),
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "logstore",
			Name:      "operations_total",
			Help:      "Total log-store operations, broken down by operation and status.",
		}, []string{"operation", "status"}),
		TrimmedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "logstore",
			Name:      "trimmed_entries_total",
			Help:      "Entries removed by trim operations as reported by the backend.",
		}),
	}
	return m
}

// RecordOperation records the latency and outcome of one operation.
func (m *LogStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordLength records a Length call.
func (m *LogStoreMetrics) RecordLength(durationSeconds float64, success bool) {
	m.RecordOperation(OpLength, durationSeconds, success)
}

// RecordGroups records a ConsumerGroupCount call.
func (m *LogStoreMetrics) RecordGroups(durationSeconds float64, success bool) {
	m.RecordOperation(OpGroups, durationSeconds, success)
}

// RecordTrim records a Trim call.
func (m *LogStoreMetrics) RecordTrim(durationSeconds float64, success bool, removed int64) {
	m.RecordOperation(OpTrim, durationSeconds, success)
	if success && removed > 0 {
		m.TrimmedTotal.Add(float64(removed))
	}
}
