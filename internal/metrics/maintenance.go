package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle result label values.
const (
	CycleComplete = "complete"
	CyclePartial  = "partial"
	CycleSkipped  = "skipped"
)

// DefaultCycleDurationBuckets cover cycles from a few milliseconds to
// several minutes of throttled trims.
var DefaultCycleDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600}

// MaintenanceMetrics holds stream maintenance metrics. It implements
// maintenance.MetricsRecorder.
type MaintenanceMetrics struct {
	// CyclesTotal counts cycles by result (complete, partial, skipped).
	CyclesTotal *prometheus.CounterVec

	CycleDuration prometheus.Histogram

	// TrimsTotal, MessagesRemovedTotal and ErrorsTotal are labelled by stream.
	TrimsTotal           *prometheus.CounterVec
	MessagesRemovedTotal *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec

	LastCycleTrims prometheus.Gauge
}

// NewMaintenanceMetrics creates maintenance metrics registered with the
// default registry.
func NewMaintenanceMetrics() *MaintenanceMetrics {
	return NewMaintenanceMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMaintenanceMetricsWithRegistry creates maintenance metrics registered
// with reg.
func NewMaintenanceMetricsWithRegistry(reg prometheus.Registerer) *MaintenanceMetrics {
	f := promauto.With(reg)
	m := &MaintenanceMetrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "cycles_total",
			Help:      "Maintenance cycles by result.",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of executed maintenance cycles in seconds.",
			Buckets:   DefaultCycleDurationBuckets,
		}),
		TrimsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "trims_total",
			Help:      "Successful stream trims by stream.",
		}, []string{"stream"}),
		MessagesRemovedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "messages_removed_total",
			Help:      "Estimated entries removed by trims, by stream.",
		}, []string{"stream"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "errors_total",
			Help:      "Stream-level maintenance failures by stream.",
		}, []string{"stream"}),
		LastCycleTrims: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "last_cycle_trims",
			Help:      "Trims performed by the most recent cycle.",
		}),
	}

	return m
}

// RecordCycle records an executed cycle.
func (m *MaintenanceMetrics) RecordCycle(d time.Duration, trims, failures int) {
	result := CycleComplete
	if failures > 0 {
		result = CyclePartial
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.LastCycleTrims.Set(float64(trims))
}

// RecordSkippedCycle records a tick skipped while maintenance is disabled.
func (m *MaintenanceMetrics) RecordSkippedCycle() {
	m.CyclesTotal.WithLabelValues(CycleSkipped).Inc()
}

// RecordTrim records a successful trim.
func (m *MaintenanceMetrics) RecordTrim(stream string, removed int64) {
	m.TrimsTotal.WithLabelValues(stream).Inc()
	if removed > 0 {
		m.MessagesRemovedTotal.WithLabelValues(stream).Add(float64(removed))
	}
}

// RecordError records a stream-level failure.
func (m *MaintenanceMetrics) RecordError(stream string) {
	m.ErrorsTotal.WithLabelValues(stream).Inc()
}
