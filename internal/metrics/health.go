package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds cluster health metrics. It implements
// clusterhealth.ScoreRecorder.
type HealthMetrics struct {
	Score prometheus.Gauge

	// Workers counts workers by status (healthy, faulty, other).
	Workers *prometheus.GaugeVec
}

// NewHealthMetrics creates health metrics registered with the default
// registry.
func NewHealthMetrics() *HealthMetrics {
	return NewHealthMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewHealthMetricsWithRegistry creates health metrics registered with reg.
func NewHealthMetricsWithRegistry(reg prometheus.Registerer) *HealthMetrics {
	f := promauto.With(reg)
	m := &HealthMetrics{
		Score: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cluster",
			Name:      "health_score",
			Help:      "Most recently computed cluster health score (0-100).",
		}),
		Workers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cluster",
			Name:      "workers",
			Help:      "Workers in the most recent snapshot by status.",
		}, []string{"status"}),
	}
	return m
}

// RecordHealthScore records a computed snapshot.
func (m *HealthMetrics) RecordHealthScore(score, healthy, faulty, total int) {
	m.Score.Set(float64(score))
	m.Workers.WithLabelValues("healthy").Set(float64(healthy))
	m.Workers.WithLabelValues("faulty").Set(float64(faulty))
	m.Workers.WithLabelValues("other").Set(float64(total - healthy - faulty))
}
