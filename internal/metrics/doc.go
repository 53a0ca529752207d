// Package metrics provides Prometheus metrics for faultwatch.
//
// It exposes:
//   - maintenance cycle, trim and error counters and the cycle duration histogram
//   - log-store operation latency broken down by operation and status
//   - stream length and consumer group gauges, refreshed by a backlog scanner
//   - the cluster health score and worker counts by status
//
// Every constructor has a WithRegistry variant so tests can use a private
// registry. Metrics are served by Server on /metrics.
//
// Usage:
//
//	m := metrics.NewMaintenanceMetrics()
//	sched, _ := maintenance.NewScheduler(store, cfg, maintenance.WithMetrics(m))
//
//	srv := metrics.NewServer(":9090")
//	srv.Start()
package metrics

// Namespace prefixes every faultwatch metric.
const Namespace = "faultwatch"

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
