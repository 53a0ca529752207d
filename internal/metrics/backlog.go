package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
)

// BacklogMetrics tracks stream sizes between maintenance cycles.
type BacklogMetrics struct {
	// StreamLength tracks entries held per stream.
	StreamLength *prometheus.GaugeVec

	// ConsumerGroups tracks consumer groups attached per stream.
	ConsumerGroups *prometheus.GaugeVec
}

// NewBacklogMetrics creates backlog metrics registered with the default
// registry.
func NewBacklogMetrics() *BacklogMetrics {
	return NewBacklogMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewBacklogMetricsWithRegistry creates backlog metrics registered with reg.
func NewBacklogMetricsWithRegistry(reg prometheus.Registerer) *BacklogMetrics {
	f := promauto.With(reg)
	m := &BacklogMetrics{
		StreamLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "length",
			Help:      "Entries currently held by the stream.",
		}, []string{"stream"}),
		ConsumerGroups: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "consumer_groups",
			Help:      "Consumer groups attached to the stream.",
		}, []string{"stream"}),
	}
	return m
}

// BacklogScanner periodically reads stream lengths and group counts into
// BacklogMetrics. Streams that no longer exist are dropped from the gauges.
type BacklogScanner struct {
	metrics  *BacklogMetrics
	store    logstore.Store
	streams  func() []string
	interval time.Duration
	logger   *logging.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBacklogScanner creates a scanner. streams is called before each scan
// so the set follows configuration updates.
func NewBacklogScanner(metrics *BacklogMetrics, store logstore.Store, streams func() []string, interval time.Duration, logger *logging.Logger) *BacklogScanner {
	if logger == nil {
		logger = logging.Global()
	}
	return &BacklogScanner{
		metrics:  metrics,
		store:    store,
		streams:  streams,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic scanning. The first scan runs immediately.
func (s *BacklogScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts scanning and waits for an in-flight scan.
func (s *BacklogScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BacklogScanner) loop() {
	defer s.wg.Done()

	s.ScanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ScanOnce()
		}
	}
}

// ScanOnce performs a single scan.
func (s *BacklogScanner) ScanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stream := range s.streams() {
		n, err := s.store.Length(ctx, stream)
		if err != nil {
			if errors.Is(err, logstore.ErrNotFound) {
				s.metrics.StreamLength.DeleteLabelValues(stream)
				s.metrics.ConsumerGroups.DeleteLabelValues(stream)
				continue
			}
			s.logger.Warnf("backlog scan failed", map[string]any{"stream": stream, "error": err.Error()})
			continue
		}
		s.metrics.StreamLength.WithLabelValues(stream).Set(float64(n))

		groups, err := s.store.ConsumerGroupCount(ctx, stream)
		if err != nil {
			s.logger.Warnf("backlog scan failed", map[string]any{"stream": stream, "error": err.Error()})
			continue
		}
		s.metrics.ConsumerGroups.WithLabelValues(stream).Set(float64(groups))
	}
}
