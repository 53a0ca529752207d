package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultwatch/faultwatch/internal/clusterhealth"
	"github.com/faultwatch/faultwatch/internal/config"
	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/maintenance"
	"github.com/faultwatch/faultwatch/internal/metrics"
	"github.com/faultwatch/faultwatch/internal/server"
)

// ServiceOptions contains the configuration for creating a service.
type ServiceOptions struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string

	// Registerer and Gatherer default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Store replaces the configured backend. Used by tests.
	Store logstore.Store
}

// Service runs the maintenance scheduler and serves cluster health.
type Service struct {
	opts   ServiceOptions
	logger *logging.Logger

	backend    *backend
	registry   *registry
	store      logstore.Store
	scheduler  *maintenance.Scheduler
	aggregator *clusterhealth.Aggregator
	tracker    *gateway.Tracker
	backlog    *metrics.BacklogScanner

	healthServer  *server.HealthServer
	metricsServer *metrics.Server

	mu      sync.Mutex
	started bool
}

// NewService creates a Service but does not start it.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Service{opts: opts, logger: opts.Logger}, nil
}

// build opens every collaborator without starting background work. On
// error everything opened so far is closed.
func (s *Service) build(ctx context.Context) (err error) {
	cfg := s.opts.Config
	reg := s.opts.Registerer

	defer func() {
		if err != nil {
			s.closeAll()
		}
	}()

	if s.opts.Store != nil {
		s.backend = &backend{store: s.opts.Store}
	} else {
		s.backend, err = openBackend(ctx, cfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open log store: %w", err)
		}
	}
	s.store = logstore.NewInstrumentedStore(s.backend.store, metrics.NewLogStoreMetricsWithRegistry(reg))

	s.registry, err = openRegistry(ctx, cfg, s.backend, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open worker registry: %w", err)
	}

	s.scheduler, err = maintenance.NewScheduler(s.store, cfg.Maintenance,
		maintenance.WithLogger(s.logger),
		maintenance.WithMetrics(metrics.NewMaintenanceMetricsWithRegistry(reg)),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	gw, tracker, err := openGateway(cfg)
	if err != nil {
		return fmt.Errorf("failed to open gateway source: %w", err)
	}
	s.tracker = tracker

	pf, err := openPerformance(cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open performance source: %w", err)
	}

	s.aggregator, err = clusterhealth.NewAggregator(s.store, s.registry, gw, pf, clusterhealth.Config{
		StreamsFunc:   s.reportedStreams,
		ExpectWorkers: cfg.Health.ExpectWorkers,
		Logger:        s.logger,
		Metrics:       metrics.NewHealthMetricsWithRegistry(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}

	if secs := cfg.Observability.BacklogScanSeconds; secs > 0 {
		s.backlog = metrics.NewBacklogScanner(
			metrics.NewBacklogMetricsWithRegistry(reg),
			s.store,
			func() []string { return s.scheduler.Config().Streams },
			time.Duration(secs)*time.Second,
			s.logger,
		)
	}
	return nil
}

// Start opens the collaborators, starts the scheduler and begins serving.
// It returns once everything is listening.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.start(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Service) start(ctx context.Context) error {
	cfg := s.opts.Config
	s.logger.Infof("starting faultwatchd", map[string]any{
		"version":    s.opts.Version,
		"backend":    cfg.Backend.Type,
		"registry":   cfg.Registry.Type,
		"healthAddr": cfg.Health.ListenAddr,
	})

	if err := s.build(ctx); err != nil {
		return err
	}

	s.healthServer = server.NewHealthServer(cfg.Health.ListenAddr, s.logger)
	if t := cfg.Health.ReadinessTimeout(); t > 0 {
		s.healthServer.SetReadinessTimeout(t)
	}
	if s.tracker != nil {
		s.healthServer.Use(s.tracker.Middleware)
	}

	probe := ""
	if streams := cfg.Maintenance.Streams; len(streams) > 0 {
		probe = streams[0]
	}
	s.healthServer.RegisterReadinessCheck(server.NewLogStoreChecker(s.store, probe))
	s.healthServer.RegisterReadinessCheck(server.NewRunningChecker("maintenance_scheduler", func() bool {
		return s.scheduler.State() == maintenance.StateRunning
	}))
	if s.registry.meta != nil {
		s.healthServer.RegisterReadinessCheck(server.NewMetadataStoreChecker(s.registry.meta))
	}

	if cfg.Health.EnableDebug {
		server.RegisterMaintenanceHandlers(s.healthServer, s.scheduler, s.logger)
		server.RegisterClusterHandler(s.healthServer, snapshotView{agg: s.aggregator, timeout: cfg.Health.SnapshotTimeout()})
	}

	if err := s.healthServer.Start(); err != nil {
		s.closeAll()
		return fmt.Errorf("failed to start health server: %w", err)
	}

	if cfg.Observability.MetricsAddr != "" {
		s.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, s.opts.Gatherer)
		s.metricsServer.SetLogger(s.logger)
		if err := s.metricsServer.Start(); err != nil {
			s.closeAll()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.scheduler.Start()
	if s.backlog != nil {
		s.backlog.Start()
	}

	s.logger.Infof("faultwatchd started", map[string]any{
		"healthAddr": s.healthServer.Addr(),
	})
	return nil
}

// Shutdown stops background work and closes every collaborator.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("shutting down faultwatchd")

	if s.healthServer != nil {
		s.healthServer.SetShuttingDown()
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if s.backlog != nil {
			s.backlog.Stop()
		}
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warnf("background work did not stop before deadline", map[string]any{
			"error": ctx.Err().Error(),
		})
	}

	s.closeAll()
	s.logger.Info("faultwatchd shutdown complete")
	return nil
}

func (s *Service) closeAll() {
	closeWith := func(name string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Warnf("error closing "+name, map[string]any{"error": err.Error()})
		}
	}
	if s.metricsServer != nil {
		closeWith("metrics server", s.metricsServer.Close)
		s.metricsServer = nil
	}
	if s.healthServer != nil {
		closeWith("health server", s.healthServer.Close)
	}
	if s.registry != nil {
		closeWith("metadata store", s.registry.Close)
		s.registry = nil
	}
	if s.backend != nil {
		closeWith("log store", s.backend.Close)
		s.backend = nil
	}
}

// reportedStreams follows scheduler config updates unless health.streams
// pins the list.
func (s *Service) reportedStreams() []string {
	if streams := s.opts.Config.Health.Streams; len(streams) > 0 {
		return streams
	}
	return s.scheduler.Config().Streams
}

// snapshotView bounds each cluster snapshot by the configured timeout.
type snapshotView struct {
	agg     *clusterhealth.Aggregator
	timeout time.Duration
}

func (v snapshotView) Snapshot(ctx context.Context) (clusterhealth.Snapshot, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	return v.agg.Snapshot(ctx)
}
