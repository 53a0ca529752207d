package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/faultwatch/faultwatch/internal/config"
	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/logstore/jetstream"
	"github.com/faultwatch/faultwatch/internal/logstore/kafka"
	"github.com/faultwatch/faultwatch/internal/logstore/redisstream"
	"github.com/faultwatch/faultwatch/internal/metadata"
	"github.com/faultwatch/faultwatch/internal/metadata/oxia"
	"github.com/faultwatch/faultwatch/internal/perf"
	"github.com/faultwatch/faultwatch/internal/workers"
)

// backend is an opened log store. Redis and JetStream backends also expose
// their clients for the consumer-derived worker registry.
type backend struct {
	store     logstore.Store
	redis     *redisstream.Store
	jetstream *jetstream.Store
	closer    func() error
}

func (b *backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*backend, error) {
	switch cfg.Backend.Type {
	case config.BackendMemory:
		logger.Warn("using in-memory log store; nothing is persisted")
		return &backend{store: logstore.NewMemoryStore()}, nil

	case config.BackendRedis:
		s, err := redisstream.New(ctx, cfg.Backend.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, redis: s, closer: s.Close}, nil

	case config.BackendKafka:
		s, err := kafka.New(cfg.Backend.Kafka)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, closer: s.Close}, nil

	case config.BackendJetStream:
		s, err := jetstream.Connect(cfg.Backend.JetStream, logger)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, jetstream: s, closer: s.Close}, nil
	}
	return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
}

func openMetadataStore(ctx context.Context, cfg config.OxiaConfig) (metadata.MetadataStore, error) {
	s, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.ServiceAddress,
		Namespace:      cfg.Namespace,
		RequestTimeout: cfg.RequestTimeout(),
		SessionTimeout: cfg.SessionTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// registry is a worker registry plus the metadata store backing it, if any.
type registry struct {
	workers.Registry
	meta metadata.MetadataStore
}

func (r *registry) Close() error {
	if r == nil || r.meta == nil {
		return nil
	}
	return r.meta.Close()
}

func consumerRegistry(cfg *config.Config, b *backend) (workers.Registry, error) {
	streams := cfg.ReportedStreams()
	switch {
	case b.redis != nil:
		return redisstream.NewWorkerRegistry(b.redis.Client(), redisstream.RegistryConfig{
			Streams:         streams,
			WarnIdle:        cfg.Registry.WarnIdle(),
			ErrorIdle:       cfg.Registry.ErrorIdle(),
			ReportKeyPrefix: cfg.Registry.ReportKeyPrefix,
			GroupTypes:      cfg.Registry.GroupTypes,
		}), nil
	case b.jetstream != nil:
		return jetstream.NewWorkerRegistry(b.jetstream.JetStream(), jetstream.RegistryConfig{
			Streams:   streams,
			WarnIdle:  cfg.Registry.WarnIdle(),
			ErrorIdle: cfg.Registry.ErrorIdle(),
		}), nil
	}
	return nil, errors.New("consumer registry needs a redis or jetstream backend")
}

func openRegistry(ctx context.Context, cfg *config.Config, b *backend, logger *logging.Logger) (*registry, error) {
	oxiaRegistry := func() (*registry, error) {
		meta, err := openMetadataStore(ctx, cfg.Registry.Oxia)
		if err != nil {
			return nil, err
		}
		return &registry{
			Registry: workers.NewMetadataRegistry(meta, workers.MetadataRegistryConfig{
				ClusterID:  cfg.Registry.ClusterID,
				WarnAfter:  cfg.Registry.WarnIdle(),
				ErrorAfter: cfg.Registry.ErrorIdle(),
				Logger:     logger,
			}),
			meta: meta,
		}, nil
	}

	switch cfg.Registry.Type {
	case config.RegistryStatic:
		return &registry{Registry: workers.NewStaticRegistry()}, nil
	case config.RegistryConsumers:
		r, err := consumerRegistry(cfg, b)
		if err != nil {
			return nil, err
		}
		return &registry{Registry: r}, nil
	case config.RegistryOxia:
		return oxiaRegistry()
	case config.RegistryCombined:
		consumers, err := consumerRegistry(cfg, b)
		if err != nil {
			return nil, err
		}
		reports, err := oxiaRegistry()
		if err != nil {
			return nil, err
		}
		return &registry{
			Registry: workers.NewMultiRegistry(consumers, reports.Registry),
			meta:     reports.meta,
		}, nil
	}
	return nil, fmt.Errorf("unknown registry type %q", cfg.Registry.Type)
}

func openPerformance(cfg *config.Config, logger *logging.Logger) (perf.Source, error) {
	switch cfg.Performance.Source {
	case config.PerformanceNone, "":
		return nil, nil
	case config.PerformanceStatic:
		return perf.StaticSource{Metrics: cfg.Performance.Static}, nil
	case config.PerformancePrometheus:
		p := cfg.Performance.Prometheus
		src, err := perf.NewPrometheusSource(perf.PrometheusConfig{
			URL:      p.URL,
			Username: p.Username,
			Password: p.Password,
			Queries:  p.Queries,
			Timeout:  p.Timeout(),
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown performance source %q", cfg.Performance.Source)
}

// openGateway returns the remote counters source when a URL is configured.
// Otherwise it returns a tracker for the requests faultwatchd serves.
func openGateway(cfg *config.Config) (gateway.Source, *gateway.Tracker, error) {
	if cfg.Gateway.URL != "" {
		src, err := gateway.NewHTTPSource(cfg.Gateway.URL, nil)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}
	t := gateway.NewTracker(cfg.Gateway.DegradedBelow)
	return t, t, nil
}
