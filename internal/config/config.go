// Package config provides configuration loading and validation for faultwatchd.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/faultwatch/faultwatch/internal/logstore/jetstream"
	"github.com/faultwatch/faultwatch/internal/logstore/kafka"
	"github.com/faultwatch/faultwatch/internal/logstore/redisstream"
	"github.com/faultwatch/faultwatch/internal/maintenance"
	"github.com/faultwatch/faultwatch/internal/perf"
)

// Backend types.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendKafka     = "kafka"
	BackendJetStream = "jetstream"
)

// Registry types.
const (
	// RegistryConsumers derives workers from the backend's consumer groups.
	RegistryConsumers = "consumers"
	// RegistryOxia reads worker self-reports from Oxia.
	RegistryOxia = "oxia"
	// RegistryCombined merges both.
	RegistryCombined = "combined"
	// RegistryStatic reports no workers; useful for local runs.
	RegistryStatic = "static"
)

// Performance source types.
const (
	PerformanceNone       = "none"
	PerformanceStatic     = "static"
	PerformancePrometheus = "prometheus"
)

// Config holds all configuration for faultwatchd.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Maintenance   maintenance.Config  `yaml:"maintenance"`
	Health        HealthConfig        `yaml:"health"`
	Registry      RegistryConfig      `yaml:"registry"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Performance   PerformanceConfig   `yaml:"performance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type BackendConfig struct {
	Type      string             `yaml:"type" env:"FAULTWATCH_BACKEND"`
	Redis     redisstream.Config `yaml:"redis"`
	Kafka     kafka.Config       `yaml:"kafka"`
	JetStream jetstream.Config   `yaml:"jetstream"`
}

type HealthConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"FAULTWATCH_HEALTH_ADDR"`

	// ExpectWorkers scores a cluster without workers 0 instead of 100.
	ExpectWorkers bool `yaml:"expectWorkers" env:"FAULTWATCH_EXPECT_WORKERS"`

	// Streams reported in the snapshot. Empty means the maintained streams.
	Streams []string `yaml:"streams"`

	ReadinessTimeoutMs int64 `yaml:"readinessTimeoutMs"`
	SnapshotTimeoutMs  int64 `yaml:"snapshotTimeoutMs"`

	// EnableDebug mounts the /debug/maintenance and /debug/cluster handlers.
	EnableDebug bool `yaml:"enableDebug" env:"FAULTWATCH_ENABLE_DEBUG"`
}

type RegistryConfig struct {
	Type      string `yaml:"type" env:"FAULTWATCH_REGISTRY"`
	ClusterID string `yaml:"clusterId" env:"FAULTWATCH_CLUSTER_ID"`

	// Consumers idle this long are reported as warning or error.
	WarnIdleSeconds  int64 `yaml:"warnIdleSeconds"`
	ErrorIdleSeconds int64 `yaml:"errorIdleSeconds"`

	// ReportKeyPrefix enables Redis worker self-report hashes.
	ReportKeyPrefix string            `yaml:"reportKeyPrefix"`
	GroupTypes      map[string]string `yaml:"groupTypes"`

	Oxia OxiaConfig `yaml:"oxia"`
}

type OxiaConfig struct {
	ServiceAddress   string `yaml:"serviceAddress" env:"FAULTWATCH_OXIA_ADDRESS"`
	Namespace        string `yaml:"namespace" env:"FAULTWATCH_OXIA_NAMESPACE"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs"`
	SessionTimeoutMs int64  `yaml:"sessionTimeoutMs"`
}

type GatewayConfig struct {
	// URL of a remote gateway's counters endpoint. Empty tracks the requests
	// served by faultwatchd itself.
	URL           string  `yaml:"url" env:"FAULTWATCH_GATEWAY_URL"`
	DegradedBelow float64 `yaml:"degradedBelow"`
}

type PerformanceConfig struct {
	Source     string           `yaml:"source" env:"FAULTWATCH_PERF_SOURCE"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Static     perf.Metrics     `yaml:"static"`
}

type PrometheusConfig struct {
	URL       string       `yaml:"url" env:"FAULTWATCH_PROMETHEUS_URL"`
	Username  string       `yaml:"username" env:"FAULTWATCH_PROMETHEUS_USERNAME"`
	Password  string       `yaml:"password" env:"FAULTWATCH_PROMETHEUS_PASSWORD"`
	TimeoutMs int64        `yaml:"timeoutMs"`
	Queries   perf.Queries `yaml:"queries"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"FAULTWATCH_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"FAULTWATCH_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"FAULTWATCH_LOG_FORMAT"`

	// LogFile enables rotated file output.
	LogFile       string `yaml:"logFile" env:"FAULTWATCH_LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"logMaxSizeMB"`
	LogMaxBackups int    `yaml:"logMaxBackups"`
	LogMaxAgeDays int    `yaml:"logMaxAgeDays"`
	LogCompress   bool   `yaml:"logCompress"`

	// BacklogScanSeconds is the stream gauge refresh interval. Zero disables it.
	BacklogScanSeconds int `yaml:"backlogScanSeconds"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Type: BackendRedis,
			Redis: redisstream.Config{
				Addr:         "localhost:6379",
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  5,
				ReadTimeout:  3,
				WriteTimeout: 3,
			},
			Kafka: kafka.Config{
				ClientID: "faultwatchd",
			},
		},
		Maintenance: maintenance.DefaultConfig(),
		Health: HealthConfig{
			ListenAddr:         ":8080",
			ReadinessTimeoutMs: 5000,
			SnapshotTimeoutMs:  10000,
			EnableDebug:        true,
		},
		Registry: RegistryConfig{
			Type:             RegistryConsumers,
			ClusterID:        "default",
			WarnIdleSeconds:  60,
			ErrorIdleSeconds: 300,
			ReportKeyPrefix:  "faultwatch:worker:",
			Oxia: OxiaConfig{
				ServiceAddress:   "localhost:6648",
				Namespace:        "faultwatch",
				RequestTimeoutMs: 5000,
				SessionTimeoutMs: 15000,
			},
		},
		Gateway: GatewayConfig{
			DegradedBelow: 0.95,
		},
		Performance: PerformanceConfig{
			Source: PerformanceNone,
			Prometheus: PrometheusConfig{
				TimeoutMs: 5000,
				Queries:   perf.DefaultQueries(),
			},
		},
		Observability: ObservabilityConfig{
			MetricsAddr:        ":9090",
			LogLevel:           "info",
			LogFormat:          "json",
			LogMaxSizeMB:       100,
			LogMaxBackups:      5,
			LogMaxAgeDays:      7,
			BacklogScanSeconds: 30,
		},
	}
}

// Load returns the defaults with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file over the defaults and then applies
// environment overrides. An empty path behaves like Load.
func LoadFromPath(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, nil)
}

// Parse decodes YAML over the defaults and applies overrides from environ,
// or from the process environment when environ is nil.
func Parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overwrites every field carrying an env tag whose variable is set
// in environ. A nil environ reads the process environment. Slices are
// comma-separated.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Maintenance.Validate(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	switch c.Backend.Type {
	case BackendMemory:
	case BackendRedis:
		if c.Backend.Redis.Addr == "" {
			return errors.New("backend.redis.addr is required")
		}
	case BackendKafka:
		if len(c.Backend.Kafka.Brokers) == 0 {
			return errors.New("backend.kafka.brokers is required")
		}
	case BackendJetStream:
		if c.Backend.JetStream.URL == "" {
			return errors.New("backend.jetstream.url is required")
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}

	switch c.Registry.Type {
	case RegistryStatic:
	case RegistryConsumers, RegistryCombined:
		if c.Backend.Type != BackendRedis && c.Backend.Type != BackendJetStream {
			return fmt.Errorf("registry type %q requires a redis or jetstream backend", c.Registry.Type)
		}
		if c.Registry.Type == RegistryCombined {
			if err := c.Registry.Oxia.validate(); err != nil {
				return err
			}
		}
	case RegistryOxia:
		if err := c.Registry.Oxia.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown registry type %q", c.Registry.Type)
	}
	if c.Registry.ErrorIdleSeconds > 0 && c.Registry.WarnIdleSeconds > c.Registry.ErrorIdleSeconds {
		return errors.New("registry.warnIdleSeconds must not exceed registry.errorIdleSeconds")
	}

	if c.Gateway.DegradedBelow < 0 || c.Gateway.DegradedBelow > 1 {
		return errors.New("gateway.degradedBelow must be between 0 and 1")
	}

	switch c.Performance.Source {
	case PerformanceNone, PerformanceStatic:
	case PerformancePrometheus:
		if c.Performance.Prometheus.URL == "" {
			return errors.New("performance.prometheus.url is required")
		}
	default:
		return fmt.Errorf("unknown performance source %q", c.Performance.Source)
	}

	if c.Health.ListenAddr == "" {
		return errors.New("health.listenAddr is required")
	}
	return nil
}

func (o OxiaConfig) validate() error {
	if o.ServiceAddress == "" {
		return errors.New("registry.oxia.serviceAddress is required")
	}
	if o.Namespace == "" {
		return errors.New("registry.oxia.namespace is required")
	}
	return nil
}

// ReportedStreams returns the streams shown in health snapshots.
func (c *Config) ReportedStreams() []string {
	if len(c.Health.Streams) > 0 {
		return append([]string(nil), c.Health.Streams...)
	}
	return append([]string(nil), c.Maintenance.Streams...)
}

// WarnIdle returns Registry.WarnIdleSeconds as a duration.
func (r RegistryConfig) WarnIdle() time.Duration {
	return time.Duration(r.WarnIdleSeconds) * time.Second
}

// ErrorIdle returns Registry.ErrorIdleSeconds as a duration.
func (r RegistryConfig) ErrorIdle() time.Duration {
	return time.Duration(r.ErrorIdleSeconds) * time.Second
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMs as a duration.
func (o OxiaConfig) RequestTimeout() time.Duration { return millis(o.RequestTimeoutMs) }

// SessionTimeout returns SessionTimeoutMs as a duration.
func (o OxiaConfig) SessionTimeout() time.Duration { return millis(o.SessionTimeoutMs) }

// ReadinessTimeout returns ReadinessTimeoutMs as a duration.
func (h HealthConfig) ReadinessTimeout() time.Duration { return millis(h.ReadinessTimeoutMs) }

// SnapshotTimeout returns SnapshotTimeoutMs as a duration.
func (h HealthConfig) SnapshotTimeout() time.Duration { return millis(h.SnapshotTimeoutMs) }

// Timeout returns TimeoutMs as a duration.
func (p PrometheusConfig) Timeout() time.Duration { return millis(p.TimeoutMs) }
