package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Backend.Type != BackendRedis {
		t.Errorf("expected default backend redis, got %s", cfg.Backend.Type)
	}
	if cfg.Health.ListenAddr != ":8080" {
		t.Errorf("expected default health addr :8080, got %s", cfg.Health.ListenAddr)
	}
	if cfg.Maintenance.IntervalSeconds != 300 {
		t.Errorf("expected default interval 300, got %d", cfg.Maintenance.IntervalSeconds)
	}
	if cfg.Maintenance.PerStreamLimits["motor_raw_data"] != 5000 {
		t.Errorf("expected motor_raw_data limit 5000, got %d", cfg.Maintenance.PerStreamLimits["motor_raw_data"])
	}
	if cfg.Registry.Oxia.ServiceAddress != "localhost:6648" {
		t.Errorf("expected default oxia address localhost:6648, got %s", cfg.Registry.Oxia.ServiceAddress)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
backend:
  type: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
maintenance:
  intervalSeconds: 60
  streams: [a, b]
  perStreamLimits:
    a: 100
registry:
  type: oxia
performance:
  source: static
  static:
    throughput: 12.5
    queueLength: 40
`)
	cfg, err := Parse(data, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, BackendKafka, cfg.Backend.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Backend.Kafka.Brokers)
	assert.Equal(t, "faultwatchd", cfg.Backend.Kafka.ClientID, "unset fields keep defaults")
	assert.Equal(t, 60, cfg.Maintenance.IntervalSeconds)
	assert.Equal(t, []string{"a", "b"}, cfg.Maintenance.Streams)
	assert.Equal(t, int64(100), cfg.Maintenance.PerStreamLimits["a"])
	assert.Equal(t, int64(10000), cfg.Maintenance.DefaultMaxLength)
	assert.Equal(t, 12.5, cfg.Performance.Static.Throughput)
	assert.Equal(t, int64(40), cfg.Performance.Static.QueueLength)
	assert.Equal(t, []string{"a", "b"}, cfg.ReportedStreams())
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("backend: [unclosed"), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, map[string]string{
		"FAULTWATCH_BACKEND":        "kafka",
		"FAULTWATCH_KAFKA_BROKERS":  "k1:9092,k2:9092",
		"FAULTWATCH_REDIS_DB":       "3",
		"FAULTWATCH_EXPECT_WORKERS": "true",
		"FAULTWATCH_LOG_LEVEL":      "debug",
		"FAULTWATCH_OXIA_ADDRESS":   "oxia:6648",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendKafka, cfg.Backend.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Backend.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Backend.Redis.DB)
	assert.True(t, cfg.Health.ExpectWorkers)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "oxia:6648", cfg.Registry.Oxia.ServiceAddress)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	err := ApplyEnv(Default(), map[string]string{"FAULTWATCH_REDIS_DB": "three"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment override")

	err = ApplyEnv(Default(), map[string]string{"FAULTWATCH_EXPECT_WORKERS": "maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ExpectWorkers")
}

func TestEnvWinsOverFile(t *testing.T) {
	cfg, err := Parse([]byte("observability:\n  logLevel: warn\n"), map[string]string{
		"FAULTWATCH_LOG_LEVEL": "error",
	})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Observability.LogLevel)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faultwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  type: memory\nregistry:\n  type: static\n"), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend.Type)

	_, err = LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad maintenance", func(c *Config) { c.Maintenance.IntervalSeconds = 0 }},
		{"unknown backend", func(c *Config) { c.Backend.Type = "sqs" }},
		{"redis without addr", func(c *Config) { c.Backend.Redis.Addr = "" }},
		{"kafka without brokers", func(c *Config) { c.Backend.Type = BackendKafka; c.Registry.Type = RegistryStatic }},
		{"jetstream without url", func(c *Config) { c.Backend.Type = BackendJetStream }},
		{"consumer registry on kafka", func(c *Config) {
			c.Backend.Type = BackendKafka
			c.Backend.Kafka.Brokers = []string{"k:9092"}
		}},
		{"consumer registry on memory", func(c *Config) { c.Backend.Type = BackendMemory }},
		{"oxia without namespace", func(c *Config) { c.Registry.Type = RegistryOxia; c.Registry.Oxia.Namespace = "" }},
		{"combined without oxia", func(c *Config) { c.Registry.Type = RegistryCombined; c.Registry.Oxia.ServiceAddress = "" }},
		{"unknown registry", func(c *Config) { c.Registry.Type = "zookeeper" }},
		{"warn after error", func(c *Config) { c.Registry.WarnIdleSeconds = 600 }},
		{"degraded threshold", func(c *Config) { c.Gateway.DegradedBelow = 1.5 }},
		{"prometheus without url", func(c *Config) { c.Performance.Source = PerformancePrometheus }},
		{"unknown perf source", func(c *Config) { c.Performance.Source = "graphite" }},
		{"no health addr", func(c *Config) { c.Health.ListenAddr = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestReportedStreamsPrefersHealthList(t *testing.T) {
	cfg := Default()
	cfg.Health.Streams = []string{"motor_raw_data"}
	assert.Equal(t, []string{"motor_raw_data"}, cfg.ReportedStreams())
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1m0s", cfg.Registry.WarnIdle().String())
	assert.Equal(t, "5m0s", cfg.Registry.ErrorIdle().String())
	assert.Equal(t, "15s", cfg.Registry.Oxia.SessionTimeout().String())
	assert.Equal(t, "5s", cfg.Health.ReadinessTimeout().String())
	assert.Equal(t, "5s", cfg.Performance.Prometheus.Timeout().String())
}
