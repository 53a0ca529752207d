package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultwatch/faultwatch/internal/clusterhealth"
	"github.com/faultwatch/faultwatch/internal/config"
	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/maintenance"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend.Type = config.BackendMemory
	cfg.Registry.Type = config.RegistryStatic
	cfg.Health.ListenAddr = "127.0.0.1:0"
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.Observability.BacklogScanSeconds = 1
	cfg.Maintenance.Streams = []string{"motor_raw_data", "bearing_fault_stream"}
	cfg.Maintenance.IntervalSeconds = 3600
	cfg.Maintenance.ApproximateTrim = false
	return cfg
}

func startService(t *testing.T, cfg *config.Config, store logstore.Store) (*Service, string) {
	t.Helper()

	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceOptions{
		Config:     cfg,
		Logger:     logging.Nop(),
		Version:    "test",
		Registerer: reg,
		Gatherer:   reg,
		Store:      store,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, "http://" + svc.healthServer.Addr()
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServiceRequiresConfig(t *testing.T) {
	_, err := NewService(ServiceOptions{})
	require.Error(t, err)
}

func TestServiceStartAndShutdown(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 100)
	store.SetLength("bearing_fault_stream", 100)

	svc, base := startService(t, testConfig(), store)

	assert.Equal(t, maintenance.StateRunning, svc.scheduler.State())

	code, _ := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code, string(body))

	require.Error(t, svc.Start(context.Background()), "second start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, maintenance.StateStopped, svc.scheduler.State())

	// Idempotent.
	require.NoError(t, svc.Shutdown(ctx))
}

func TestServiceShutdownWithoutStart(t *testing.T) {
	svc, err := NewService(ServiceOptions{Config: testConfig(), Logger: logging.Nop()})
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceClusterSnapshot(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 4200)
	store.SetGroups("motor_raw_data", 3)
	store.SetLength("bearing_fault_stream", 10)

	_, base := startService(t, testConfig(), store)

	// Served requests feed the in-process gateway counters.
	get(t, base+"/healthz")

	code, body := get(t, base+"/debug/cluster")
	require.Equal(t, http.StatusOK, code, string(body))

	var snap clusterhealth.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))

	assert.Equal(t, 100, snap.HealthScore)
	assert.Equal(t, clusterhealth.LabelExcellent, snap.HealthLabel)
	assert.Empty(t, snap.WorkerNodes)
	assert.Equal(t, gateway.StatusOnline, snap.APIGateway.Status)
	assert.GreaterOrEqual(t, snap.LoadBalancer.TotalRequests, int64(1))

	require.Len(t, snap.Streams, 2)
	assert.Equal(t, "motor_raw_data", snap.Streams[0].Name)
	assert.Equal(t, int64(4200), snap.Streams[0].Length)
	assert.Equal(t, 3, snap.Streams[0].ConsumerGroups)
}

func TestServiceManualTrimEndpoint(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 8000)

	svc, base := startService(t, testConfig(), store)

	resp, err := http.Post(base+"/debug/maintenance/trim?stream=motor_raw_data&maxLength=100", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res maintenance.TrimResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, int64(7900), res.Removed)

	n, err := store.Length(context.Background(), "motor_raw_data")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	stats := svc.scheduler.Stats()
	assert.Equal(t, int64(7900), stats.TotalMessagesRemoved)
}

func TestServiceConfigUpdateEndpoint(t *testing.T) {
	svc, base := startService(t, testConfig(), logstore.NewMemoryStore())

	req, err := http.NewRequest(http.MethodPatch, base+"/debug/maintenance/config", strings.NewReader(`{"enabled":false}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, svc.scheduler.Config().Enabled)

	req, err = http.NewRequest(http.MethodPatch, base+"/debug/maintenance/config", strings.NewReader(`{"intervalSeconds":0}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceClusterStreamsFollowConfigUpdate(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("fault_alerts", 42)
	svc, base := startService(t, testConfig(), store)

	_, err := svc.scheduler.UpdateConfig(maintenance.ConfigUpdate{Streams: []string{"fault_alerts"}})
	require.NoError(t, err)

	code, body := get(t, base+"/debug/cluster")
	require.Equal(t, http.StatusOK, code, string(body))

	var snap clusterhealth.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Streams, 1)
	assert.Equal(t, "fault_alerts", snap.Streams[0].Name)
	assert.Equal(t, int64(42), snap.Streams[0].Length)
}

func TestServiceDebugDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Health.EnableDebug = false
	_, base := startService(t, cfg, logstore.NewMemoryStore())

	code, _ := get(t, base+"/debug/cluster")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServiceMetricsEndpoint(t *testing.T) {
	store := logstore.NewMemoryStore()
	store.SetLength("motor_raw_data", 1)
	svc, base := startService(t, testConfig(), store)

	get(t, base+"/debug/cluster")

	code, body := get(t, fmt.Sprintf("http://%s/metrics", svc.metricsServer.Addr()))
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "faultwatch_cluster_health_score")
	assert.Contains(t, string(body), "faultwatch_logstore_operations_total")
}

func TestServiceStartFailsOnBadBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.Type = "carrier-pigeon"

	svc, err := NewService(ServiceOptions{Config: cfg, Logger: logging.Nop(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.Error(t, svc.Start(context.Background()))

	// A failed start leaves the service restartable and shutdown a no-op.
	require.NoError(t, svc.Shutdown(context.Background()))
}
