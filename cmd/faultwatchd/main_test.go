package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultwatch/faultwatch/internal/clusterhealth"
	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/maintenance"
)

const memoryConfig = `
backend:
  type: memory
registry:
  type: static
maintenance:
  streams: [motor_raw_data, performance_metrics]
observability:
  logLevel: error
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faultwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := logging.Global()
	t.Cleanup(func() { logging.SetGlobal(prev) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "faultwatchd version dev"), out)
}

func TestTrimArgs(t *testing.T) {
	path := writeConfig(t, memoryConfig)

	_, err := execute(t, "--config", path, "trim")
	require.Error(t, err)

	_, err = execute(t, "--config", path, "trim", "--all", "motor_raw_data")
	require.Error(t, err)
}

func TestTrimUnknownStream(t *testing.T) {
	path := writeConfig(t, memoryConfig)

	_, err := execute(t, "--config", path, "trim", "motor_raw_data", "--max-length", "10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, maintenance.ErrNotFound), "got %v", err)
}

func TestTrimAllReportsStats(t *testing.T) {
	path := writeConfig(t, memoryConfig)

	// The in-memory store starts empty, so every stream fails its length query.
	out, err := execute(t, "--config", path, "trim", "--all")
	require.Error(t, err)
	assert.True(t, errors.Is(err, maintenance.ErrPartialCycle), "got %v", err)

	var stats maintenance.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(2), stats.ErrorCount)
}

func TestSnapshotCommand(t *testing.T) {
	path := writeConfig(t, memoryConfig)

	out, err := execute(t, "--config", path, "snapshot")
	require.NoError(t, err)

	var snap clusterhealth.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, 100, snap.HealthScore)
	assert.Equal(t, gateway.StatusUnknown, snap.APIGateway.Status)
	require.Len(t, snap.Streams, 2)
	assert.NotEmpty(t, snap.Streams[0].Error)
}

func TestBadConfigFails(t *testing.T) {
	path := writeConfig(t, "backend:\n  type: carrier-pigeon\n")

	_, err := execute(t, "--config", path, "snapshot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
