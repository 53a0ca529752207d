package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if got := Level(99).String(); got != "unknown" {
		t.Errorf("Level(99).String() = %q, want unknown", got)
	}
	if got := LevelWarn.String(); got != "warn" {
		t.Errorf("LevelWarn.String() = %q, want warn", got)
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText {
		t.Error("expected text format")
	}
	if ParseFormat("bogus") != FormatJSON {
		t.Error("expected JSON as default format")
	}
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	l.Infof("stream trimmed", map[string]any{"stream": "motor_raw_data", "removed": 1000})

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Message != "stream trimmed" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Level != "info" {
		t.Errorf("level = %q, want info", e.Level)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if e.Fields["stream"] != "motor_raw_data" {
		t.Errorf("stream field = %v", e.Fields["stream"])
	}
	if e.Fields["removed"] != float64(1000) {
		t.Errorf("removed field = %v", e.Fields["removed"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	l.Error("kept")

	if n := len(decodeEntries(t, &buf)); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	buf.Reset()
	l.SetLevel(LevelDebug)
	if l.GetLevel() != LevelDebug {
		t.Fatalf("GetLevel() = %v, want debug", l.GetLevel())
	}
	l.Debug("now kept")
	if n := len(decodeEntries(t, &buf)); n != 1 {
		t.Fatalf("expected 1 entry after SetLevel, got %d", n)
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Output: &buf})
	child := parent.With(map[string]any{"component": "scheduler"})

	parent.Info("parent")
	child.Info("child")

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if _, ok := entries[0].Fields["component"]; ok {
		t.Error("parent logger should not carry child fields")
	}
	if entries[1].Fields["component"] != "scheduler" {
		t.Errorf("child component = %v", entries[1].Fields["component"])
	}
}

func TestLoggerCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf}).WithCorrelationID("cycle-42")

	l.Warnf("stream unavailable", map[string]any{"stream": "x"})

	entries := decodeEntries(t, &buf)
	if entries[0].CorrelationID != "cycle-42" {
		t.Errorf("correlationId = %q, want cycle-42", entries[0].CorrelationID)
	}
}

func TestLoggerCallerInDebugMode(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, AddCaller: true})

	l.Debug("with caller")

	entries := decodeEntries(t, &buf)
	if !strings.Contains(entries[0].File, "logger_test.go") {
		t.Errorf("file = %q, want logger_test.go caller", entries[0].File)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: FormatText, Output: &buf})

	l.Infof("cycle complete", map[string]any{"trims": 2})

	out := buf.String()
	if !strings.Contains(out, "cycle complete") {
		t.Errorf("text output missing message: %q", out)
	}
	if !strings.Contains(out, "info") {
		t.Errorf("text output missing level: %q", out)
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faultwatch.log")
	l := New(Config{FilePath: path, MaxSizeMB: 1})

	l.Info("written to file")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing message: %q", data)
	}
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	l.Error("nothing happens")
	l.With(map[string]any{"a": 1}).Info("still nothing")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Output: &buf})

	ctx := WithCorrelationIDCtx(context.Background(), "abc")
	ContextLogger(ctx, base).Info("tagged")

	entries := decodeEntries(t, &buf)
	if entries[0].CorrelationID != "abc" {
		t.Errorf("correlationId = %q, want abc", entries[0].CorrelationID)
	}

	attached := New(Config{Output: &buf})
	ctx = WithLoggerCtx(ctx, attached)
	if LoggerFromCtx(ctx) != attached {
		t.Error("LoggerFromCtx should return the attached logger")
	}
	if CorrelationIDFromCtx(context.Background()) != "" {
		t.Error("expected empty correlation ID")
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	l := Configure("debug", "json", FileOptions{})
	if Global() != l {
		t.Fatal("Configure should install the global logger")
	}
	if l.GetLevel() != LevelDebug {
		t.Errorf("level = %v, want debug", l.GetLevel())
	}
	if ContextLogger(context.Background(), nil) == nil {
		t.Error("ContextLogger should fall back to the global logger")
	}
}
