package logging

import (
	"sync"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = DefaultLogger()
}

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Configure builds a logger from level and format names, installs it as the
// global logger and returns it. Caller info is enabled at debug level.
func Configure(level, format string, file FileOptions) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:      lvl,
		Format:     ParseFormat(format),
		AddCaller:  lvl == LevelDebug,
		CallerSkip: 0,
		FilePath:   file.Path,
		MaxSizeMB:  file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAgeDays: file.MaxAgeDays,
		Compress:   file.Compress,
	})
	SetGlobal(l)
	return l
}

// FileOptions selects rotated file output. A zero value logs to stderr.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Infof logs an info message with fields to the global logger.
func Infof(msg string, fields map[string]any) {
	Global().Infof(msg, fields)
}

// Warnf logs a warning message with fields to the global logger.
func Warnf(msg string, fields map[string]any) {
	Global().Warnf(msg, fields)
}

// Errorf logs an error message with fields to the global logger.
func Errorf(msg string, fields map[string]any) {
	Global().Errorf(msg, fields)
}
