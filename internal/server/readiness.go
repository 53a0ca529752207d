package server

import (
	"context"
	"errors"

	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/metadata"
)

// healthCheckKey is read by MetadataStoreChecker. It never exists.
const healthCheckKey = "/faultwatch/v1/health-check"

// MetadataStoreChecker checks the worker report store with a Get.
type MetadataStoreChecker struct {
	store metadata.MetadataStore
}

// NewMetadataStoreChecker creates a MetadataStoreChecker.
func NewMetadataStoreChecker(store metadata.MetadataStore) *MetadataStoreChecker {
	return &MetadataStoreChecker{store: store}
}

// Name implements ReadinessChecker.
func (c *MetadataStoreChecker) Name() string {
	return "metadata_store"
}

// CheckReady implements ReadinessChecker.
func (c *MetadataStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, healthCheckKey)
	return err
}

// Pinger is implemented by log-store backends with a cheap connectivity
// check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LogStoreChecker checks the log store. Backends implementing Pinger are
// pinged; others are asked for the length of a probe stream, where
// ErrNotFound still proves the backend answered.
type LogStoreChecker struct {
	store logstore.Store
	probe string
}

// NewLogStoreChecker creates a LogStoreChecker. probe names the stream
// queried when store has no Ping.
func NewLogStoreChecker(store logstore.Store, probe string) *LogStoreChecker {
	return &LogStoreChecker{store: store, probe: probe}
}

// Name implements ReadinessChecker.
func (c *LogStoreChecker) Name() string {
	return "log_store"
}

// CheckReady implements ReadinessChecker.
func (c *LogStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("log store not configured")
	}

	store := c.store
	for {
		if p, ok := store.(Pinger); ok {
			return p.Ping(ctx)
		}
		u, ok := store.(interface{ Unwrap() logstore.Store })
		if !ok {
			break
		}
		store = u.Unwrap()
	}

	_, err := c.store.Length(ctx, c.probe)
	if err != nil && !errors.Is(err, logstore.ErrNotFound) {
		return err
	}
	return nil
}

// RunningChecker reports not ready while isRunning returns false.
type RunningChecker struct {
	name      string
	isRunning func() bool
}

// NewRunningChecker creates a RunningChecker. A nil isRunning is always
// ready.
func NewRunningChecker(name string, isRunning func() bool) *RunningChecker {
	return &RunningChecker{name: name, isRunning: isRunning}
}

// Name implements ReadinessChecker.
func (c *RunningChecker) Name() string {
	return c.name
}

// CheckReady implements ReadinessChecker.
func (c *RunningChecker) CheckReady(context.Context) error {
	if c.isRunning == nil || c.isRunning() {
		return nil
	}
	return errors.New(c.name + " is not running")
}

// FuncChecker wraps a function as a ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a FuncChecker.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Name implements ReadinessChecker.
func (c *FuncChecker) Name() string {
	return c.name
}

// CheckReady implements ReadinessChecker.
func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
