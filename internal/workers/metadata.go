package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/metadata"
)

// Report is the self-report a worker publishes under its ephemeral key.
type Report struct {
	WorkerSnapshot

	// ReportedAt is the Unix time in milliseconds of the report.
	ReportedAt int64 `json:"reportedAt"`
}

// WorkersPrefix returns the key prefix under which workers of cluster report.
func WorkersPrefix(clusterID string) string {
	return "/faultwatch/v1/cluster/" + clusterID + "/workers/"
}

// WorkerKeyPath returns the report key for one worker.
func WorkerKeyPath(clusterID, workerID string) string {
	return WorkersPrefix(clusterID) + workerID
}

// MetadataRegistryConfig configures a MetadataRegistry.
type MetadataRegistryConfig struct {
	ClusterID string

	// Reports older than WarnAfter are downgraded to warning, older than
	// ErrorAfter to error. Zero disables the check.
	WarnAfter  time.Duration
	ErrorAfter time.Duration

	Logger *logging.Logger
}

// MetadataRegistry lists worker self-reports stored in a MetadataStore.
// Reports live under ephemeral keys, so crashed workers vanish once their
// session expires.
type MetadataRegistry struct {
	store  metadata.MetadataStore
	config MetadataRegistryConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewMetadataRegistry creates a registry reading from store.
func NewMetadataRegistry(store metadata.MetadataStore, config MetadataRegistryConfig) *MetadataRegistry {
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &MetadataRegistry{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// ListWorkers implements Registry. Undecodable reports are logged and
// skipped.
func (r *MetadataRegistry) ListWorkers(ctx context.Context) ([]WorkerSnapshot, error) {
	kvs, err := r.store.List(ctx, WorkersPrefix(r.config.ClusterID), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	now := r.now()
	out := make([]WorkerSnapshot, 0, len(kvs))
	for _, kv := range kvs {
		var rep Report
		if err := json.Unmarshal(kv.Value, &rep); err != nil {
			r.logger.Warnf("failed to unmarshal worker report", map[string]any{
				"key":   kv.Key,
				"error": err.Error(),
			})
			continue
		}

		w := rep.WorkerSnapshot.Normalize()
		if rep.ReportedAt > 0 {
			age := now.Sub(time.UnixMilli(rep.ReportedAt))
			if age < 0 {
				age = 0
			}
			w.Status = Worse(w.Status, StatusFromIdle(age, r.config.WarnAfter, r.config.ErrorAfter))
		}
		out = append(out, w)
	}

	SortSnapshots(out)
	return out, nil
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	ClusterID string

	// WorkerID identifies the worker. A random ID is generated when empty.
	WorkerID string

	// Interval between reports. Default: 10 seconds.
	Interval time.Duration

	Logger *logging.Logger
}

// Reporter publishes a worker's self-report on an ephemeral key at a fixed
// interval. It is run by fault-detection workers and by tests.
type Reporter struct {
	store    metadata.MetadataStore
	config   ReporterConfig
	logger   *logging.Logger
	snapshot func() WorkerSnapshot
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	registered bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewReporter creates a reporter. snapshot is called for every report; its
// ID field is overwritten with the configured worker ID.
func NewReporter(store metadata.MetadataStore, config ReporterConfig, snapshot func() WorkerSnapshot) *Reporter {
	if config.WorkerID == "" {
		config.WorkerID = uuid.NewString()
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Reporter{
		store:    store,
		config:   config,
		logger:   logger,
		snapshot: snapshot,
		now:      time.Now,
	}
}

// WorkerID returns the ID the reporter publishes under.
func (r *Reporter) WorkerID() string {
	return r.config.WorkerID
}

// Report publishes one report.
func (r *Reporter) Report(ctx context.Context) error {
	w := r.snapshot()
	w.ID = r.config.WorkerID

	data, err := json.Marshal(Report{WorkerSnapshot: w, ReportedAt: r.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal worker report: %w", err)
	}

	key := WorkerKeyPath(r.config.ClusterID, r.config.WorkerID)
	if _, err := r.store.PutEphemeral(ctx, key, data); err != nil {
		return fmt.Errorf("failed to publish worker report: %w", err)
	}

	r.mu.Lock()
	first := !r.registered
	r.registered = true
	r.mu.Unlock()

	if first {
		r.logger.Infof("worker registered", map[string]any{
			"workerId": r.config.WorkerID,
			"type":     w.Type,
			"stream":   w.StreamName,
			"group":    w.GroupName,
			"key":      key,
		})
	}
	return nil
}

// Start publishes an initial report and then reports every Interval until
// Stop. The initial report error is returned; later errors are logged.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.Report(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(r.stopCh, r.doneCh)
	return nil
}

func (r *Reporter) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.Interval)
			if err := r.Report(ctx); err != nil {
				r.logger.Warnf("worker report failed", map[string]any{
					"workerId": r.config.WorkerID,
					"error":    err.Error(),
				})
			}
			cancel()
		}
	}
}

// Stop halts reporting and removes the report. Removal is optional since
// the ephemeral key disappears with the session anyway.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		close(r.stopCh)
		done := r.doneCh
		r.running = false
		r.mu.Unlock()
		<-done
		r.mu.Lock()
	}
	registered := r.registered
	r.registered = false
	r.mu.Unlock()

	if !registered {
		return nil
	}

	key := WorkerKeyPath(r.config.ClusterID, r.config.WorkerID)
	if err := r.store.Delete(ctx, key); err != nil && !errors.Is(err, metadata.ErrStoreClosed) {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}
	r.logger.Infof("worker deregistered", map[string]any{
		"workerId": r.config.WorkerID,
		"key":      key,
	})
	return nil
}
