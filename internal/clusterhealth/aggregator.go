// Package clusterhealth composes the cluster health snapshot served to
// operators: worker health and score, stream state, gateway counters and
// pipeline performance.
//
// The aggregator only reads. Each call to Snapshot queries its
// collaborators afresh and returns a new value.
package clusterhealth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
	"github.com/faultwatch/faultwatch/internal/perf"
	"github.com/faultwatch/faultwatch/internal/workers"
)

// Health labels by score.
const (
	LabelExcellent      = "excellent"
	LabelGood           = "good"
	LabelNeedsAttention = "needs attention"
)

// PerformanceMetrics mirrors perf.Metrics in the snapshot.
type PerformanceMetrics = perf.Metrics

// ServiceRegistry counts workers by health.
type ServiceRegistry struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Faulty  int `json:"faulty"`
}

// LoadBalancer holds the request side of the gateway counters.
type LoadBalancer struct {
	TotalRequests   int64   `json:"totalRequests"`
	SuccessRate     float64 `json:"successRate"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// APIGateway holds the gateway's own state.
type APIGateway struct {
	Status            string `json:"status"`
	APICalls          int64  `json:"apiCalls"`
	ActiveConnections int64  `json:"activeConnections"`
}

// StreamStatus is the debug view of one stream.
type StreamStatus struct {
	Name           string `json:"name"`
	Length         int64  `json:"length"`
	ConsumerGroups int    `json:"consumerGroups"`
	Error          string `json:"error,omitempty"`
}

// Snapshot is the composed cluster health view.
type Snapshot struct {
	HealthScore        int                      `json:"healthScore"`
	HealthLabel        string                   `json:"healthLabel"`
	WorkerNodes        []workers.WorkerSnapshot `json:"workerNodes"`
	PerformanceMetrics PerformanceMetrics       `json:"performanceMetrics"`
	ServiceRegistry    ServiceRegistry          `json:"serviceRegistry"`
	LoadBalancer       LoadBalancer             `json:"loadBalancer"`
	APIGateway         APIGateway               `json:"apiGateway"`
	Streams            []StreamStatus           `json:"streams"`
	GeneratedAt        time.Time                `json:"generatedAt"`
}

// ScoreRecorder receives each computed health score.
type ScoreRecorder interface {
	RecordHealthScore(score int, healthy, faulty, total int)
}

// Config configures an Aggregator.
type Config struct {
	// Streams listed in the debug section, in order.
	Streams []string

	// StreamsFunc, when set, is read on every snapshot instead of Streams.
	StreamsFunc func() []string

	// ExpectWorkers scores an empty worker set 0 instead of 100.
	ExpectWorkers bool

	Logger  *logging.Logger
	Metrics ScoreRecorder
}

// Aggregator builds cluster health snapshots.
type Aggregator struct {
	store    logstore.Store
	registry workers.Registry
	gateway  gateway.Source
	perf     perf.Source
	config   Config
	logger   *logging.Logger
	now      func() time.Time
}

// NewAggregator creates an Aggregator. gw and pf may be nil, in which case
// their sections stay zero and the gateway status is unknown.
func NewAggregator(store logstore.Store, registry workers.Registry, gw gateway.Source, pf perf.Source, cfg Config) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("clusterhealth: store is required")
	}
	if registry == nil {
		return nil, errors.New("clusterhealth: worker registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	cfg.Streams = append([]string(nil), cfg.Streams...)
	return &Aggregator{
		store:    store,
		registry: registry,
		gateway:  gw,
		perf:     pf,
		config:   cfg,
		logger:   logger.With(map[string]any{"component": "clusterhealth"}),
		now:      time.Now,
	}, nil
}

// Score returns round(100*healthy/total). With no workers it returns 0
// when workers are expected and 100 otherwise.
func Score(healthy, total int, expectWorkers bool) int {
	if total <= 0 {
		if expectWorkers {
			return 0
		}
		return 100
	}
	if healthy < 0 {
		healthy = 0
	}
	if healthy > total {
		healthy = total
	}
	return int(math.Round(100 * float64(healthy) / float64(total)))
}

// Label maps a score to its health label.
func Label(score int) string {
	switch {
	case score >= 90:
		return LabelExcellent
	case score >= 70:
		return LabelGood
	default:
		return LabelNeedsAttention
	}
}

// Snapshot queries every collaborator and composes a fresh view. Only a
// worker registry failure fails the call.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		GeneratedAt: a.now().UTC(),
		Streams:     a.streams(ctx),
	}

	ws, err := a.registry.ListWorkers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("clusterhealth: list workers: %w", err)
	}
	if ws == nil {
		ws = []workers.WorkerSnapshot{}
	}
	snap.WorkerNodes = ws

	healthy, faulty := 0, 0
	for _, w := range ws {
		switch w.Status {
		case workers.StatusHealthy:
			healthy++
		case workers.StatusError:
			faulty++
		}
	}
	snap.ServiceRegistry = ServiceRegistry{Total: len(ws), Healthy: healthy, Faulty: faulty}
	snap.HealthScore = Score(healthy, len(ws), a.config.ExpectWorkers)
	snap.HealthLabel = Label(snap.HealthScore)

	snap.APIGateway.Status = gateway.StatusUnknown
	if a.gateway != nil {
		c, err := a.gateway.Counters(ctx)
		if err != nil {
			a.logger.Warnf("gateway counters unavailable", map[string]any{"error": err.Error()})
		} else {
			snap.LoadBalancer = LoadBalancer{
				TotalRequests:   c.TotalRequests,
				SuccessRate:     c.SuccessRate,
				AvgResponseTime: c.AvgResponseTime,
			}
			snap.APIGateway = APIGateway{
				Status:            c.Status,
				APICalls:          c.APICalls,
				ActiveConnections: c.ActiveConnections,
			}
		}
	}

	if a.perf != nil {
		m, err := a.perf.Performance(ctx)
		if err != nil {
			a.logger.Warnf("performance metrics unavailable", map[string]any{"error": err.Error()})
			snap.APIGateway.Status = gateway.StatusUnknown
		} else {
			snap.PerformanceMetrics = m
		}
	}

	if a.config.Metrics != nil {
		a.config.Metrics.RecordHealthScore(snap.HealthScore, healthy, faulty, len(ws))
	}
	return snap, nil
}

func (a *Aggregator) streams(ctx context.Context) []StreamStatus {
	names := a.config.Streams
	if a.config.StreamsFunc != nil {
		names = a.config.StreamsFunc()
	}
	out := make([]StreamStatus, 0, len(names))
	for _, name := range names {
		st := StreamStatus{Name: name}
		n, err := a.store.Length(ctx, name)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		st.Length = n
		groups, err := a.store.ConsumerGroupCount(ctx, name)
		if err != nil {
			st.Error = err.Error()
		}
		st.ConsumerGroups = groups
		out = append(out, st)
	}
	return out
}
