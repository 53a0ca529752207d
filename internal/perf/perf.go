// Package perf provides the pipeline performance figures reported in the
// cluster health snapshot.
package perf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/faultwatch/faultwatch/internal/logging"
)

// Metrics is a point-in-time view of pipeline performance.
type Metrics struct {
	Throughput  float64 `json:"throughput" yaml:"throughput"`   // messages per second
	Latency     float64 `json:"latency" yaml:"latency"`         // milliseconds
	QueueLength int64   `json:"queueLength" yaml:"queueLength"` // entries awaiting processing
}

// Source provides performance metrics.
type Source interface {
	Performance(ctx context.Context) (Metrics, error)
}

// StaticSource always reports the same metrics.
type StaticSource struct {
	Metrics Metrics
}

// Performance implements Source.
func (s StaticSource) Performance(context.Context) (Metrics, error) {
	return s.Metrics, nil
}

// Queries holds the PromQL expressions evaluated for each figure. Each
// expression should yield a scalar or a vector; vectors are summed.
type Queries struct {
	Throughput  string `yaml:"throughput"`
	Latency     string `yaml:"latency"`
	QueueLength string `yaml:"queueLength"`
}

// DefaultQueries reads the figures published by the pipeline's own
// exporters.
func DefaultQueries() Queries {
	return Queries{
		Throughput:  `sum(rate(faultwatch_pipeline_messages_processed_total[5m]))`,
		Latency:     `1000 * histogram_quantile(0.95, sum(rate(faultwatch_pipeline_processing_seconds_bucket[5m])) by (le))`,
		QueueLength: `sum(faultwatch_pipeline_pending_messages)`,
	}
}

// PrometheusConfig configures a PrometheusSource.
type PrometheusConfig struct {
	URL      string
	Username string
	Password string
	Queries  Queries
	Timeout  time.Duration
	Logger   *logging.Logger
}

// PrometheusSource evaluates instant queries against a Prometheus server.
type PrometheusSource struct {
	api     v1.API
	queries Queries
	timeout time.Duration
	logger  *logging.Logger
}

type basicAuthRoundTripper struct {
	username string
	password string
	next     http.RoundTripper
}

func (rt *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(rt.username, rt.password)
	return rt.next.RoundTrip(req)
}

// NewPrometheusSource creates a PrometheusSource. Empty queries fall back
// to DefaultQueries.
func NewPrometheusSource(cfg PrometheusConfig) (*PrometheusSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("perf: prometheus url is required")
	}

	rt := api.DefaultRoundTripper
	if cfg.Username != "" || cfg.Password != "" {
		rt = &basicAuthRoundTripper{username: cfg.Username, password: cfg.Password, next: api.DefaultRoundTripper}
	}
	client, err := api.NewClient(api.Config{Address: cfg.URL, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("perf: failed to create prometheus client: %w", err)
	}

	defaults := DefaultQueries()
	q := cfg.Queries
	if q.Throughput == "" {
		q.Throughput = defaults.Throughput
	}
	if q.Latency == "" {
		q.Latency = defaults.Latency
	}
	if q.QueueLength == "" {
		q.QueueLength = defaults.QueueLength
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &PrometheusSource{
		api:     v1.NewAPI(client),
		queries: q,
		timeout: timeout,
		logger:  logger.With(map[string]any{"component": "perf"}),
	}, nil
}

// Performance implements Source. Any failing query fails the call.
func (p *PrometheusSource) Performance(ctx context.Context) (Metrics, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	now := time.Now()
	throughput, err := p.query(ctx, p.queries.Throughput, now)
	if err != nil {
		return Metrics{}, err
	}
	latency, err := p.query(ctx, p.queries.Latency, now)
	if err != nil {
		return Metrics{}, err
	}
	queue, err := p.query(ctx, p.queries.QueueLength, now)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Throughput:  throughput,
		Latency:     latency,
		QueueLength: int64(math.Round(queue)),
	}, nil
}

func (p *PrometheusSource) query(ctx context.Context, expr string, ts time.Time) (float64, error) {
	value, warnings, err := p.api.Query(ctx, expr, ts)
	if err != nil {
		return 0, fmt.Errorf("perf: query %q: %w", expr, err)
	}
	if len(warnings) > 0 {
		p.logger.Warnf("prometheus query warnings", map[string]any{
			"query":    expr,
			"warnings": strings.Join(warnings, "; "),
		})
	}
	return reduce(value), nil
}

// reduce collapses a query result to one number. NaN and Inf become zero.
func reduce(value model.Value) float64 {
	var sum float64
	switch v := value.(type) {
	case *model.Scalar:
		sum = float64(v.Value)
	case model.Vector:
		for _, s := range v {
			if f := float64(s.Value); !math.IsNaN(f) && !math.IsInf(f, 0) {
				sum += f
			}
		}
	case model.Matrix:
		for _, ss := range v {
			if n := len(ss.Values); n > 0 {
				if f := float64(ss.Values[n-1].Value); !math.IsNaN(f) && !math.IsInf(f, 0) {
					sum += f
				}
			}
		}
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0
	}
	return sum
}

var (
	_ Source = StaticSource{}
	_ Source = (*PrometheusSource)(nil)
)
