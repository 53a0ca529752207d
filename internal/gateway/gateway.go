// Package gateway provides the request counters reported in the cluster
// health snapshot under load balancer and API gateway.
//
// Counters come either from the in-process Tracker, which wraps the HTTP
// handlers served by faultwatchd, or from an external gateway exposing the
// same JSON document over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Gateway status values.
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
	StatusUnknown  = "unknown"
)

// Counters is a point-in-time view of gateway traffic.
type Counters struct {
	TotalRequests     int64   `json:"totalRequests"`
	SuccessRate       float64 `json:"successRate"`
	AvgResponseTime   float64 `json:"avgResponseTime"` // milliseconds
	APICalls          int64   `json:"apiCalls"`
	ActiveConnections int64   `json:"activeConnections"`
	Status            string  `json:"status"`
}

// Source provides gateway counters.
type Source interface {
	Counters(ctx context.Context) (Counters, error)
}

// probePaths are not counted as API calls.
var probePaths = []string{"/healthz", "/readyz", "/metrics", "/debug/pprof"}

// Tracker counts HTTP traffic passing through its middleware.
type Tracker struct {
	total     atomic.Int64
	failed    atomic.Int64
	apiCalls  atomic.Int64
	active    atomic.Int64
	latencyNs atomic.Int64

	// degradedBelow marks the gateway degraded when the success rate falls
	// under it.
	degradedBelow float64
}

// NewTracker creates a Tracker. A success rate under degradedBelow
// reports the gateway as degraded.
func NewTracker(degradedBelow float64) *Tracker {
	return &Tracker{degradedBelow: degradedBelow}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps next and counts each request. Responses with a 5xx
// status count as failures.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.active.Add(1)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			t.active.Add(-1)
			t.latencyNs.Add(int64(time.Since(start)))
			t.total.Add(1)
			if rec.status >= http.StatusInternalServerError {
				t.failed.Add(1)
			}
			if !isProbe(r.URL.Path) {
				t.apiCalls.Add(1)
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

func isProbe(path string) bool {
	for _, p := range probePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Counters implements Source. It never fails.
func (t *Tracker) Counters(context.Context) (Counters, error) {
	total := t.total.Load()
	c := Counters{
		TotalRequests:     total,
		SuccessRate:       1,
		APICalls:          t.apiCalls.Load(),
		ActiveConnections: t.active.Load(),
		Status:            StatusOnline,
	}
	if total > 0 {
		c.SuccessRate = float64(total-t.failed.Load()) / float64(total)
		c.AvgResponseTime = float64(t.latencyNs.Load()) / float64(total) / float64(time.Millisecond)
	}
	if c.SuccessRate < t.degradedBelow {
		c.Status = StatusDegraded
	}
	return c, nil
}

// HTTPSource fetches counters from an external gateway's JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource for url. A nil client uses a client
// with a 5 second timeout.
func NewHTTPSource(url string, client *http.Client) (*HTTPSource, error) {
	if url == "" {
		return nil, errors.New("gateway: url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{url: url, client: client}, nil
}

// Counters implements Source.
func (s *HTTPSource) Counters(ctx context.Context) (Counters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Counters{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Counters{}, fmt.Errorf("gateway: fetch counters: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Counters{}, fmt.Errorf("gateway: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var c Counters
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return Counters{}, fmt.Errorf("gateway: decode counters: %w", err)
	}
	if c.Status == "" {
		c.Status = StatusOnline
	}
	return c, nil
}

var (
	_ Source = (*Tracker)(nil)
	_ Source = (*HTTPSource)(nil)
)
