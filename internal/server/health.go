// Package server serves faultwatchd's HTTP endpoints: liveness and
// readiness probes plus the JSON debug views of maintenance and cluster
// health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faultwatch/faultwatch/internal/logging"
)

// ReadinessChecker is implemented by dependencies that take part in
// /readyz.
type ReadinessChecker interface {
	// Name identifies the component in the readiness response.
	Name() string

	// CheckReady returns nil when the component is usable.
	CheckReady(ctx context.Context) error
}

// HealthServer serves /healthz for liveness, /readyz for readiness and any
// handlers registered before Start.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	goroutines       map[string]*goroutineStatus
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	extraHandlers    map[string]http.Handler
	middleware       []func(http.Handler) http.Handler
	staleAfter       time.Duration
}

type goroutineStatus struct {
	running   bool
	lastCheck time.Time
}

// HealthStatus is the body of /healthz and /readyz.
type HealthStatus struct {
	Status     string                 `json:"status"`
	Goroutines map[string]bool        `json:"goroutines,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

const (
	// DefaultReadinessTimeout bounds each readiness check.
	DefaultReadinessTimeout = 5 * time.Second

	// DefaultGoroutineStaleAfter is how long a registered goroutine may go
	// without UpdateGoroutine before liveness degrades.
	DefaultGoroutineStaleAfter = 30 * time.Second
)

// NewHealthServer creates a HealthServer for addr.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger,
		goroutines:       make(map[string]*goroutineStatus),
		readinessTimeout: DefaultReadinessTimeout,
		extraHandlers:    make(map[string]http.Handler),
		staleAfter:       DefaultGoroutineStaleAfter,
	}
}

// RegisterHandler mounts handler at pattern. Call before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extraHandlers[pattern] = handler
}

// Use wraps every endpoint in mw. Middleware registered first runs
// outermost. Call before Start.
func (h *HealthServer) Use(mw func(http.Handler) http.Handler) {
	if mw == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.middleware = append(h.middleware, mw)
}

// RegisterReadinessCheck adds checker to /readyz.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the timeout of each readiness check.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetGoroutineStaleAfter sets how long a goroutine may go without an
// update before it counts as stuck.
func (h *HealthServer) SetGoroutineStaleAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleAfter = d
}

// RegisterGoroutine marks a critical goroutine as running.
func (h *HealthServer) RegisterGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.goroutines[name] = &goroutineStatus{running: true, lastCheck: time.Now()}
}

// UpdateGoroutine records that the goroutine is still making progress.
func (h *HealthServer) UpdateGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.goroutines[name]; ok {
		status.lastCheck = time.Now()
	}
}

// UnregisterGoroutine marks a goroutine as stopped.
func (h *HealthServer) UnregisterGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.goroutines[name]; ok {
		status.running = false
	}
}

// SetShuttingDown makes both probes report 503.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown reports whether SetShuttingDown was called.
func (h *HealthServer) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler returns the server's mux wrapped in the registered middleware.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.mu.RLock()
	for pattern, handler := range h.extraHandlers {
		mux.Handle(pattern, handler)
	}
	middleware := append([]func(http.Handler) http.Handler(nil), h.middleware...)
	h.mu.RUnlock()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	var handler http.Handler = mux
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// Start binds addr and serves in the background.
func (h *HealthServer) Start() error {
	srv := &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second, // readiness checks and snapshots may be slow
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts the server down.
func (h *HealthServer) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		json.NewEncoder(w).Encode(status)
	}
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.checkLiveness())
}

func shuttingDown() HealthStatus {
	return HealthStatus{
		Status: "shutting_down",
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: false, Message: "faultwatchd is shutting down"},
		},
	}
}

func (h *HealthServer) checkLiveness() HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	status := HealthStatus{
		Status:     "ok",
		Goroutines: make(map[string]bool),
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "faultwatchd is running"},
		},
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	allOK := true
	for name, gs := range h.goroutines {
		ok := gs.running && time.Since(gs.lastCheck) < h.staleAfter
		status.Goroutines[name] = ok
		if !ok {
			allOK = false
		}
	}

	switch {
	case !allOK:
		status.Status = "degraded"
		status.Checks["goroutines"] = CheckResult{Healthy: false, Message: "one or more critical goroutines are not running"}
	case len(h.goroutines) > 0:
		status.Checks["goroutines"] = CheckResult{Healthy: true, Message: "all critical goroutines are running"}
	}
	return status
}

// CheckHealth returns the liveness status without an HTTP round trip.
func (h *HealthServer) CheckHealth() HealthStatus {
	return h.checkLiveness()
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.checkReadiness(r.Context()))
}

func (h *HealthServer) checkReadiness(ctx context.Context) HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	status := HealthStatus{
		Status: "ok",
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "faultwatchd is running"},
		},
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.readinessChecks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = "not_ready"
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
		} else {
			status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
		}
	}
	return status
}

// CheckReadiness returns the readiness status without an HTTP round trip.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	return h.checkReadiness(ctx)
}
