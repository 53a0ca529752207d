package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/faultwatch/faultwatch/internal/clusterhealth"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/maintenance"
)

// Maintenance is the scheduler surface exposed under /debug/maintenance.
type Maintenance interface {
	State() maintenance.State
	Config() maintenance.Config
	Stats() maintenance.Stats
	UpdateConfig(u maintenance.ConfigUpdate) (maintenance.Config, error)
	ResetStats()
	ManualTrimWithOptions(ctx context.Context, stream string, o maintenance.TrimOverride) (maintenance.TrimResult, error)
}

// ClusterView produces cluster health snapshots.
type ClusterView interface {
	Snapshot(ctx context.Context) (clusterhealth.Snapshot, error)
}

// MaintenanceStatus is the body of GET /debug/maintenance.
type MaintenanceStatus struct {
	State  maintenance.State  `json:"state"`
	Config maintenance.Config `json:"config"`
	Stats  maintenance.Stats  `json:"stats"`
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	body := errorBody{Error: err.Error()}
	var ce *maintenance.ConfigError
	if errors.As(err, &ce) {
		body.Field = ce.Field
	}
	writeJSON(w, code, body)
}

// RegisterMaintenanceHandlers mounts the maintenance debug endpoints:
//
//	GET   /debug/maintenance          state, config and stats
//	PATCH /debug/maintenance/config   merge a partial config
//	POST  /debug/maintenance/trim     ?stream=&maxLength=&approximate=
//	POST  /debug/maintenance/reset    clear stats
func RegisterMaintenanceHandlers(h *HealthServer, m Maintenance, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Global()
	}

	h.RegisterHandler("/debug/maintenance", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, MaintenanceStatus{State: m.State(), Config: m.Config(), Stats: m.Stats()})
	}))

	h.RegisterHandler("/debug/maintenance/config", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var u maintenance.ConfigUpdate
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&u); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := m.UpdateConfig(u)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		logger.Infof("maintenance config updated via debug endpoint", map[string]any{"remote": r.RemoteAddr})
		writeJSON(w, http.StatusOK, cfg)
	}))

	h.RegisterHandler("/debug/maintenance/trim", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		var o maintenance.TrimOverride
		if v := q.Get("maxLength"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, maintenance.ErrInvalidLength)
				return
			}
			o.MaxLength = &n
		}
		if v := q.Get("approximate"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			o.Approximate = &b
		}

		res, err := m.ManualTrimWithOptions(r.Context(), q.Get("stream"), o)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case errors.Is(err, maintenance.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, maintenance.ErrInvalidStream), errors.Is(err, maintenance.ErrInvalidLength):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
	}))

	h.RegisterHandler("/debug/maintenance/reset", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		m.ResetStats()
		logger.Infof("maintenance stats reset via debug endpoint", map[string]any{"remote": r.RemoteAddr})
		w.WriteHeader(http.StatusNoContent)
	}))
}

// RegisterClusterHandler mounts GET /debug/cluster.
func RegisterClusterHandler(h *HealthServer, view ClusterView) {
	h.RegisterHandler("/debug/cluster", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := view.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}))
}
