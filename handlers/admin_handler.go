// handlers/admin_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/services"
)

// Runner starts workflow runs and field updates.
type Runner interface {
	Start(ctx context.Context, done func(*services.RunReport, error)) (string, error)
	UpdateFields(ctx context.Context) ([]services.FieldUpdateResult, error)
}

// RunLister reads the audit trail.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]models.PublishRun, error)
}

// Pinger checks a backing store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AdminHandler serves health, run triggers and run history.
type AdminHandler struct {
	Runner Runner
	Runs   RunLister // nil when the audit store is disabled
	DB     Pinger    // nil when the audit store is disabled
	Logger *slog.Logger
	// BaseContext is the parent of background runs; it is cancelled on shutdown.
	BaseContext context.Context
}

// Helper to respond with JSON
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Error marshalling JSON response", "error", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper to respond with an error
func (h *AdminHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.Logger.Warn("API error", "status", code, "message", message)
	respondWithJSON(w, code, map[string]string{"error": message})
}

// Routes registers the handlers. gatherer backs /metrics; nil disables it.
func (h *AdminHandler) Routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("POST /api/admin/run", h.TriggerRun)
	mux.HandleFunc("POST /api/admin/update-fields", h.UpdateFields)
	mux.HandleFunc("GET /api/admin/runs", h.RecentRuns)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Health reports liveness and, when configured, database reachability.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			h.Logger.Error("Health check failed: DB ping error", "error", err)
			respondWithJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "database connection error"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "encwind is healthy"})
}

// TriggerRun starts a full workflow run in the background.
func (h *AdminHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := h.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	log := h.Logger
	runID, err := h.Runner.Start(ctx, func(report *services.RunReport, err error) {
		if err != nil {
			log.Error("Triggered run failed", "error", err)
			return
		}
		log.Info("Triggered run finished", "run_id", report.RunID, "classes", len(report.Results))
	})
	if errors.Is(err, services.ErrRunInProgress) {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to start run: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Workflow run started.", "run_id": runID})
}

type fieldUpdateResponse struct {
	ItemID  string `json:"item_id"`
	Updated int    `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// UpdateFields runs the field metadata update synchronously.
func (h *AdminHandler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	results, err := h.Runner.UpdateFields(r.Context())
	if errors.Is(err, services.ErrRunInProgress) {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to update fields: "+err.Error())
		return
	}
	out := make([]fieldUpdateResponse, 0, len(results))
	for _, res := range results {
		item := fieldUpdateResponse{ItemID: res.ItemID, Updated: res.Updated}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"items": out})
}

// RecentRuns lists the latest publish runs. Query: ?limit=N (default 20, max 200).
func (h *AdminHandler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Audit store is not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = min(n, 200)
	}
	runs, err := h.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []models.PublishRun{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}
