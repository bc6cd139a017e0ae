package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/yuka/ledger"
	"github.com/onnwee/yuka/telemetry"
)

// Pinger checks storage connectivity. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Orders exposes the model selector.
type Orders interface {
	Current() []string
	Refresh(ctx context.Context) (bool, error)
}

// StatsSource reports per-model usage.
type StatsSource interface {
	Stats(ctx context.Context) ([]ledger.ModelStats, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db     Pinger
	orders Orders
	stats  StatsSource
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db Pinger, orders Orders, stats StatsSource) *Handlers {
	return &Handlers{db: db, orders: orders, stats: stats}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleHealthz answers liveness checks by testing database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready when storage answers and a model order is in place.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "failed_check": "database", "error": err.Error()})
		return
	}
	if len(h.orders.Current()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "failed_check": "models"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the current order and ledger stats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("status stats failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []ledger.ModelStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":   h.orders.Current(),
		"stats":   stats,
		"tracing": telemetry.IsTracingEnabled(),
	})
}

// HandleAdminRefresh recomputes the model order immediately.
func (h *Handlers) HandleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	changed, err := h.orders.Refresh(r.Context())
	telemetry.ObserveRefresh(changed, err)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("manual refresh failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "refresh failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "order": h.orders.Current()})
}
