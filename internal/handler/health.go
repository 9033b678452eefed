package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a backing store that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the gateway can reach its stores.
type HealthHandler struct {
	stores map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler checking every named store.
func NewHealthHandler(stores map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{stores: stores, logger: logger}
}

type healthResponse struct {
	Status string            `json:"status"`
	Stores map[string]string `json:"stores"`
}

// HandleHealth serves GET /healthz: 200 when every store answers a ping
// within two seconds, 503 otherwise.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Stores: make(map[string]string, len(h.stores))}
	for name, store := range h.stores {
		if err := store.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("store", name), slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Stores[name] = "unreachable"
			continue
		}
		resp.Stores[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
