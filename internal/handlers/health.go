package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"beltline/internal/session"
)

type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Components map[string]any `json:"components"`
}

type HealthHandler struct {
	arena  *session.Arena
	logger *slog.Logger
}

func NewHealthHandler(arena *session.Arena, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		arena:  arena,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	components := make(map[string]any)
	overallStatus := "healthy"

	if h.arena == nil {
		components["arena"] = "unavailable"
		overallStatus = "degraded"
	} else {
		components["arena"] = "healthy"
		components["sessions"] = len(h.arena.Records())
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "beltline",
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding health response",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}
