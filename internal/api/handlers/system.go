package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
	"opshub/internal/version"
)

// SystemHandler serves liveness and status endpoints
type SystemHandler struct {
	db        *database.DB
	jobs      *queries.JobQueries
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(db *database.DB, jobs *queries.JobQueries) *SystemHandler {
	return &SystemHandler{
		db:        db,
		jobs:      jobs,
		startTime: time.Now(),
	}
}

// HealthResponse is the liveness check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// Check handles GET /health
func (h *SystemHandler) Check(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Version: version.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// StatusResponse is the system status response
type StatusResponse struct {
	Status     string                   `json:"status"`
	Uptime     string                   `json:"uptime"`
	Version    string                   `json:"version"`
	Database   string                   `json:"database"`
	Jobs       map[models.JobStatus]int `json:"jobs"`
	Goroutines int                      `json:"goroutines"`
	HeapBytes  uint64                   `json:"heap_bytes"`
}

// Status handles GET /api/system/status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := StatusResponse{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    version.Version,
		Database:   "ok",
		Goroutines: runtime.NumGoroutine(),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	response.HeapBytes = m.HeapAlloc

	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("database ping failed", "error", err)
		response.Status = "degraded"
		response.Database = "unreachable"
	}

	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		slog.Warn("failed to count jobs", "error", err)
		response.Status = "degraded"
	} else {
		response.Jobs = counts
		if counts[models.JobDead] > 0 {
			response.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
