package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// JobsHandler exposes queue introspection endpoints
type JobsHandler struct {
	jobs *queries.JobQueries
}

// NewJobsHandler creates a new JobsHandler
func NewJobsHandler(jobs *queries.JobQueries) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Counts handles GET /api/jobs/counts
func (h *JobsHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.CountByStatus(r.Context())
	if err != nil {
		slog.Error("failed to count jobs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(counts)
}

// List handles GET /api/jobs?status=pending
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case models.JobPending, models.JobRunning, models.JobSucceeded, models.JobDead:
	case "":
		status = models.JobPending
	default:
		http.Error(w, "status must be pending, running, succeeded or dead", http.StatusBadRequest)
		return
	}

	limit := intQueryParam(r, "limit", 50)
	jobs, err := h.jobs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		slog.Error("failed to list jobs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}
