package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opshub/internal/database/queries"
	"opshub/internal/health"
)

// HealthCheckHandler handles health check management requests
type HealthCheckHandler struct {
	checks  *queries.HealthQueries
	service *health.Service
}

// NewHealthCheckHandler creates a new HealthCheckHandler
func NewHealthCheckHandler(checks *queries.HealthQueries, service *health.Service) *HealthCheckHandler {
	return &HealthCheckHandler{
		checks:  checks,
		service: service,
	}
}

// HealthCheckCreateRequest is the request body for creating a health check
type HealthCheckCreateRequest struct {
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	ExpectedMin       int               `json:"expected_status_min"`
	ExpectedMax       int               `json:"expected_status_max"`
	ResponseContains  string            `json:"response_contains"`
	IntervalSec       int               `json:"interval_sec"`
	TimeoutMs         int               `json:"timeout_ms"`
	FailureThreshold  int               `json:"failure_threshold"`
	RecoveryThreshold int               `json:"recovery_threshold"`
	AlertCooldownMin  int               `json:"alert_cooldown_min"`
	RunImmediately    bool              `json:"run_immediately"`
}

// List handles GET /api/projects/{projectID}/health-checks
func (h *HealthCheckHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	checks, err := h.checks.ListChecksByProject(r.Context(), projectID)
	if err != nil {
		slog.Error("failed to list health checks", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(checks)
}

// Create handles POST /api/projects/{projectID}/health-checks
func (h *HealthCheckHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req HealthCheckCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.URL == "" {
		http.Error(w, "name and url are required", http.StatusBadRequest)
		return
	}

	check, err := h.service.CreateCheck(r.Context(), health.CreateCheckInput{
		ProjectID:         projectID,
		Name:              req.Name,
		URL:               req.URL,
		Method:            req.Method,
		Headers:           req.Headers,
		ExpectedMin:       req.ExpectedMin,
		ExpectedMax:       req.ExpectedMax,
		ResponseContains:  req.ResponseContains,
		IntervalSec:       req.IntervalSec,
		TimeoutMs:         req.TimeoutMs,
		FailureThreshold:  req.FailureThreshold,
		RecoveryThreshold: req.RecoveryThreshold,
		AlertCooldownMin:  req.AlertCooldownMin,
		RunImmediately:    req.RunImmediately,
	})
	if err != nil {
		slog.Error("failed to create health check", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(check)
}

// Get handles GET /api/health-checks/{checkID}
func (h *HealthCheckHandler) Get(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkID")

	check, err := h.checks.GetCheck(r.Context(), checkID)
	if err != nil {
		slog.Error("failed to get health check", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if check == nil {
		http.Error(w, "health check not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(check)
}

// Enable handles POST /api/health-checks/{checkID}/enable
func (h *HealthCheckHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /api/health-checks/{checkID}/disable
func (h *HealthCheckHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *HealthCheckHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	checkID := chi.URLParam(r, "checkID")

	if err := h.service.SetEnabled(r.Context(), checkID, enabled); err != nil {
		slog.Error("failed to toggle health check", "check_id", checkID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": checkID, "enabled": enabled})
}

// RunNow handles POST /api/health-checks/{checkID}/run
func (h *HealthCheckHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkID")

	if err := h.service.RunNow(r.Context(), checkID); err != nil {
		slog.Error("failed to queue probe", "check_id", checkID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// Samples handles GET /api/health-checks/{checkID}/samples
func (h *HealthCheckHandler) Samples(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkID")

	n := intQueryParam(r, "limit", 100)
	samples, err := h.checks.RecentSamples(r.Context(), checkID, n)
	if err != nil {
		slog.Error("failed to list samples", "check_id", checkID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samples)
}

// Uptime handles GET /api/health-checks/{checkID}/uptime
func (h *HealthCheckHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkID")

	hours := intQueryParam(r, "hours", 24)
	stats, err := h.service.Uptime(r.Context(), checkID, time.Duration(hours)*time.Hour)
	if err != nil {
		slog.Error("failed to compute uptime", "check_id", checkID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
