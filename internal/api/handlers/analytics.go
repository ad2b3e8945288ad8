package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opshub/internal/analytics"
	"opshub/internal/models"
	"opshub/internal/queue"
)

// AnalyticsHandler serves deploy metrics and digests
type AnalyticsHandler struct {
	service *analytics.Service
	queue   *queue.Queue
}

// NewAnalyticsHandler creates a new AnalyticsHandler
func NewAnalyticsHandler(service *analytics.Service, q *queue.Queue) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		queue:   q,
	}
}

// DeployMetricsResponse bundles the KPI summary with its daily breakdown
type DeployMetricsResponse struct {
	KPIs       *analytics.KPIs       `json:"kpis"`
	TimeSeries []analytics.DayBucket `json:"time_series"`
}

// DeployMetrics handles GET /api/projects/{projectID}/metrics/deploy
func (h *AnalyticsHandler) DeployMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	from, to := timeWindow(r, 14*24*time.Hour)

	kpis, err := h.service.ComputeKPIs(ctx, projectID, from, to)
	if err != nil {
		slog.Error("failed to compute deploy KPIs", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	series, err := h.service.TimeSeries(ctx, projectID, from, to)
	if err != nil {
		slog.Error("failed to compute deploy time series", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DeployMetricsResponse{KPIs: kpis, TimeSeries: series})
}

// TriggerRollup handles POST /api/projects/{projectID}/metrics/rollup.
// The rollup runs through the queue like its nightly counterpart, so a
// manual trigger and the scheduler share one code path.
func (h *AnalyticsHandler) TriggerRollup(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	day := time.Now().UTC().AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	job, err := h.queue.Enqueue(r.Context(), models.JobDailyRollup, models.DailyRollupPayload{
		ProjectID: projectID,
		Day:       day,
	})
	if err != nil {
		slog.Error("failed to queue rollup", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "job_id": job.ID})
}

// WeeklyDigest handles POST /api/projects/{projectID}/digest. The digest
// text is returned and also queued as a notification.
func (h *AnalyticsHandler) WeeklyDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	digest, err := h.service.WeeklyDigest(ctx, projectID)
	if err != nil {
		slog.Error("failed to build weekly digest", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := h.queue.Enqueue(ctx, models.JobNotify, models.NotifyPayload{
		ProjectID: projectID,
		Message:   digest,
		Level:     "info",
	}); err != nil {
		slog.Warn("failed to queue digest notification", "project_id", projectID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"digest": digest})
}
