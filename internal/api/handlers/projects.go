package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"opshub/internal/crypto"
	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// ProjectHandler handles project management requests
type ProjectHandler struct {
	projects      *queries.ProjectQueries
	deployments   *queries.DeploymentQueries
	events        *queries.EventQueries
	envs          *queries.EnvQueries
	notifications *queries.NotificationQueries
	audits        *queries.AuditQueries
	encryptor     *crypto.Encryptor
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(
	projects *queries.ProjectQueries,
	deployments *queries.DeploymentQueries,
	events *queries.EventQueries,
	envs *queries.EnvQueries,
	notifications *queries.NotificationQueries,
	audits *queries.AuditQueries,
	encryptor *crypto.Encryptor,
) *ProjectHandler {
	return &ProjectHandler{
		projects:      projects,
		deployments:   deployments,
		events:        events,
		envs:          envs,
		notifications: notifications,
		audits:        audits,
		encryptor:     encryptor,
	}
}

// ProjectCreateRequest is the request body for registering a project
type ProjectCreateRequest struct {
	Name         string `json:"name"`
	RepoFullName string `json:"repo_full_name"`
}

// List handles GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		slog.Error("failed to list projects", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projects)
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ProjectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.RepoFullName = strings.TrimSpace(req.RepoFullName)
	if req.Name == "" || req.RepoFullName == "" {
		http.Error(w, "name and repo_full_name are required", http.StatusBadRequest)
		return
	}
	if !strings.Contains(req.RepoFullName, "/") {
		http.Error(w, "repo_full_name must be owner/repo", http.StatusBadRequest)
		return
	}

	if existing, err := h.projects.GetByRepoFullName(ctx, req.RepoFullName); err != nil {
		slog.Error("failed to check repo registration", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	} else if existing != nil {
		http.Error(w, "repository already registered", http.StatusConflict)
		return
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:           uuid.New().String(),
		Name:         req.Name,
		RepoFullName: req.RepoFullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.projects.Create(ctx, project); err != nil {
		slog.Error("failed to create project", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("project registered", "name", project.Name, "repo", project.RepoFullName)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(project)
}

// Get handles GET /api/projects/{projectID}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(project)
}

// ProviderConfigRequest is the request body for configuring a provider
type ProviderConfigRequest struct {
	Provider          string `json:"provider"`
	ProviderToken     string `json:"provider_token"`
	ProviderProjectID string `json:"provider_project_id"`
}

// SetProviderConfig handles PUT /api/projects/{projectID}/provider
func (h *ProjectHandler) SetProviderConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req ProviderConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	kind := models.ProviderKind(req.Provider)
	switch kind {
	case models.ProviderHosted, models.ProviderDocker, models.ProviderMock:
	default:
		http.Error(w, "provider must be hosted, docker or mock", http.StatusBadRequest)
		return
	}

	cfg := &models.ProviderConfig{
		ProjectID: project.ID,
		Provider:  kind,
		CreatedAt: time.Now().UTC(),
	}
	if req.ProviderToken != "" {
		encrypted, err := h.encryptor.Encrypt(req.ProviderToken)
		if err != nil {
			slog.Error("failed to encrypt provider token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		cfg.ProviderToken = database.NullString(encrypted)
	}
	if req.ProviderProjectID != "" {
		cfg.ProviderProjectID = database.NullString(req.ProviderProjectID)
	}

	if err := h.projects.SetProviderConfig(ctx, cfg); err != nil {
		slog.Error("failed to set provider config", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("provider configured", "project", project.Name, "provider", kind)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// GetProviderConfig handles GET /api/projects/{projectID}/provider
func (h *ProjectHandler) GetProviderConfig(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	cfg, err := h.projects.GetProviderConfig(r.Context(), project.ID)
	if err != nil {
		slog.Error("failed to get provider config", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		http.Error(w, "no provider configured", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// SlackChannelRequest is the request body for configuring Slack notifications
type SlackChannelRequest struct {
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// SetSlackChannel handles PUT /api/projects/{projectID}/notifications/slack
func (h *ProjectHandler) SetSlackChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req SlackChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BotToken == "" || req.Channel == "" {
		http.Error(w, "bot_token and channel are required", http.StatusBadRequest)
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.BotToken)
	if err != nil {
		slog.Error("failed to encrypt bot token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	channel := &models.NotificationChannel{
		ID:            uuid.New().String(),
		ProjectID:     project.ID,
		Type:          models.ChannelSlack,
		SlackBotToken: database.NullString(encrypted),
		SlackChannel:  database.NullString(req.Channel),
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.notifications.SetChannel(ctx, channel); err != nil {
		slog.Error("failed to set notification channel", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("slack notifications configured", "project", project.Name, "channel", req.Channel)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(channel)
}

// EnvVarRequest is the request body for setting an environment variable
type EnvVarRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetEnvVar handles POST /api/projects/{projectID}/env. Values are
// append-only: setting an existing key writes a new version.
func (h *ProjectHandler) SetEnvVar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req EnvVarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	env, err := h.envs.EnsureEnvironment(ctx, project.ID, models.EnvPreview)
	if err != nil {
		slog.Error("failed to ensure environment", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.Value)
	if err != nil {
		slog.Error("failed to encrypt env var", "key", req.Key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	version, err := h.envs.NextVersion(ctx, env.ID, req.Key)
	if err != nil {
		slog.Error("failed to get next version", "key", req.Key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	envVar := &models.EnvVar{
		ID:              uuid.New().String(),
		EnvironmentID:   env.ID,
		Key:             req.Key,
		ValueCiphertext: encrypted,
		Version:         version,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.envs.CreateEnvVar(ctx, envVar); err != nil {
		slog.Error("failed to create env var", "key", req.Key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(envVar)
}

// ListEnvVars handles GET /api/projects/{projectID}/env. Values stay
// encrypted; only keys and versions are returned.
func (h *ProjectHandler) ListEnvVars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	env, err := h.envs.GetEnvironment(ctx, project.ID, models.EnvPreview)
	if err != nil {
		slog.Error("failed to get environment", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	vars := []*models.EnvVar{}
	if env != nil {
		vars, err = h.envs.LatestEnvVars(ctx, env.ID)
		if err != nil {
			slog.Error("failed to list env vars", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vars)
}

// ListDeployments handles GET /api/projects/{projectID}/deployments
func (h *ProjectHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	limit := intQueryParam(r, "limit", 50)
	deployments, err := h.deployments.ListByProject(r.Context(), project.ID, limit)
	if err != nil {
		slog.Error("failed to list deployments", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deployments)
}

// ListEvents handles GET /api/projects/{projectID}/events
func (h *ProjectHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	from, to := timeWindow(r, 7*24*time.Hour)
	events, err := h.events.ListByProjectAndWindow(r.Context(), project.ID, from, to)
	if err != nil {
		slog.Error("failed to list events", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// ListAuditLog handles GET /api/projects/{projectID}/audit
func (h *ProjectHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	limit := intQueryParam(r, "limit", 100)
	logs, err := h.audits.ListByProject(r.Context(), project.ID, limit)
	if err != nil {
		slog.Error("failed to list audit log", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

// loadProject resolves the {projectID} URL param, writing the error
// response itself when the project cannot be served
func (h *ProjectHandler) loadProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	projectID := chi.URLParam(r, "projectID")
	project, err := h.projects.GetByID(r.Context(), projectID)
	if err != nil {
		slog.Error("failed to get project", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if project == nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return nil, false
	}
	return project, true
}
