package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"opshub/internal/config"
	"opshub/internal/database/queries"
	"opshub/internal/deploy"
	"opshub/internal/github"
)

// WebhookHandler receives GitHub webhook deliveries
type WebhookHandler struct {
	cfg       *config.Config
	events    *queries.EventQueries
	processor *deploy.Processor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(cfg *config.Config, events *queries.EventQueries, processor *deploy.Processor) *WebhookHandler {
	return &WebhookHandler{
		cfg:       cfg,
		events:    events,
		processor: processor,
	}
}

// HandleGitHub handles POST /webhook/github. Deliveries are acknowledged
// with 200 whenever possible; GitHub disables hooks that keep failing, so
// only unreadable bodies and bad signatures are rejected.
func (h *WebhookHandler) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if secret := h.cfg.GitHub.WebhookSecret; secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !github.VerifySignature(body, signature, secret) {
			slog.Warn("webhook signature verification failed")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	} else {
		slog.Warn("webhook secret not configured, accepting unsigned delivery")
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}

	// Raw delivery is stored before any interpretation so a bad payload
	// can still be replayed and debugged
	if err := h.events.StoreWebhookEvent(ctx, "github", eventType, body); err != nil {
		slog.Error("failed to store webhook event", "error", err)
	}

	if eventType != "pull_request" {
		slog.Debug("ignoring webhook event", "event", eventType)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored", "reason": "not a pull_request event"})
		return
	}

	event, err := github.ParsePullRequestEvent(body)
	if err != nil {
		slog.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	action, err := h.processor.DispatchWebhook(ctx, event)
	if err != nil {
		slog.Error("failed to dispatch webhook", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"action": string(action),
	})
}
