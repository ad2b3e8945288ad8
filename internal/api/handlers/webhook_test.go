package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"opshub/internal/audit"
	"opshub/internal/config"
	"opshub/internal/crypto"
	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/deploy"
	"opshub/internal/github"
	"opshub/internal/health"
	"opshub/internal/models"
	"opshub/internal/notify"
	"opshub/internal/provider"
	"opshub/internal/queue"
)

const (
	testKey           = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	testWebhookSecret = "hook-secret"
)

type webhookTestEnv struct {
	db      *database.DB
	jobs    *queries.JobQueries
	handler *WebhookHandler
}

func newWebhookTestEnv(t *testing.T) *webhookTestEnv {
	t.Helper()
	t.Setenv("OPSHUB_ENCRYPTION_KEY", testKey)

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	encryptor, err := crypto.NewEncryptor()
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	cfg := config.Default()
	cfg.GitHub.WebhookSecret = testWebhookSecret
	cfg.Features.UseMockProvider = true

	projects := queries.NewProjectQueries(db.DB)
	events := queries.NewEventQueries(db.DB)
	jobs := queries.NewJobQueries(db.DB)
	checks := queries.NewHealthQueries(db.DB)
	q := queue.New(jobs)
	notifier := notify.NewNotifier(queries.NewNotificationQueries(db.DB), encryptor, true)
	healthSvc := health.NewService(checks, q, health.NewProber(checks, notifier))

	processor := deploy.NewProcessor(
		projects,
		queries.NewDeploymentQueries(db.DB),
		queries.NewEnvQueries(db.DB),
		deploy.NewEmitter(events),
		provider.NewRegistry(provider.NewMockProvider()),
		encryptor,
		q,
		healthSvc,
		github.NewClient(""),
		audit.NewRecorder(queries.NewAuditQueries(db.DB)),
		cfg.Features,
	)

	ctx := context.Background()
	now := time.Now().UTC()
	if err := projects.Create(ctx, &models.Project{
		ID:           uuid.New().String(),
		Name:         "acme-web",
		RepoFullName: "acme/web",
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	return &webhookTestEnv{
		db:      db,
		jobs:    jobs,
		handler: NewWebhookHandler(cfg, events, processor),
	}
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, env *webhookTestEnv, eventType, signature string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", eventType)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	env.handler.HandleGitHub(rec, req)
	return rec
}

func openedPRPayload(t *testing.T, repo string, pr int) []byte {
	t.Helper()

	event := map[string]any{
		"action": "opened",
		"number": pr,
		"pull_request": map[string]any{
			"number": pr,
			"state":  "open",
			"head":   map[string]any{"ref": "feature/login", "sha": "abc123"},
		},
		"repository": map[string]any{
			"full_name": repo,
			"clone_url": "https://github.com/" + repo + ".git",
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return payload
}

func TestHandleGitHubRejectsBadSignature(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := openedPRPayload(t, "acme/web", 5)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing signature", ""},
		{"wrong secret", sign(payload, "not-the-secret")},
		{"malformed header", "sha1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postWebhook(t, env, "pull_request", tt.signature, payload)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}

	// A rejected delivery enqueues nothing
	pending, err := env.jobs.ListByStatus(context.Background(), models.JobPending, 10)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending jobs = %d, want 0", len(pending))
	}
}

func TestHandleGitHubAcceptsSignedPullRequest(t *testing.T) {
	env := newWebhookTestEnv(t)
	ctx := context.Background()
	payload := openedPRPayload(t, "acme/web", 5)

	rec := postWebhook(t, env, "pull_request", sign(payload, testWebhookSecret), payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("status = %q, want accepted", resp["status"])
	}
	if resp["action"] != string(github.ActionCreatePreview) {
		t.Errorf("action = %q, want %q", resp["action"], github.ActionCreatePreview)
	}

	pending, err := env.jobs.ListByStatus(ctx, models.JobPending, 10)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != models.JobCreatePreview {
		t.Fatalf("pending jobs = %d, want one create-preview job", len(pending))
	}

	// The raw delivery is stored
	var stored int
	if err := env.db.Get(&stored, `SELECT COUNT(*) FROM webhook_events`); err != nil {
		t.Fatalf("failed to count webhook events: %v", err)
	}
	if stored != 1 {
		t.Errorf("stored deliveries = %d, want 1", stored)
	}
}

func TestHandleGitHubIgnoresOtherEvents(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := []byte(`{"zen":"Keep it logically awesome."}`)

	rec := postWebhook(t, env, "ping", sign(payload, testWebhookSecret), payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Errorf("status = %q, want ignored", resp["status"])
	}

	pending, err := env.jobs.ListByStatus(context.Background(), models.JobPending, 10)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending jobs = %d, want 0", len(pending))
	}
}
