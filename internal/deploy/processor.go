package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"opshub/internal/audit"
	"opshub/internal/config"
	"opshub/internal/crypto"
	"opshub/internal/database/queries"
	"opshub/internal/github"
	"opshub/internal/health"
	"opshub/internal/metrics"
	"opshub/internal/models"
	"opshub/internal/provider"
	"opshub/internal/queue"
)

// Processor executes preview lifecycle jobs. Application-level failures
// (missing config, provider rejections that cannot be retried away) are
// recorded as ERROR events and the job completes; only infrastructure
// errors propagate so the queue retries them.
type Processor struct {
	projects    *queries.ProjectQueries
	deployments *queries.DeploymentQueries
	envs        *queries.EnvQueries
	emitter     *Emitter
	registry    *provider.Registry
	encryptor   *crypto.Encryptor
	queue       *queue.Queue
	health      *health.Service
	github      *github.Client
	auditor     *audit.Recorder
	features    config.FeatureFlags
	logger      *slog.Logger
}

// NewProcessor creates a Processor
func NewProcessor(
	projects *queries.ProjectQueries,
	deployments *queries.DeploymentQueries,
	envs *queries.EnvQueries,
	emitter *Emitter,
	registry *provider.Registry,
	encryptor *crypto.Encryptor,
	q *queue.Queue,
	healthSvc *health.Service,
	gh *github.Client,
	auditor *audit.Recorder,
	features config.FeatureFlags,
) *Processor {
	return &Processor{
		projects:    projects,
		deployments: deployments,
		envs:        envs,
		emitter:     emitter,
		registry:    registry,
		encryptor:   encryptor,
		queue:       q,
		health:      healthSvc,
		github:      gh,
		auditor:     auditor,
		features:    features,
		logger:      slog.Default().With("component", "deploy"),
	}
}

// DispatchWebhook resolves a pull request event into lifecycle jobs.
// Accepted events get a CREATE_REQUESTED or TEARDOWN_REQUESTED event and
// a queued job sharing the same attempt ID; everything else is ignored.
func (p *Processor) DispatchWebhook(ctx context.Context, event *github.PullRequestEvent) (github.WebhookAction, error) {
	action := event.ResolveAction()
	metrics.WebhooksReceived.WithLabelValues(string(action)).Inc()

	if action == github.ActionIgnore {
		p.logger.Debug("ignoring webhook",
			"repo", event.Repository.FullName,
			"action", event.Action,
			"pr", event.Number)
		return action, nil
	}

	project, err := p.projects.GetByRepoFullName(ctx, event.Repository.FullName)
	if err != nil {
		return action, err
	}
	if project == nil {
		p.logger.Debug("webhook for unregistered repository",
			"repo", event.Repository.FullName, "pr", event.Number)
		return github.ActionIgnore, nil
	}

	attemptID := NewAttemptID()
	branch := event.PullRequest.Head.Ref

	switch action {
	case github.ActionCreatePreview:
		p.emitter.Emit(ctx, EventInput{
			ProjectID: project.ID,
			PRNumber:  event.Number,
			Branch:    branch,
			AttemptID: attemptID,
			Stage:     models.StageCreateRequested,
		})
		_, err = p.queue.Enqueue(ctx, models.JobCreatePreview, models.CreatePreviewPayload{
			ProjectID: project.ID,
			PRNumber:  event.Number,
			Branch:    branch,
			AttemptID: attemptID,
		})
	case github.ActionTearDownPreview:
		p.emitter.Emit(ctx, EventInput{
			ProjectID: project.ID,
			PRNumber:  event.Number,
			Branch:    branch,
			AttemptID: attemptID,
			Stage:     models.StageTeardownRequested,
		})
		_, err = p.queue.Enqueue(ctx, models.JobTearDownPreview, models.TearDownPreviewPayload{
			ProjectID: project.ID,
			PRNumber:  event.Number,
			AttemptID: attemptID,
		})
	}
	if err != nil {
		return action, fmt.Errorf("failed to enqueue %s: %w", action, err)
	}

	p.logger.Info("webhook dispatched",
		"project", project.Name, "pr", event.Number, "action", action)
	return action, nil
}

// HandleCreatePreview builds the preview environment for one pull request
func (p *Processor) HandleCreatePreview(ctx context.Context, payload []byte) error {
	var job models.CreatePreviewPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		p.logger.Error("malformed create-preview payload", "error", err)
		return nil
	}

	project, err := p.projects.GetByID(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		p.logger.Warn("create-preview for unknown project", "project_id", job.ProjectID)
		return nil
	}

	attemptID := job.AttemptID
	if attemptID == "" {
		attemptID = NewAttemptID()
	}
	attemptStartedAt := time.Now().UTC()

	dep, err := p.deployments.Upsert(ctx, job.ProjectID, job.PRNumber, job.Branch, attemptID, attemptStartedAt)
	if err != nil {
		return err
	}
	if dep == nil || !dep.AttemptID.Valid || dep.AttemptID.String != attemptID {
		p.logger.Info("superseded by newer attempt, skipping",
			"project", project.Name, "pr", job.PRNumber, "attempt_id", attemptID)
		return nil
	}

	cfg, err := p.projects.GetProviderConfig(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	kind := models.ProviderMock
	if cfg != nil {
		kind = cfg.Provider
	}
	if p.features.UseMockProvider || p.features.DemoMode {
		kind = models.ProviderMock
	}

	p.emitter.Emit(ctx, EventInput{
		ProjectID: job.ProjectID,
		PRNumber:  job.PRNumber,
		Branch:    job.Branch,
		Provider:  kind,
		AttemptID: attemptID,
		Stage:     models.StageCreateStarted,
	})

	if cfg == nil && !p.features.UseMockProvider && !p.features.DemoMode {
		p.failAttempt(ctx, &job, attemptID, kind, models.ReasonMissingProviderConfig,
			"no provider configured for project", 0, 0)
		return nil
	}

	prov, err := p.registry.Get(kind)
	if err != nil {
		p.failAttempt(ctx, &job, attemptID, kind, models.ReasonMissingProviderConfig,
			err.Error(), 0, 0)
		return nil
	}

	if err := p.deployments.SetStatusForAttempt(ctx, job.ProjectID, job.PRNumber, attemptID, models.DeploymentBuilding); err != nil {
		return err
	}
	p.emitter.Emit(ctx, EventInput{
		ProjectID: job.ProjectID,
		PRNumber:  job.PRNumber,
		Branch:    job.Branch,
		Provider:  kind,
		AttemptID: attemptID,
		Stage:     models.StageProviderBuilding,
	})

	input := provider.CreatePreviewInput{
		ProjectSlug:  project.Name,
		RepoFullName: project.RepoFullName,
		RepoURL:      fmt.Sprintf("https://github.com/%s.git", project.RepoFullName),
		Branch:       job.Branch,
		PRNumber:     job.PRNumber,
		Env:          p.previewEnv(ctx, job.ProjectID),
	}
	if cfg != nil {
		if cfg.ProviderToken.Valid {
			token, derr := p.encryptor.Decrypt(cfg.ProviderToken.String)
			if derr != nil {
				p.logger.Warn("failed to decrypt provider token",
					"project", project.Name, "error", derr)
			} else {
				input.Credentials = token
			}
		}
		if cfg.ProviderProjectID.Valid {
			settings, _ := json.Marshal(map[string]string{
				"projectName": cfg.ProviderProjectID.String,
			})
			input.Settings = settings
		}
	}

	buildStart := time.Now()
	result, err := prov.CreatePreview(ctx, input)
	durationMs := time.Since(buildStart).Milliseconds()

	if err != nil {
		// Provider rejections are terminal for the attempt: the failure
		// is already recorded, so the job must not be redelivered.
		reason, statusCode := ClassifyError(err)
		p.failAttempt(ctx, &job, attemptID, kind, reason, err.Error(), statusCode, durationMs)
		return nil
	}

	var metadata []byte
	if result.Metadata != nil {
		metadata, _ = json.Marshal(result.Metadata)
	}
	if err := p.deployments.MarkReady(ctx, job.ProjectID, job.PRNumber, attemptID,
		result.DeploymentID, result.URL, metadata); err != nil {
		return err
	}

	p.emitter.Emit(ctx, EventInput{
		ProjectID:  job.ProjectID,
		PRNumber:   job.PRNumber,
		Branch:     job.Branch,
		Provider:   kind,
		AttemptID:  attemptID,
		Stage:      models.StageReady,
		DurationMs: durationMs,
		Metadata:   result.Metadata,
	})
	metrics.DeploysTotal.WithLabelValues("ready").Inc()
	metrics.DeployDuration.Observe(float64(durationMs) / 1000)

	p.logger.Info("preview ready",
		"project", project.Name, "pr", job.PRNumber,
		"url", result.URL, "duration_ms", durationMs)

	if _, herr := p.health.CreateForPreview(ctx, job.ProjectID, job.PRNumber, result.URL); herr != nil {
		p.logger.Warn("failed to register preview health check",
			"project", project.Name, "pr", job.PRNumber, "error", herr)
	}
	p.notify(ctx, job.ProjectID, fmt.Sprintf("Preview for %s PR #%d is ready: %s",
		project.Name, job.PRNumber, result.URL), "success")
	p.commentPreviewURL(ctx, project, job.PRNumber, result.URL)
	p.auditor.Record(ctx, audit.SystemActor, job.ProjectID, "preview.created", map[string]any{
		"pr_number":  job.PRNumber,
		"branch":     job.Branch,
		"provider":   kind,
		"url":        result.URL,
		"attempt_id": attemptID,
	})
	return nil
}

// HandleTearDownPreview destroys the preview environment for a closed PR.
// Teardown is idempotent and converges: provider errors are logged and the
// row still ends up DESTROYED.
func (p *Processor) HandleTearDownPreview(ctx context.Context, payload []byte) error {
	var job models.TearDownPreviewPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		p.logger.Error("malformed tear-down-preview payload", "error", err)
		return nil
	}

	project, err := p.projects.GetByID(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		p.logger.Warn("tear-down-preview for unknown project", "project_id", job.ProjectID)
		return nil
	}

	dep, err := p.deployments.GetByProjectAndPR(ctx, job.ProjectID, job.PRNumber)
	if err != nil {
		return err
	}
	if dep == nil || !dep.IsActive() {
		p.logger.Debug("nothing to tear down",
			"project", project.Name, "pr", job.PRNumber)
		return nil
	}

	attemptID := job.AttemptID
	if attemptID == "" {
		attemptID = NewAttemptID()
	}

	kind := models.ProviderMock
	if cfg, cerr := p.projects.GetProviderConfig(ctx, job.ProjectID); cerr != nil {
		return cerr
	} else if cfg != nil {
		kind = cfg.Provider
	}
	if p.features.UseMockProvider || p.features.DemoMode {
		kind = models.ProviderMock
	}

	if deploymentID := dep.GetProviderDeploymentID(); deploymentID != "" {
		if prov, perr := p.registry.Get(kind); perr != nil {
			p.logger.Warn("no provider for teardown, skipping destroy",
				"project", project.Name, "provider", kind, "error", perr)
		} else if derr := prov.DestroyPreview(ctx, deploymentID); derr != nil {
			reason, _ := ClassifyError(derr)
			p.logger.Warn("provider destroy failed",
				"project", project.Name, "pr", job.PRNumber,
				"reason", reason, "error", derr)
		}
	}

	if err := p.deployments.MarkDestroyed(ctx, job.ProjectID, job.PRNumber); err != nil {
		return err
	}
	if err := p.health.DisableForPreview(ctx, job.ProjectID, job.PRNumber); err != nil {
		p.logger.Warn("failed to disable preview health check",
			"project", project.Name, "pr", job.PRNumber, "error", err)
	}

	p.emitter.Emit(ctx, EventInput{
		ProjectID: job.ProjectID,
		PRNumber:  job.PRNumber,
		Branch:    dep.Branch,
		Provider:  kind,
		AttemptID: attemptID,
		Stage:     models.StageTeardownDone,
	})
	metrics.DeploysTotal.WithLabelValues("destroyed").Inc()

	p.logger.Info("preview destroyed", "project", project.Name, "pr", job.PRNumber)
	p.notify(ctx, job.ProjectID, fmt.Sprintf("Preview for %s PR #%d was torn down",
		project.Name, job.PRNumber), "info")
	p.auditor.Record(ctx, audit.SystemActor, job.ProjectID, "preview.destroyed", map[string]any{
		"pr_number":  job.PRNumber,
		"attempt_id": attemptID,
	})
	return nil
}

// failAttempt records a failed create attempt: ERROR event, ERROR status,
// failure metric and an error-level notification.
func (p *Processor) failAttempt(ctx context.Context, job *models.CreatePreviewPayload, attemptID string, kind models.ProviderKind, reason models.DeployErrorReason, message string, statusCode int, durationMs int64) {
	p.emitter.Emit(ctx, EventInput{
		ProjectID:  job.ProjectID,
		PRNumber:   job.PRNumber,
		Branch:     job.Branch,
		Provider:   kind,
		AttemptID:  attemptID,
		Stage:      models.StageError,
		Reason:     reason,
		Message:    message,
		StatusCode: statusCode,
		DurationMs: durationMs,
	})
	if err := p.deployments.SetStatusForAttempt(ctx, job.ProjectID, job.PRNumber, attemptID, models.DeploymentError); err != nil {
		p.logger.Error("failed to mark deployment errored",
			"project_id", job.ProjectID, "pr", job.PRNumber, "error", err)
	}
	metrics.DeploysTotal.WithLabelValues("error").Inc()
	p.notify(ctx, job.ProjectID, fmt.Sprintf("Preview for PR #%d failed: %s (%s)",
		job.PRNumber, Truncate(message), reason), "error")
	p.auditor.Record(ctx, audit.SystemActor, job.ProjectID, "preview.create_failed", map[string]any{
		"pr_number":  job.PRNumber,
		"branch":     job.Branch,
		"provider":   kind,
		"reason":     reason,
		"attempt_id": attemptID,
	})
}

// previewEnv resolves the decrypted PREVIEW environment variables for a
// project. Resolution is best effort; a missing environment or a bad
// ciphertext never blocks the deploy.
func (p *Processor) previewEnv(ctx context.Context, projectID string) map[string]string {
	env, err := p.envs.GetEnvironment(ctx, projectID, models.EnvPreview)
	if err != nil || env == nil {
		if err != nil {
			p.logger.Warn("failed to load preview environment", "project_id", projectID, "error", err)
		}
		return nil
	}

	vars, err := p.envs.LatestEnvVars(ctx, env.ID)
	if err != nil {
		p.logger.Warn("failed to load env vars", "project_id", projectID, "error", err)
		return nil
	}
	if len(vars) == 0 {
		return nil
	}

	resolved := make(map[string]string, len(vars))
	for _, v := range vars {
		value, derr := p.encryptor.Decrypt(v.ValueCiphertext)
		if derr != nil {
			p.logger.Warn("failed to decrypt env var", "key", v.Key, "error", derr)
			continue
		}
		resolved[v.Key] = value
	}
	return resolved
}

func (p *Processor) notify(ctx context.Context, projectID, message, level string) {
	if p.features.DisableNotifications {
		return
	}
	if _, err := p.queue.Enqueue(ctx, models.JobNotify, models.NotifyPayload{
		ProjectID: projectID,
		Message:   message,
		Level:     level,
	}); err != nil {
		p.logger.Warn("failed to enqueue notification", "project_id", projectID, "error", err)
	}
}

func (p *Processor) commentPreviewURL(ctx context.Context, project *models.Project, prNumber int, url string) {
	if p.github == nil || !p.github.HasToken() {
		return
	}
	body := fmt.Sprintf("🚀 Preview deployment is ready: %s", url)
	if err := p.github.CommentOnPR(ctx, project.RepoFullName, prNumber, body); err != nil {
		p.logger.Warn("failed to comment preview URL",
			"repo", project.RepoFullName, "pr", prNumber, "error", err)
	}
}
