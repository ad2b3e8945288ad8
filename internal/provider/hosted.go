package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opshub/internal/models"
)

const (
	hostedMaxPollAttempts = 30
	hostedBasePollDelay   = time.Second
	hostedMaxPollDelay    = 5 * time.Second
)

// HostedProvider drives a remote hosting API: it submits a deployment,
// polls until the build settles, and deletes deployments on teardown.
type HostedProvider struct {
	apiBase   string
	client    *http.Client
	logger    *slog.Logger
	pollBase  time.Duration
	pollMax   time.Duration
	pollLimit int
}

// hostedSettings are the provider config settings the hosted backend understands
type hostedSettings struct {
	ProjectName string `json:"projectName"`
	TeamID      string `json:"teamId,omitempty"`
}

// NewHostedProvider creates a hosted backend against the given API base URL
func NewHostedProvider(apiBase string) *HostedProvider {
	return &HostedProvider{
		apiBase:   apiBase,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default().With("provider", "hosted"),
		pollBase:  hostedBasePollDelay,
		pollMax:   hostedMaxPollDelay,
		pollLimit: hostedMaxPollAttempts,
	}
}

// Kind returns the provider kind
func (p *HostedProvider) Kind() models.ProviderKind {
	return models.ProviderHosted
}

// CreatePreview submits a deployment and polls until it is ready
func (p *HostedProvider) CreatePreview(ctx context.Context, input CreatePreviewInput) (*CreatePreviewResult, error) {
	var settings hostedSettings
	if len(input.Settings) > 0 {
		if err := json.Unmarshal(input.Settings, &settings); err != nil {
			return nil, fmt.Errorf("invalid hosted provider settings: %w", err)
		}
	}
	if settings.ProjectName == "" {
		settings.ProjectName = input.ProjectSlug
	}

	env := make([]map[string]string, 0, len(input.Env))
	for k, v := range input.Env {
		env = append(env, map[string]string{"key": k, "value": v})
	}

	body := map[string]any{
		"name":   settings.ProjectName,
		"target": "preview",
		"gitSource": map[string]any{
			"type": "github",
			"repo": input.RepoFullName,
			"ref":  input.Branch,
		},
		"env": env,
	}
	if settings.TeamID != "" {
		body["teamId"] = settings.TeamID
	}

	var created struct {
		ID    string `json:"id"`
		URL   string `json:"url"`
		State string `json:"readyState"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/v13/deployments", input.Credentials, body, &created); err != nil {
		return nil, err
	}

	p.logger.Info("deployment submitted", "deployment_id", created.ID, "state", created.State)

	final, err := p.pollUntilSettled(ctx, created.ID, input.Credentials)
	if err != nil {
		return nil, err
	}

	previewURL := final.URL
	if previewURL != "" && !hasScheme(previewURL) {
		previewURL = "https://" + previewURL
	}

	return &CreatePreviewResult{
		DeploymentID: final.ID,
		URL:          previewURL,
		Metadata: map[string]any{
			"readyState": final.State,
			"target":     "preview",
		},
	}, nil
}

type hostedDeployment struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	State string `json:"readyState"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// pollUntilSettled polls a deployment with growing delays until it reaches
// a terminal state or the attempt budget runs out
func (p *HostedProvider) pollUntilSettled(ctx context.Context, deploymentID, credentials string) (*hostedDeployment, error) {
	for attempt := 0; attempt < p.pollLimit; attempt++ {
		delay := p.pollBase
		for i := 0; i < attempt && delay < p.pollMax; i++ {
			delay = delay * 3 / 2
		}
		if delay > p.pollMax {
			delay = p.pollMax
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewTimeoutError("deployment polling cancelled")
		}

		var dep hostedDeployment
		if err := p.doJSON(ctx, http.MethodGet, "/v13/deployments/"+deploymentID, credentials, nil, &dep); err != nil {
			return nil, err
		}

		switch dep.State {
		case "READY":
			return &dep, nil
		case "ERROR", "CANCELED":
			msg := dep.Error.Message
			if msg == "" {
				msg = fmt.Sprintf("deployment ended in state %s", dep.State)
			}
			return nil, NewStatusError(0, msg)
		}

		p.logger.Debug("deployment still building",
			"deployment_id", deploymentID,
			"state", dep.State,
			"attempt", attempt+1)
	}

	return nil, NewTimeoutError(fmt.Sprintf("deployment %s did not become ready after %d polls", deploymentID, p.pollLimit))
}

// DestroyPreview deletes a deployment. A missing deployment is not an error.
func (p *HostedProvider) DestroyPreview(ctx context.Context, deploymentID string) error {
	err := p.doJSON(ctx, http.MethodDelete, "/v13/deployments/"+deploymentID, "", nil, nil)
	var provErr *Error
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound {
		p.logger.Warn("deployment already gone", "deployment_id", deploymentID)
		return nil
	}
	return err
}

// doJSON performs an HTTP request with JSON encoding and typed error mapping
func (p *HostedProvider) doJSON(ctx context.Context, method, path, credentials string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.apiBase+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credentials != "" {
		req.Header.Set("Authorization", "Bearer "+credentials)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return NewTimeoutError(fmt.Sprintf("%s %s timed out", method, path))
		}
		return NewStatusError(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NewStatusError(resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func hasScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
