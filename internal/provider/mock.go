package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"opshub/internal/models"
)

// MockProvider simulates a hosting backend for demos and tests. It sleeps
// for a short synthetic build time and returns a fabricated URL.
type MockProvider struct {
	logger *slog.Logger

	// FailWith, when set, makes every CreatePreview call return this error
	FailWith error
	// Latency overrides the synthetic build time when non-zero
	Latency time.Duration
}

// NewMockProvider creates a mock backend
func NewMockProvider() *MockProvider {
	return &MockProvider{
		logger: slog.Default().With("provider", "mock"),
	}
}

// Kind returns the provider kind
func (p *MockProvider) Kind() models.ProviderKind {
	return models.ProviderMock
}

// CreatePreview simulates a deploy with 200-400ms of synthetic build time
func (p *MockProvider) CreatePreview(ctx context.Context, input CreatePreviewInput) (*CreatePreviewResult, error) {
	latency := p.Latency
	if latency == 0 {
		latency = time.Duration(200+rand.Intn(200)) * time.Millisecond
	}

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, NewTimeoutError("mock deploy cancelled")
	}

	if p.FailWith != nil {
		return nil, p.FailWith
	}

	deploymentID := fmt.Sprintf("mock_%s", uuid.New().String()[:8])
	slug := strings.ToLower(strings.ReplaceAll(input.ProjectSlug, "/", "-"))
	url := fmt.Sprintf("https://%s-pr-%d.preview.opshub.dev", slug, input.PRNumber)

	p.logger.Info("mock preview created",
		"deployment_id", deploymentID,
		"url", url,
		"branch", input.Branch)

	return &CreatePreviewResult{
		DeploymentID: deploymentID,
		URL:          url,
		Metadata: map[string]any{
			"simulated":     true,
			"build_time_ms": latency.Milliseconds(),
			"branch":        input.Branch,
		},
	}, nil
}

// DestroyPreview simulates a teardown
func (p *MockProvider) DestroyPreview(ctx context.Context, deploymentID string) error {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info("mock preview destroyed", "deployment_id", deploymentID)
	return nil
}
