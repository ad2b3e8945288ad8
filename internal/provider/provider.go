package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"opshub/internal/models"
)

// CreatePreviewInput holds everything a backend needs to stand up a preview
type CreatePreviewInput struct {
	ProjectSlug  string
	RepoFullName string
	RepoURL      string
	Branch       string
	PRNumber     int
	Env          map[string]string
	Settings     json.RawMessage
	Credentials  string
}

// CreatePreviewResult is returned by a successful preview creation
type CreatePreviewResult struct {
	DeploymentID string
	URL          string
	Metadata     map[string]any
}

// Provider abstracts a preview deployment backend
type Provider interface {
	Kind() models.ProviderKind
	CreatePreview(ctx context.Context, input CreatePreviewInput) (*CreatePreviewResult, error)
	DestroyPreview(ctx context.Context, deploymentID string) error
}

// Error is a typed provider failure. Callers inspect StatusCode and Timeout
// to classify the failure without parsing message strings.
type Error struct {
	StatusCode int
	Timeout    bool
	Message    string
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider timeout: %s", e.Message)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// NewTimeoutError creates a timeout Error
func NewTimeoutError(message string) *Error {
	return &Error{Timeout: true, Message: message}
}

// NewStatusError creates an Error for a failed upstream response
func NewStatusError(statusCode int, message string) *Error {
	return &Error{StatusCode: statusCode, Message: message}
}

// Registry resolves a backend by provider kind
type Registry struct {
	providers map[models.ProviderKind]Provider
}

// NewRegistry creates a registry from the given backends
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.ProviderKind]Provider)}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the backend for a kind, or an error if none is registered
func (r *Registry) Get(kind models.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for kind %q", kind)
	}
	return p, nil
}
