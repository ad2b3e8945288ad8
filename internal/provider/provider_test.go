package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"opshub/internal/models"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "timeout",
			err:  NewTimeoutError("deploy exceeded deadline"),
			want: "provider timeout: deploy exceeded deadline",
		},
		{
			name: "status code",
			err:  NewStatusError(502, "bad gateway"),
			want: "provider error (status 502): bad gateway",
		},
		{
			name: "plain",
			err:  NewStatusError(0, "something broke"),
			want: "provider error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	mock := NewMockProvider()
	r := NewRegistry(mock)

	p, err := r.Get(models.ProviderMock)
	if err != nil {
		t.Fatalf("Get(mock) error = %v", err)
	}
	if p.Kind() != models.ProviderMock {
		t.Errorf("Kind() = %v, want mock", p.Kind())
	}

	if _, err := r.Get(models.ProviderHosted); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestMockProviderCreatePreview(t *testing.T) {
	p := NewMockProvider()
	p.Latency = 10 * time.Millisecond

	result, err := p.CreatePreview(context.Background(), CreatePreviewInput{
		ProjectSlug:  "acme/web",
		RepoFullName: "acme/web",
		Branch:       "feature/login",
		PRNumber:     42,
	})
	if err != nil {
		t.Fatalf("CreatePreview() error = %v", err)
	}

	if result.DeploymentID == "" {
		t.Error("expected non-empty deployment ID")
	}
	if !strings.HasPrefix(result.DeploymentID, "mock_") {
		t.Errorf("DeploymentID = %q, want mock_ prefix", result.DeploymentID)
	}
	if !strings.Contains(result.URL, "pr-42") {
		t.Errorf("URL = %q, want PR number in URL", result.URL)
	}
	if result.Metadata["simulated"] != true {
		t.Error("expected simulated metadata flag")
	}
}

func TestMockProviderFailure(t *testing.T) {
	p := NewMockProvider()
	p.Latency = time.Millisecond
	p.FailWith = NewStatusError(500, "synthetic failure")

	_, err := p.CreatePreview(context.Background(), CreatePreviewInput{PRNumber: 1})
	if err == nil {
		t.Fatal("expected error")
	}

	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if provErr.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", provErr.StatusCode)
	}
}

func TestMockProviderCancellation(t *testing.T) {
	p := NewMockProvider()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.CreatePreview(ctx, CreatePreviewInput{PRNumber: 1})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}

	var provErr *Error
	if !errors.As(err, &provErr) || !provErr.Timeout {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestHostedProviderCreatePreview(t *testing.T) {
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v13/deployments":
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok-123" {
				t.Errorf("Authorization = %q, want Bearer tok-123", auth)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode request body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id":         "dpl_1",
				"readyState": "QUEUED",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v13/deployments/dpl_1":
			n := polls.Add(1)
			state := "BUILDING"
			if n >= 2 {
				state = "READY"
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id":         "dpl_1",
				"url":        "acme-pr42.example.app",
				"readyState": state,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHostedProvider(srv.URL)
	p.pollBase = time.Millisecond

	result, err := p.CreatePreview(context.Background(), CreatePreviewInput{
		ProjectSlug:  "acme/web",
		RepoFullName: "acme/web",
		Branch:       "feature/login",
		PRNumber:     42,
		Credentials:  "tok-123",
	})
	if err != nil {
		t.Fatalf("CreatePreview() error = %v", err)
	}

	if result.DeploymentID != "dpl_1" {
		t.Errorf("DeploymentID = %q, want dpl_1", result.DeploymentID)
	}
	if result.URL != "https://acme-pr42.example.app" {
		t.Errorf("URL = %q, want https scheme added", result.URL)
	}
}

func TestHostedProviderBuildError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"id": "dpl_2", "readyState": "QUEUED"})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id":         "dpl_2",
				"readyState": "ERROR",
				"error":      map[string]string{"message": "build step failed"},
			})
		}
	}))
	defer srv.Close()

	p := NewHostedProvider(srv.URL)
	p.pollBase = time.Millisecond

	_, err := p.CreatePreview(context.Background(), CreatePreviewInput{ProjectSlug: "acme/web"})
	if err == nil {
		t.Fatal("expected error")
	}

	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(provErr.Message, "build step failed") {
		t.Errorf("Message = %q, want upstream error message", provErr.Message)
	}
}

func TestHostedProviderUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHostedProvider(srv.URL)

	_, err := p.CreatePreview(context.Background(), CreatePreviewInput{ProjectSlug: "acme/web"})
	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", provErr.StatusCode)
	}
}

func TestHostedProviderDestroyMissingDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHostedProvider(srv.URL)

	if err := p.DestroyPreview(context.Background(), "dpl_gone"); err != nil {
		t.Errorf("DestroyPreview() on missing deployment should be nil, got %v", err)
	}
}
