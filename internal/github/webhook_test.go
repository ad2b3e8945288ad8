package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"action":"opened"}`)
	secret := "hook-secret"

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid", sign(payload, secret), true},
		{"wrong secret", sign(payload, "other-secret"), false},
		{"missing prefix", hex.EncodeToString([]byte("x")), false},
		{"empty", "", false},
		{"garbage", "sha256=zzzz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(payload, tt.signature, secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveAction(t *testing.T) {
	tests := []struct {
		name   string
		action string
		merged bool
		state  string
		want   WebhookAction
	}{
		{"opened", "opened", false, "open", ActionCreatePreview},
		{"reopened", "reopened", false, "open", ActionCreatePreview},
		{"synchronize", "synchronize", false, "open", ActionCreatePreview},
		{"closed merged", "closed", true, "closed", ActionTearDownPreview},
		{"closed unmerged", "closed", false, "closed", ActionTearDownPreview},
		{"labeled", "labeled", false, "open", ActionIgnore},
		{"assigned", "assigned", false, "open", ActionIgnore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &PullRequestEvent{Action: tt.action}
			e.PullRequest.Merged = tt.merged
			e.PullRequest.State = tt.state

			if got := e.ResolveAction(); got != tt.want {
				t.Errorf("ResolveAction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePullRequestEvent(t *testing.T) {
	payload := []byte(`{
		"action": "opened",
		"pull_request": {
			"number": 42,
			"state": "open",
			"merged": false,
			"head": {"ref": "feature/login", "sha": "abc123"}
		},
		"repository": {"full_name": "acme/web", "clone_url": "https://github.com/acme/web.git"}
	}`)

	event, err := ParsePullRequestEvent(payload)
	if err != nil {
		t.Fatalf("ParsePullRequestEvent() error = %v", err)
	}

	if event.Number != 42 {
		t.Errorf("Number = %d, want 42 (filled from pull_request)", event.Number)
	}
	if event.PullRequest.Head.Ref != "feature/login" {
		t.Errorf("Head.Ref = %q, want feature/login", event.PullRequest.Head.Ref)
	}
	if event.Repository.FullName != "acme/web" {
		t.Errorf("Repository.FullName = %q, want acme/web", event.Repository.FullName)
	}
}

func TestParsePullRequestEventInvalid(t *testing.T) {
	if _, err := ParsePullRequestEvent([]byte("not json")); err == nil {
		t.Error("expected error for invalid payload")
	}
}
