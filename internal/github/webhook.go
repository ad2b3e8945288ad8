package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// WebhookAction is the control-plane action a webhook delivery resolves to
type WebhookAction string

const (
	ActionCreatePreview   WebhookAction = "create-preview"
	ActionTearDownPreview WebhookAction = "tear-down-preview"
	ActionIgnore          WebhookAction = "ignore"
)

// PullRequestEvent is the subset of the pull_request webhook payload the
// control plane reads
type PullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int    `json:"number"`
		State  string `json:"state"`
		Merged bool   `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

// ParsePullRequestEvent decodes a pull_request webhook payload
func ParsePullRequestEvent(payload []byte) (*PullRequestEvent, error) {
	var event PullRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse pull_request event: %w", err)
	}
	if event.Number == 0 {
		event.Number = event.PullRequest.Number
	}
	return &event, nil
}

// ResolveAction maps a pull request lifecycle action to the control-plane
// action. New or refreshed PRs create previews; a closed PR tears its
// preview down whether it merged or not. Everything else is ignored.
func (e *PullRequestEvent) ResolveAction() WebhookAction {
	switch e.Action {
	case "opened", "reopened", "synchronize":
		return ActionCreatePreview
	case "closed":
		if e.PullRequest.Merged || e.PullRequest.State == "closed" {
			return ActionTearDownPreview
		}
		return ActionIgnore
	default:
		return ActionIgnore
	}
}

// VerifySignature checks a GitHub webhook HMAC-SHA256 signature
// ("sha256=<hex>" from the X-Hub-Signature-256 header)
func VerifySignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
