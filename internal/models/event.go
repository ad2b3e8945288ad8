package models

import (
	"database/sql"
	"time"
)

// DeployStage is a named point in the deployment state machine
type DeployStage string

const (
	StageCreateRequested   DeployStage = "CREATE_REQUESTED"
	StageCreateStarted     DeployStage = "CREATE_STARTED"
	StageProviderBuilding  DeployStage = "PROVIDER_BUILDING"
	StageReady             DeployStage = "READY"
	StageError             DeployStage = "ERROR"
	StageTeardownRequested DeployStage = "TEARDOWN_REQUESTED"
	StageTeardownDone      DeployStage = "TEARDOWN_DONE"
)

// DeployErrorReason classifies a failed deployment attempt
type DeployErrorReason string

const (
	ReasonMissingProviderConfig DeployErrorReason = "MISSING_PROVIDER_CONFIG"
	ReasonProviderTimeout       DeployErrorReason = "PROVIDER_TIMEOUT"
	ReasonProviderError         DeployErrorReason = "PROVIDER_ERROR"
	ReasonWebhookIgnored        DeployErrorReason = "WEBHOOK_IGNORED"
	ReasonUnknown               DeployErrorReason = "UNKNOWN"
)

// DeployEvent is one append-only row of the per-attempt lifecycle log.
// Rows are never mutated after creation.
type DeployEvent struct {
	ID          int64          `db:"id" json:"id"`
	ProjectID   string         `db:"project_id" json:"project_id"`
	PRNumber    int            `db:"pr_number" json:"pr_number"`
	Branch      string         `db:"branch" json:"branch"`
	Provider    ProviderKind   `db:"provider" json:"provider"`
	AttemptID   string         `db:"attempt_id" json:"attempt_id"`
	Stage       DeployStage    `db:"stage" json:"stage"`
	ErrorReason sql.NullString `db:"error_reason" json:"error_reason,omitempty"`
	Message     sql.NullString `db:"message" json:"message,omitempty"`
	StatusCode  sql.NullInt64  `db:"status_code" json:"status_code,omitempty"`
	DurationMs  sql.NullInt64  `db:"duration_ms" json:"duration_ms,omitempty"`
	Metadata    NullRawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// GetErrorReason returns the classified reason, defaulting to UNKNOWN
func (e *DeployEvent) GetErrorReason() DeployErrorReason {
	if e.ErrorReason.Valid && e.ErrorReason.String != "" {
		return DeployErrorReason(e.ErrorReason.String)
	}
	return ReasonUnknown
}

// GetDurationMs returns the recorded duration or 0
func (e *DeployEvent) GetDurationMs() int64 {
	if e.DurationMs.Valid {
		return e.DurationMs.Int64
	}
	return 0
}

// WebhookEvent stores a raw inbound webhook before processing
type WebhookEvent struct {
	ID        int64     `db:"id" json:"id"`
	Provider  string    `db:"provider" json:"provider"`
	EventType string    `db:"event_type" json:"event_type"`
	Payload   []byte    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditLog is one append-only audit trail row
type AuditLog struct {
	ID        int64          `db:"id" json:"id"`
	Actor     string         `db:"actor" json:"actor"`
	ProjectID sql.NullString `db:"project_id" json:"project_id,omitempty"`
	Action    string         `db:"action" json:"action"`
	Metadata  NullRawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
