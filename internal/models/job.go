package models

import (
	"database/sql"
	"time"
)

// JobKind identifies the handler for a queued job
type JobKind string

const (
	JobCreatePreview   JobKind = "create-preview"
	JobTearDownPreview JobKind = "tear-down-preview"
	JobHealthProbe     JobKind = "health-probe"
	JobNotify          JobKind = "notify"
	JobDailyRollup     JobKind = "daily-rollup"
)

// JobStatus is the queue state of a job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobDead      JobStatus = "dead"
)

// Job is one durable queue entry. Delivery is at-least-once; handlers
// must tolerate duplicate and concurrent invocations.
type Job struct {
	ID            string         `db:"id" json:"id"`
	Kind          JobKind        `db:"kind" json:"kind"`
	Payload       []byte         `db:"payload" json:"payload"`
	Status        JobStatus      `db:"status" json:"status"`
	Attempts      int            `db:"attempts" json:"attempts"`
	MaxAttempts   int            `db:"max_attempts" json:"max_attempts"`
	BackoffBaseMs int64          `db:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffMaxMs  int64          `db:"backoff_max_ms" json:"backoff_max_ms"`
	LastError     sql.NullString `db:"last_error" json:"last_error,omitempty"`
	NextRunAt     time.Time      `db:"next_run_at" json:"next_run_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// ProbeSchedule is the repeatable registration of a health probe,
// unique per health check so re-registration replaces instead of duplicating.
type ProbeSchedule struct {
	HealthCheckID string    `db:"health_check_id" json:"health_check_id"`
	ProjectID     string    `db:"project_id" json:"project_id"`
	IntervalSec   int       `db:"interval_sec" json:"interval_sec"`
	NextDueAt     time.Time `db:"next_due_at" json:"next_due_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CreatePreviewPayload is the payload of a create-preview job. AttemptID
// carries the correlation ID minted at webhook receipt so the whole
// lifecycle shares one event trail.
type CreatePreviewPayload struct {
	ProjectID string `json:"projectId"`
	PRNumber  int    `json:"prNumber"`
	Branch    string `json:"branch"`
	AttemptID string `json:"attemptId,omitempty"`
}

// TearDownPreviewPayload is the payload of a tear-down-preview job
type TearDownPreviewPayload struct {
	ProjectID string `json:"projectId"`
	PRNumber  int    `json:"prNumber"`
	AttemptID string `json:"attemptId,omitempty"`
}

// HealthProbePayload is the payload of a health-probe job. Immediate marks a
// one-off manual run that bypasses (and does not disturb) the schedule.
type HealthProbePayload struct {
	HealthCheckID string `json:"healthCheckId"`
	ProjectID     string `json:"projectId"`
	Immediate     bool   `json:"immediate,omitempty"`
}

// NotifyPayload is the payload of a notify job
type NotifyPayload struct {
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

// DailyRollupPayload is the payload of a daily-rollup job
type DailyRollupPayload struct {
	ProjectID string    `json:"projectId"`
	Day       time.Time `json:"day"`
}
