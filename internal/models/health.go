package models

import (
	"database/sql"
	"fmt"
	"time"
)

// CheckStatus is the cached health state of a check
type CheckStatus string

const (
	CheckOK       CheckStatus = "OK"
	CheckDegraded CheckStatus = "DEGRADED"
)

// AlertType marks the direction of a health state transition
type AlertType string

const (
	AlertDegraded  AlertType = "DEGRADED"
	AlertRecovered AlertType = "RECOVERED"
)

// HealthCheck configures periodic probing of a URL
type HealthCheck struct {
	ID                string         `db:"id" json:"id"`
	ProjectID         string         `db:"project_id" json:"project_id"`
	EnvironmentID     sql.NullString `db:"environment_id" json:"environment_id,omitempty"`
	Name              string         `db:"name" json:"name"`
	URL               string         `db:"url" json:"url"`
	Method            string         `db:"method" json:"method"`
	Headers           NullRawMessage `db:"headers" json:"headers,omitempty"`
	ExpectedMin       int            `db:"expected_min" json:"expected_min"`
	ExpectedMax       int            `db:"expected_max" json:"expected_max"`
	ResponseContains  sql.NullString `db:"response_contains" json:"response_contains,omitempty"`
	IntervalSec       int            `db:"interval_sec" json:"interval_sec"`
	TimeoutMs         int            `db:"timeout_ms" json:"timeout_ms"`
	FailureThreshold  int            `db:"failure_threshold" json:"failure_threshold"`
	RecoveryThreshold int            `db:"recovery_threshold" json:"recovery_threshold"`
	AlertCooldownMin  int            `db:"alert_cooldown_min" json:"alert_cooldown_min"`
	Enabled           bool           `db:"enabled" json:"enabled"`
	LastStatus        sql.NullString `db:"last_status" json:"last_status,omitempty"`
	LastLatencyMs     sql.NullInt64  `db:"last_latency_ms" json:"last_latency_ms,omitempty"`
	LastCheckedAt     sql.NullTime   `db:"last_checked_at" json:"last_checked_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// GetLastStatus returns the cached status, or empty when never probed
func (h *HealthCheck) GetLastStatus() CheckStatus {
	if h.LastStatus.Valid {
		return CheckStatus(h.LastStatus.String)
	}
	return ""
}

// Interval returns the probe period as a duration
func (h *HealthCheck) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

// Timeout returns the per-probe timeout as a duration
func (h *HealthCheck) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// PreviewCheckName is the well-known name of the auto-created check for a PR
func PreviewCheckName(prNumber int) string {
	return fmt.Sprintf("Preview PR #%d", prNumber)
}

// HealthSample is one append-only probe result
type HealthSample struct {
	ID            int64          `db:"id" json:"id"`
	HealthCheckID string         `db:"health_check_id" json:"health_check_id"`
	OK            bool           `db:"ok" json:"ok"`
	StatusCode    sql.NullInt64  `db:"status_code" json:"status_code,omitempty"`
	LatencyMs     int64          `db:"latency_ms" json:"latency_ms"`
	Error         sql.NullString `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// AlertEvent records a DEGRADED/RECOVERED transition that passed both alert gates
type AlertEvent struct {
	ID            int64     `db:"id" json:"id"`
	HealthCheckID string    `db:"health_check_id" json:"health_check_id"`
	Type          AlertType `db:"type" json:"type"`
	Message       string    `db:"message" json:"message"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
