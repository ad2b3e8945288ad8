package models

import (
	"database/sql"
	"time"
)

// DailyDeployStat is the per-(project, UTC day) rollup of deploy events.
// Recomputing a day upserts the same row.
type DailyDeployStat struct {
	ProjectID      string         `db:"project_id" json:"project_id"`
	Day            time.Time      `db:"day" json:"day"`
	CreateAttempts int            `db:"create_attempts" json:"create_attempts"`
	CreateSuccess  int            `db:"create_success" json:"create_success"`
	CreateError    int            `db:"create_error" json:"create_error"`
	SuccessRate    float64        `db:"success_rate" json:"success_rate"`
	P50CreateMs    sql.NullInt64  `db:"p50_create_ms" json:"p50_create_ms,omitempty"`
	P95CreateMs    sql.NullInt64  `db:"p95_create_ms" json:"p95_create_ms,omitempty"`
	P99CreateMs    sql.NullInt64  `db:"p99_create_ms" json:"p99_create_ms,omitempty"`
	MeanCreateMs   sql.NullInt64  `db:"mean_create_ms" json:"mean_create_ms,omitempty"`
	ErrorByReason  NullRawMessage `db:"error_by_reason" json:"error_by_reason,omitempty"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
