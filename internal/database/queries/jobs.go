package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// JobQueries provides database operations for the durable job queue
type JobQueries struct {
	db *sqlx.DB
}

// NewJobQueries creates a new JobQueries instance
func NewJobQueries(db *sqlx.DB) *JobQueries {
	return &JobQueries{db: db}
}

// Insert enqueues a new job
func (q *JobQueries) Insert(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts,
			backoff_base_ms, backoff_max_ms, next_run_at, created_at, updated_at)
		VALUES (:id, :kind, :payload, :status, :attempts, :max_attempts,
			:backoff_base_ms, :backoff_max_ms, :next_run_at, :created_at, :updated_at)`

	_, err := q.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest due pending job. Returns nil
// when nothing is due.
func (q *JobQueries) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	var job models.Job

	query := `SELECT * FROM jobs
		WHERE status = 'pending' AND next_run_at <= ?
		ORDER BY next_run_at ASC LIMIT 1`

	err := q.db.GetContext(ctx, &job, query, now)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find due job: %w", err)
	}

	// The conditional update is the claim; with concurrent workers only
	// one of them flips the row out of pending.
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'`, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check claim: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	job.Status = models.JobRunning
	job.Attempts++
	return &job, nil
}

// MarkSucceeded finishes a job successfully
func (q *JobQueries) MarkSucceeded(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'succeeded', last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	return nil
}

// Reschedule puts a failed job back to pending with a future run time
func (q *JobQueries) Reschedule(ctx context.Context, id, lastError string, nextRunAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', last_error = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, lastError, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// MarkDead parks a job that exhausted its attempts
func (q *JobQueries) MarkDead(ctx context.Context, id, lastError string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID
func (q *JobQueries) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := q.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListByStatus lists jobs in a given status, newest first
func (q *JobQueries) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := q.db.SelectContext(ctx, &jobs, `
		SELECT * FROM jobs WHERE status = ? ORDER BY updated_at DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status
func (q *JobQueries) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows := []struct {
		Status models.JobStatus `db:"status"`
		Count  int              `db:"count"`
	}{}

	err := q.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// UpsertProbeSchedule registers a repeatable probe, replacing any existing
// registration for the same health check
func (q *JobQueries) UpsertProbeSchedule(ctx context.Context, schedule *models.ProbeSchedule) error {
	query := `
		INSERT INTO probe_schedules (health_check_id, project_id, interval_sec, next_due_at, created_at)
		VALUES (:health_check_id, :project_id, :interval_sec, :next_due_at, :created_at)
		ON CONFLICT(health_check_id) DO UPDATE SET
			project_id = excluded.project_id,
			interval_sec = excluded.interval_sec,
			next_due_at = excluded.next_due_at`

	_, err := q.db.NamedExecContext(ctx, query, schedule)
	if err != nil {
		return fmt.Errorf("failed to upsert probe schedule: %w", err)
	}
	return nil
}

// DeleteProbeSchedule removes a probe registration
func (q *JobQueries) DeleteProbeSchedule(ctx context.Context, healthCheckID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM probe_schedules WHERE health_check_id = ?`, healthCheckID)
	if err != nil {
		return fmt.Errorf("failed to delete probe schedule: %w", err)
	}
	return nil
}

// DueProbeSchedules lists probe registrations that are due to fire
func (q *JobQueries) DueProbeSchedules(ctx context.Context, now time.Time) ([]models.ProbeSchedule, error) {
	var schedules []models.ProbeSchedule
	err := q.db.SelectContext(ctx, &schedules, `
		SELECT * FROM probe_schedules WHERE next_due_at <= ? ORDER BY next_due_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due probe schedules: %w", err)
	}
	return schedules, nil
}

// AdvanceProbeSchedule moves a registration's next due time forward
func (q *JobQueries) AdvanceProbeSchedule(ctx context.Context, healthCheckID string, nextDueAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE probe_schedules SET next_due_at = ? WHERE health_check_id = ?`, nextDueAt, healthCheckID)
	if err != nil {
		return fmt.Errorf("failed to advance probe schedule: %w", err)
	}
	return nil
}
