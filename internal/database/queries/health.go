package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// HealthQueries provides database operations for health checks, samples and alerts
type HealthQueries struct {
	db *sqlx.DB
}

// NewHealthQueries creates a new HealthQueries instance
func NewHealthQueries(db *sqlx.DB) *HealthQueries {
	return &HealthQueries{db: db}
}

// CreateCheck inserts a new health check
func (q *HealthQueries) CreateCheck(ctx context.Context, check *models.HealthCheck) error {
	query := `
		INSERT INTO health_checks (
			id, project_id, environment_id, name, url, method, headers,
			expected_min, expected_max, response_contains, interval_sec,
			timeout_ms, failure_threshold, recovery_threshold,
			alert_cooldown_min, enabled, created_at
		) VALUES (
			:id, :project_id, :environment_id, :name, :url, :method, :headers,
			:expected_min, :expected_max, :response_contains, :interval_sec,
			:timeout_ms, :failure_threshold, :recovery_threshold,
			:alert_cooldown_min, :enabled, :created_at
		)`

	_, err := q.db.NamedExecContext(ctx, query, check)
	if err != nil {
		return fmt.Errorf("failed to create health check: %w", err)
	}
	return nil
}

// GetCheck retrieves a health check by ID
func (q *HealthQueries) GetCheck(ctx context.Context, id string) (*models.HealthCheck, error) {
	var check models.HealthCheck
	query := `SELECT * FROM health_checks WHERE id = ?`

	err := q.db.GetContext(ctx, &check, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get health check: %w", err)
	}

	return &check, nil
}

// ListChecksByProject retrieves all health checks of a project, newest first
func (q *HealthQueries) ListChecksByProject(ctx context.Context, projectID string) ([]*models.HealthCheck, error) {
	var checks []*models.HealthCheck
	query := `SELECT * FROM health_checks WHERE project_id = ? ORDER BY created_at DESC`

	err := q.db.SelectContext(ctx, &checks, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list health checks: %w", err)
	}

	return checks, nil
}

// GetCheckByName retrieves a health check of a project by its name
func (q *HealthQueries) GetCheckByName(ctx context.Context, projectID, name string) (*models.HealthCheck, error) {
	var check models.HealthCheck
	query := `SELECT * FROM health_checks WHERE project_id = ? AND name = ? ORDER BY created_at DESC LIMIT 1`

	err := q.db.GetContext(ctx, &check, query, projectID, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get health check by name: %w", err)
	}

	return &check, nil
}

// SetCheckEnabled flips the enabled flag of a health check
func (q *HealthQueries) SetCheckEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE health_checks SET enabled = ? WHERE id = ?`

	result, err := q.db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update health check: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("health check not found: %s", id)
	}
	return nil
}

// UpdateCheckURL points an existing check at a new target URL
func (q *HealthQueries) UpdateCheckURL(ctx context.Context, id, url string) error {
	query := `UPDATE health_checks SET url = ? WHERE id = ?`

	result, err := q.db.ExecContext(ctx, query, url, id)
	if err != nil {
		return fmt.Errorf("failed to update health check url: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("health check not found: %s", id)
	}
	return nil
}

// UpdateCheckStatus caches the latest probe outcome on the check row
func (q *HealthQueries) UpdateCheckStatus(ctx context.Context, id string, status models.CheckStatus, latencyMs int64, checkedAt time.Time) error {
	query := `
		UPDATE health_checks SET
			last_status = ?,
			last_latency_ms = ?,
			last_checked_at = ?
		WHERE id = ?`

	_, err := q.db.ExecContext(ctx, query, status, latencyMs, checkedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update health check status: %w", err)
	}
	return nil
}

// AppendSample inserts a probe result. Samples are never mutated.
func (q *HealthQueries) AppendSample(ctx context.Context, sample *models.HealthSample) error {
	query := `
		INSERT INTO health_samples (health_check_id, ok, status_code, latency_ms, error, created_at)
		VALUES (:health_check_id, :ok, :status_code, :latency_ms, :error, :created_at)`

	_, err := q.db.NamedExecContext(ctx, query, sample)
	if err != nil {
		return fmt.Errorf("failed to append health sample: %w", err)
	}
	return nil
}

// RecentSamples retrieves the latest n samples of a check, newest first
func (q *HealthQueries) RecentSamples(ctx context.Context, healthCheckID string, n int) ([]*models.HealthSample, error) {
	var samples []*models.HealthSample
	query := `
		SELECT * FROM health_samples
		WHERE health_check_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	err := q.db.SelectContext(ctx, &samples, query, healthCheckID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent samples: %w", err)
	}

	return samples, nil
}

// SamplesInWindow retrieves samples of a check in [from, to], oldest first
func (q *HealthQueries) SamplesInWindow(ctx context.Context, healthCheckID string, from, to time.Time) ([]*models.HealthSample, error) {
	var samples []*models.HealthSample
	query := `
		SELECT * FROM health_samples
		WHERE health_check_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`

	err := q.db.SelectContext(ctx, &samples, query, healthCheckID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get samples: %w", err)
	}

	return samples, nil
}

// AppendAlert records an alert transition
func (q *HealthQueries) AppendAlert(ctx context.Context, alert *models.AlertEvent) error {
	query := `
		INSERT INTO alert_events (health_check_id, type, message, created_at)
		VALUES (:health_check_id, :type, :message, :created_at)`

	_, err := q.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return fmt.Errorf("failed to append alert event: %w", err)
	}
	return nil
}

// LastAlertOfType retrieves the most recent alert of the given type for a check,
// used as the basis for cooldown suppression
func (q *HealthQueries) LastAlertOfType(ctx context.Context, healthCheckID string, alertType models.AlertType) (*models.AlertEvent, error) {
	var alert models.AlertEvent
	query := `
		SELECT * FROM alert_events
		WHERE health_check_id = ? AND type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	err := q.db.GetContext(ctx, &alert, query, healthCheckID, alertType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last alert: %w", err)
	}

	return &alert, nil
}
