package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"opshub/internal/database"
	"opshub/internal/models"
)

// DeploymentQueries provides database operations for preview deployments
type DeploymentQueries struct {
	db *sqlx.DB
}

// NewDeploymentQueries creates a new DeploymentQueries instance
func NewDeploymentQueries(db *sqlx.DB) *DeploymentQueries {
	return &DeploymentQueries{db: db}
}

// Upsert creates or updates the deployment row for (projectID, prNumber).
// Delivery is at-least-once, so duplicate jobs converge on the same row.
// The conditional update rejects attempts older than the row's current
// attempt, keeping a slow stale attempt from clobbering a newer one.
func (q *DeploymentQueries) Upsert(ctx context.Context, projectID string, prNumber int, branch string, attemptID string, attemptStartedAt time.Time) (*models.PreviewDeployment, error) {
	query := `
		INSERT INTO preview_deployments (
			id, project_id, pr_number, branch, status,
			attempt_id, attempt_started_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'QUEUED', ?, ?, ?, ?)
		ON CONFLICT(project_id, pr_number) DO UPDATE SET
			branch = excluded.branch,
			status = 'QUEUED',
			attempt_id = excluded.attempt_id,
			attempt_started_at = excluded.attempt_started_at,
			updated_at = excluded.updated_at
		WHERE preview_deployments.attempt_started_at IS NULL
			OR preview_deployments.attempt_started_at <= excluded.attempt_started_at`

	now := time.Now()
	_, err := q.db.ExecContext(ctx, query,
		uuid.New().String(), projectID, prNumber, branch,
		attemptID, attemptStartedAt, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert deployment: %w", err)
	}

	return q.GetByProjectAndPR(ctx, projectID, prNumber)
}

// GetByProjectAndPR retrieves the deployment for a (project, PR) pair
func (q *DeploymentQueries) GetByProjectAndPR(ctx context.Context, projectID string, prNumber int) (*models.PreviewDeployment, error) {
	var d models.PreviewDeployment
	query := `SELECT * FROM preview_deployments WHERE project_id = ? AND pr_number = ?`

	err := q.db.GetContext(ctx, &d, query, projectID, prNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return &d, nil
}

// ListByProject retrieves deployments for a project, newest first
func (q *DeploymentQueries) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.PreviewDeployment, error) {
	var deployments []*models.PreviewDeployment
	query := `
		SELECT * FROM preview_deployments
		WHERE project_id = ?
		ORDER BY updated_at DESC
		LIMIT ?`

	err := q.db.SelectContext(ctx, &deployments, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	return deployments, nil
}

// SetStatusForAttempt updates the deployment status for the given attempt.
// The update is skipped when a newer attempt has since taken over the row.
func (q *DeploymentQueries) SetStatusForAttempt(ctx context.Context, projectID string, prNumber int, attemptID string, status models.DeploymentStatus) error {
	query := `
		UPDATE preview_deployments SET
			status = ?,
			updated_at = ?
		WHERE project_id = ? AND pr_number = ? AND attempt_id = ?`

	_, err := q.db.ExecContext(ctx, query, status, time.Now(), projectID, prNumber, attemptID)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}
	return nil
}

// MarkReady records a successful create for the given attempt
func (q *DeploymentQueries) MarkReady(ctx context.Context, projectID string, prNumber int, attemptID, providerDeploymentID, url string, metadata []byte) error {
	query := `
		UPDATE preview_deployments SET
			status = 'READY',
			provider_deployment_id = ?,
			url = ?,
			metadata = ?,
			updated_at = ?
		WHERE project_id = ? AND pr_number = ? AND attempt_id = ?`

	_, err := q.db.ExecContext(ctx, query,
		database.NullString(providerDeploymentID), database.NullString(url),
		models.NullRawMessage(metadata), time.Now(), projectID, prNumber, attemptID)
	if err != nil {
		return fmt.Errorf("failed to mark deployment ready: %w", err)
	}
	return nil
}

// MarkDestroyed marks the deployment DESTROYED with a teardown timestamp.
// Teardown is unconditional: the row converges to DESTROYED regardless of
// which attempt last touched it.
func (q *DeploymentQueries) MarkDestroyed(ctx context.Context, projectID string, prNumber int) error {
	query := `
		UPDATE preview_deployments SET
			status = 'DESTROYED',
			destroyed_at = ?,
			updated_at = ?
		WHERE project_id = ? AND pr_number = ?`

	now := time.Now()
	_, err := q.db.ExecContext(ctx, query, now, now, projectID, prNumber)
	if err != nil {
		return fmt.Errorf("failed to mark deployment destroyed: %w", err)
	}
	return nil
}
