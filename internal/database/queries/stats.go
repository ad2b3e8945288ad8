package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// StatQueries provides database operations for daily deploy stat rollups
type StatQueries struct {
	db *sqlx.DB
}

// NewStatQueries creates a new StatQueries instance
func NewStatQueries(db *sqlx.DB) *StatQueries {
	return &StatQueries{db: db}
}

// Upsert writes the rollup for (projectID, day). Recomputing a day replaces
// the existing row, so the aggregation is safe to re-run.
func (q *StatQueries) Upsert(ctx context.Context, stat *models.DailyDeployStat) error {
	query := `
		INSERT INTO daily_deploy_stats (
			project_id, day, create_attempts, create_success, create_error,
			success_rate, p50_create_ms, p95_create_ms, p99_create_ms,
			mean_create_ms, error_by_reason, updated_at
		) VALUES (
			:project_id, :day, :create_attempts, :create_success, :create_error,
			:success_rate, :p50_create_ms, :p95_create_ms, :p99_create_ms,
			:mean_create_ms, :error_by_reason, :updated_at
		)
		ON CONFLICT(project_id, day) DO UPDATE SET
			create_attempts = excluded.create_attempts,
			create_success = excluded.create_success,
			create_error = excluded.create_error,
			success_rate = excluded.success_rate,
			p50_create_ms = excluded.p50_create_ms,
			p95_create_ms = excluded.p95_create_ms,
			p99_create_ms = excluded.p99_create_ms,
			mean_create_ms = excluded.mean_create_ms,
			error_by_reason = excluded.error_by_reason,
			updated_at = excluded.updated_at`

	_, err := q.db.NamedExecContext(ctx, query, stat)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stat: %w", err)
	}
	return nil
}

// Get retrieves the rollup for (projectID, day)
func (q *StatQueries) Get(ctx context.Context, projectID string, day time.Time) (*models.DailyDeployStat, error) {
	var stat models.DailyDeployStat
	query := `SELECT * FROM daily_deploy_stats WHERE project_id = ? AND day = ?`

	err := q.db.GetContext(ctx, &stat, query, projectID, day)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get daily stat: %w", err)
	}

	return &stat, nil
}

// ListByProject retrieves rollups for a project in [from, to], oldest first
func (q *StatQueries) ListByProject(ctx context.Context, projectID string, from, to time.Time) ([]*models.DailyDeployStat, error) {
	var stats []*models.DailyDeployStat
	query := `
		SELECT * FROM daily_deploy_stats
		WHERE project_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC`

	err := q.db.SelectContext(ctx, &stats, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}

	return stats, nil
}
