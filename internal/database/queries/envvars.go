package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// EnvQueries provides database operations for environments and env vars
type EnvQueries struct {
	db *sqlx.DB
}

// NewEnvQueries creates a new EnvQueries instance
func NewEnvQueries(db *sqlx.DB) *EnvQueries {
	return &EnvQueries{db: db}
}

// GetEnvironment retrieves the environment of the given type for a project
func (q *EnvQueries) GetEnvironment(ctx context.Context, projectID string, envType models.EnvironmentType) (*models.Environment, error) {
	var env models.Environment
	query := `SELECT * FROM environments WHERE project_id = ? AND type = ?`

	err := q.db.GetContext(ctx, &env, query, projectID, envType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	return &env, nil
}

// EnsureEnvironment creates the environment of the given type if it does not exist
func (q *EnvQueries) EnsureEnvironment(ctx context.Context, projectID string, envType models.EnvironmentType) (*models.Environment, error) {
	query := `
		INSERT INTO environments (id, project_id, type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, type) DO NOTHING`

	_, err := q.db.ExecContext(ctx, query, uuid.New().String(), projectID, envType, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure environment: %w", err)
	}

	return q.GetEnvironment(ctx, projectID, envType)
}

// CreateEnvVar inserts a new version of an environment variable.
// The value must already be encrypted by the caller.
func (q *EnvQueries) CreateEnvVar(ctx context.Context, envVar *models.EnvVar) error {
	query := `
		INSERT INTO env_vars (id, environment_id, key, value_ciphertext, version, created_at)
		VALUES (:id, :environment_id, :key, :value_ciphertext, :version, :created_at)`

	_, err := q.db.NamedExecContext(ctx, query, envVar)
	if err != nil {
		return fmt.Errorf("failed to create env var: %w", err)
	}
	return nil
}

// NextVersion returns the next version number for (environmentID, key)
func (q *EnvQueries) NextVersion(ctx context.Context, environmentID, key string) (int, error) {
	var version int
	query := `SELECT COALESCE(MAX(version), 0) + 1 FROM env_vars WHERE environment_id = ? AND key = ?`

	err := q.db.GetContext(ctx, &version, query, environmentID, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get next version: %w", err)
	}

	return version, nil
}

// LatestEnvVars retrieves the latest version of each variable in an environment
func (q *EnvQueries) LatestEnvVars(ctx context.Context, environmentID string) ([]*models.EnvVar, error) {
	var envVars []*models.EnvVar
	query := `
		SELECT v.* FROM env_vars v
		JOIN (
			SELECT environment_id, key, MAX(version) AS version
			FROM env_vars
			WHERE environment_id = ?
			GROUP BY environment_id, key
		) latest ON latest.environment_id = v.environment_id
			AND latest.key = v.key
			AND latest.version = v.version
		ORDER BY v.key ASC`

	err := q.db.SelectContext(ctx, &envVars, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list env vars: %w", err)
	}

	return envVars, nil
}
