package queries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// ProjectQueries provides database operations for projects
type ProjectQueries struct {
	db *sqlx.DB
}

// NewProjectQueries creates a new ProjectQueries instance
func NewProjectQueries(db *sqlx.DB) *ProjectQueries {
	return &ProjectQueries{db: db}
}

// Create inserts a new project
func (q *ProjectQueries) Create(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (id, name, repo_full_name, created_at, updated_at)
		VALUES (:id, :name, :repo_full_name, :created_at, :updated_at)`

	_, err := q.db.NamedExecContext(ctx, query, project)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by ID
func (q *ProjectQueries) GetByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	query := `SELECT * FROM projects WHERE id = ?`

	err := q.db.GetContext(ctx, &project, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// GetByRepoFullName retrieves the project registered for a repository
func (q *ProjectQueries) GetByRepoFullName(ctx context.Context, repoFullName string) (*models.Project, error) {
	var project models.Project
	query := `SELECT * FROM projects WHERE repo_full_name = ?`

	err := q.db.GetContext(ctx, &project, query, repoFullName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project by repo: %w", err)
	}

	return &project, nil
}

// List retrieves all projects
func (q *ProjectQueries) List(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	query := `SELECT * FROM projects ORDER BY name`

	err := q.db.SelectContext(ctx, &projects, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// GetProviderConfig retrieves the provider configuration for a project.
// Returns nil when the project has no provider configured.
func (q *ProjectQueries) GetProviderConfig(ctx context.Context, projectID string) (*models.ProviderConfig, error) {
	var cfg models.ProviderConfig
	query := `SELECT * FROM provider_configs WHERE project_id = ?`

	err := q.db.GetContext(ctx, &cfg, query, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}

	return &cfg, nil
}

// SetProviderConfig inserts or replaces the provider configuration for a project
func (q *ProjectQueries) SetProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error {
	query := `
		INSERT INTO provider_configs (project_id, provider, provider_token, provider_project_id, created_at)
		VALUES (:project_id, :provider, :provider_token, :provider_project_id, :created_at)
		ON CONFLICT(project_id) DO UPDATE SET
			provider = excluded.provider,
			provider_token = excluded.provider_token,
			provider_project_id = excluded.provider_project_id`

	_, err := q.db.NamedExecContext(ctx, query, cfg)
	if err != nil {
		return fmt.Errorf("failed to set provider config: %w", err)
	}
	return nil
}
