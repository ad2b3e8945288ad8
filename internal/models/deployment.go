package models

import (
	"database/sql"
	"time"
)

// DeploymentStatus represents the current state of a preview deployment
type DeploymentStatus string

const (
	DeploymentQueued    DeploymentStatus = "QUEUED"
	DeploymentBuilding  DeploymentStatus = "BUILDING"
	DeploymentReady     DeploymentStatus = "READY"
	DeploymentError     DeploymentStatus = "ERROR"
	DeploymentDestroyed DeploymentStatus = "DESTROYED"
)

// PreviewDeployment is the ephemeral environment for one (project, PR) pair.
// Rows are never deleted; teardown marks them DESTROYED.
type PreviewDeployment struct {
	ID                   string           `db:"id" json:"id"`
	ProjectID            string           `db:"project_id" json:"project_id"`
	PRNumber             int              `db:"pr_number" json:"pr_number"`
	Branch               string           `db:"branch" json:"branch"`
	Status               DeploymentStatus `db:"status" json:"status"`
	ProviderDeploymentID sql.NullString   `db:"provider_deployment_id" json:"provider_deployment_id,omitempty"`
	URL                  sql.NullString   `db:"url" json:"url,omitempty"`
	Metadata             NullRawMessage   `db:"metadata" json:"metadata,omitempty"`
	AttemptID            sql.NullString   `db:"attempt_id" json:"attempt_id,omitempty"`
	AttemptStartedAt     sql.NullTime     `db:"attempt_started_at" json:"attempt_started_at,omitempty"`
	DestroyedAt          sql.NullTime     `db:"destroyed_at" json:"destroyed_at,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// GetURL returns the public URL or empty string
func (d *PreviewDeployment) GetURL() string {
	if d.URL.Valid {
		return d.URL.String
	}
	return ""
}

// GetProviderDeploymentID returns the provider deployment id or empty string
func (d *PreviewDeployment) GetProviderDeploymentID() string {
	if d.ProviderDeploymentID.Valid {
		return d.ProviderDeploymentID.String
	}
	return ""
}

// IsActive reports whether the deployment still occupies its (project, PR) slot
func (d *PreviewDeployment) IsActive() bool {
	return d.Status != DeploymentDestroyed
}
