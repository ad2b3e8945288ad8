package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"
)

// NullRawMessage is a json.RawMessage that handles NULL values from the database
type NullRawMessage json.RawMessage

// Scan implements the sql.Scanner interface
func (n *NullRawMessage) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*n = NullRawMessage(v)
	case string:
		*n = NullRawMessage(v)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (n NullRawMessage) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return []byte(n), nil
}

// MarshalJSON implements json.Marshaler
func (n NullRawMessage) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(n).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler
func (n *NullRawMessage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = nil
		return nil
	}
	*n = NullRawMessage(data)
	return nil
}

// ProviderKind identifies a preview hosting backend
type ProviderKind string

const (
	ProviderHosted ProviderKind = "hosted"
	ProviderDocker ProviderKind = "docker"
	ProviderMock   ProviderKind = "mock"
)

// Project is a repository registered for preview deployments
type Project struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	RepoFullName string    `db:"repo_full_name" json:"repo_full_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ProviderConfig holds per-project hosting provider credentials.
// Token is stored encrypted; queries return it decrypted.
type ProviderConfig struct {
	ProjectID         string         `db:"project_id" json:"project_id"`
	Provider          ProviderKind   `db:"provider" json:"provider"`
	ProviderToken     sql.NullString `db:"provider_token" json:"-"`
	ProviderProjectID sql.NullString `db:"provider_project_id" json:"provider_project_id,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// EnvironmentType distinguishes the deployment targets of a project
type EnvironmentType string

const (
	EnvPreview EnvironmentType = "PREVIEW"
	EnvStaging EnvironmentType = "STAGING"
	EnvProd    EnvironmentType = "PROD"
)

// Environment is one deployment target of a project, unique per (project, type)
type Environment struct {
	ID        string          `db:"id" json:"id"`
	ProjectID string          `db:"project_id" json:"project_id"`
	Type      EnvironmentType `db:"type" json:"type"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// EnvVar is one version of an encrypted environment variable
type EnvVar struct {
	ID              string    `db:"id" json:"id"`
	EnvironmentID   string    `db:"environment_id" json:"environment_id"`
	Key             string    `db:"key" json:"key"`
	ValueCiphertext string    `db:"value_ciphertext" json:"-"`
	Version         int       `db:"version" json:"version"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// NotificationChannelType identifies a notification transport
type NotificationChannelType string

const (
	ChannelSlack NotificationChannelType = "SLACK"
)

// NotificationChannel routes project notifications to an external sink
type NotificationChannel struct {
	ID            string                  `db:"id" json:"id"`
	ProjectID     string                  `db:"project_id" json:"project_id"`
	Type          NotificationChannelType `db:"type" json:"type"`
	SlackBotToken sql.NullString          `db:"slack_bot_token" json:"-"`
	SlackChannel  sql.NullString          `db:"slack_channel" json:"slack_channel,omitempty"`
	CreatedAt     time.Time               `db:"created_at" json:"created_at"`
}
