package queries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// AuditQueries provides database operations for the audit trail
type AuditQueries struct {
	db *sqlx.DB
}

// NewAuditQueries creates a new AuditQueries instance
func NewAuditQueries(db *sqlx.DB) *AuditQueries {
	return &AuditQueries{db: db}
}

// Append inserts an audit log row
func (q *AuditQueries) Append(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (actor, project_id, action, metadata, created_at)
		VALUES (:actor, :project_id, :action, :metadata, :created_at)`

	_, err := q.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// ListByProject retrieves recent audit rows for a project, newest first
func (q *AuditQueries) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	query := `
		SELECT * FROM audit_logs
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	err := q.db.SelectContext(ctx, &logs, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return logs, nil
}

// NotificationQueries provides database operations for notification channels
type NotificationQueries struct {
	db *sqlx.DB
}

// NewNotificationQueries creates a new NotificationQueries instance
func NewNotificationQueries(db *sqlx.DB) *NotificationQueries {
	return &NotificationQueries{db: db}
}

// GetChannel retrieves the channel of the given type for a project
func (q *NotificationQueries) GetChannel(ctx context.Context, projectID string, channelType models.NotificationChannelType) (*models.NotificationChannel, error) {
	var channel models.NotificationChannel
	query := `SELECT * FROM notification_channels WHERE project_id = ? AND type = ?`

	err := q.db.GetContext(ctx, &channel, query, projectID, channelType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification channel: %w", err)
	}

	return &channel, nil
}

// SetChannel inserts or replaces the channel configuration for a project
func (q *NotificationQueries) SetChannel(ctx context.Context, channel *models.NotificationChannel) error {
	query := `
		INSERT INTO notification_channels (id, project_id, type, slack_bot_token, slack_channel, created_at)
		VALUES (:id, :project_id, :type, :slack_bot_token, :slack_channel, :created_at)
		ON CONFLICT(project_id, type) DO UPDATE SET
			slack_bot_token = excluded.slack_bot_token,
			slack_channel = excluded.slack_channel`

	_, err := q.db.NamedExecContext(ctx, query, channel)
	if err != nil {
		return fmt.Errorf("failed to set notification channel: %w", err)
	}
	return nil
}
