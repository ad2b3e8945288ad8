package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"opshub/internal/models"
)

// EventQueries provides database operations for deploy events and webhooks
type EventQueries struct {
	db *sqlx.DB
}

// NewEventQueries creates a new EventQueries instance
func NewEventQueries(db *sqlx.DB) *EventQueries {
	return &EventQueries{db: db}
}

// Append inserts a deploy event. Events are never updated or deleted.
func (q *EventQueries) Append(ctx context.Context, event *models.DeployEvent) error {
	query := `
		INSERT INTO deploy_events (
			project_id, pr_number, branch, provider, attempt_id, stage,
			error_reason, message, status_code, duration_ms, metadata, created_at
		) VALUES (
			:project_id, :pr_number, :branch, :provider, :attempt_id, :stage,
			:error_reason, :message, :status_code, :duration_ms, :metadata, :created_at
		)`

	_, err := q.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return fmt.Errorf("failed to append deploy event: %w", err)
	}
	return nil
}

// ListByProjectAndWindow retrieves deploy events for a project in [from, to],
// ordered by creation time ascending
func (q *EventQueries) ListByProjectAndWindow(ctx context.Context, projectID string, from, to time.Time) ([]*models.DeployEvent, error) {
	var events []*models.DeployEvent
	query := `
		SELECT * FROM deploy_events
		WHERE project_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`

	err := q.db.SelectContext(ctx, &events, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list deploy events: %w", err)
	}

	return events, nil
}

// ListByAttempt retrieves all events of one attempt in insertion order
func (q *EventQueries) ListByAttempt(ctx context.Context, attemptID string) ([]*models.DeployEvent, error) {
	var events []*models.DeployEvent
	query := `SELECT * FROM deploy_events WHERE attempt_id = ? ORDER BY id ASC`

	err := q.db.SelectContext(ctx, &events, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt events: %w", err)
	}

	return events, nil
}

// StoreWebhookEvent stores a raw inbound webhook before processing
func (q *EventQueries) StoreWebhookEvent(ctx context.Context, provider, eventType string, payload []byte) error {
	query := `
		INSERT INTO webhook_events (provider, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)`

	_, err := q.db.ExecContext(ctx, query, provider, eventType, payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store webhook event: %w", err)
	}
	return nil
}
