package deploy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// NewAttemptID mints the correlation ID shared by all events of one attempt
func NewAttemptID() string {
	return uuid.New().String()
}

// Emitter appends deploy lifecycle events. Emission failures are logged
// and swallowed so a full event log never blocks a deployment.
type Emitter struct {
	events *queries.EventQueries
	logger *slog.Logger
}

// NewEmitter creates an Emitter
func NewEmitter(events *queries.EventQueries) *Emitter {
	return &Emitter{
		events: events,
		logger: slog.Default().With("component", "deploy-events"),
	}
}

// EventInput carries the variable parts of one lifecycle event
type EventInput struct {
	ProjectID  string
	PRNumber   int
	Branch     string
	Provider   models.ProviderKind
	AttemptID  string
	Stage      models.DeployStage
	Reason     models.DeployErrorReason
	Message    string
	StatusCode int
	DurationMs int64
	Metadata   any
}

// Emit appends one event, truncating the message and encoding metadata
func (e *Emitter) Emit(ctx context.Context, input EventInput) {
	event := &models.DeployEvent{
		ProjectID: input.ProjectID,
		PRNumber:  input.PRNumber,
		Branch:    input.Branch,
		Provider:  input.Provider,
		AttemptID: input.AttemptID,
		Stage:     input.Stage,
		CreatedAt: time.Now().UTC(),
	}

	if input.Reason != "" {
		event.ErrorReason = database.NullString(string(input.Reason))
	}
	if input.Message != "" {
		event.Message = database.NullString(Truncate(input.Message))
	}
	if input.StatusCode != 0 {
		event.StatusCode = database.NullInt64(int64(input.StatusCode))
	}
	if input.DurationMs != 0 {
		event.DurationMs = database.NullInt64(input.DurationMs)
	}
	if input.Metadata != nil {
		if data, err := json.Marshal(input.Metadata); err == nil {
			event.Metadata = models.NullRawMessage(data)
		}
	}

	if err := e.events.Append(ctx, event); err != nil {
		e.logger.Error("failed to append deploy event",
			"stage", input.Stage,
			"attempt_id", input.AttemptID,
			"error", err)
	}
}
