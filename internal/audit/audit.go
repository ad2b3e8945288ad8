// Package audit records control-plane actions to the append-only audit trail.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// SystemActor is the actor recorded for actions taken by the control plane itself
const SystemActor = "system"

// Recorder writes audit log entries. Failures are logged and swallowed;
// auditing never fails the operation being audited.
type Recorder struct {
	audits *queries.AuditQueries
	logger *slog.Logger
}

// NewRecorder creates a Recorder
func NewRecorder(audits *queries.AuditQueries) *Recorder {
	return &Recorder{
		audits: audits,
		logger: slog.Default().With("component", "audit"),
	}
}

// Record appends one audit entry. Metadata may be nil.
func (r *Recorder) Record(ctx context.Context, actor, projectID, action string, metadata any) {
	entry := &models.AuditLog{
		Actor:     actor,
		ProjectID: database.NullString(projectID),
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}

	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			r.logger.Error("failed to encode audit metadata", "action", action, "error", err)
		} else {
			entry.Metadata = models.NullRawMessage(data)
		}
	}

	if err := r.audits.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append audit log", "action", action, "error", err)
	}
}
