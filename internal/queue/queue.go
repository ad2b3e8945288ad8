// Package queue implements the durable at-least-once job queue and the
// repeatable probe scheduler backing it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// Policy is the retry policy applied to a job kind
type Policy struct {
	MaxAttempts   int
	BackoffBaseMs int64
	BackoffMaxMs  int64
}

// policies maps each job kind to its retry policy. Probes run on a
// recurring schedule, so a failed run is not retried; the next scheduled
// probe replaces it. Notify jobs get a smaller budget since a stale
// notification is worse than a missed one.
var policies = map[models.JobKind]Policy{
	models.JobCreatePreview:   {MaxAttempts: 3, BackoffBaseMs: 2000, BackoffMaxMs: 5000},
	models.JobTearDownPreview: {MaxAttempts: 3, BackoffBaseMs: 2000, BackoffMaxMs: 5000},
	models.JobHealthProbe:     {MaxAttempts: 1, BackoffBaseMs: 1000, BackoffMaxMs: 1000},
	models.JobNotify:          {MaxAttempts: 2, BackoffBaseMs: 1000, BackoffMaxMs: 5000},
	models.JobDailyRollup:     {MaxAttempts: 3, BackoffBaseMs: 2000, BackoffMaxMs: 5000},
}

// defaultPolicy covers kinds with no explicit entry
var defaultPolicy = Policy{MaxAttempts: 3, BackoffBaseMs: 2000, BackoffMaxMs: 5000}

// PolicyFor returns the retry policy for a job kind
func PolicyFor(kind models.JobKind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return defaultPolicy
}

// Queue enqueues durable jobs and manages probe registrations
type Queue struct {
	jobs   *queries.JobQueries
	logger *slog.Logger
}

// New creates a Queue
func New(jobs *queries.JobQueries) *Queue {
	return &Queue{
		jobs:   jobs,
		logger: slog.Default().With("component", "queue"),
	}
}

// Enqueue adds a job of the given kind, due immediately
func (q *Queue) Enqueue(ctx context.Context, kind models.JobKind, payload any) (*models.Job, error) {
	return q.EnqueueAt(ctx, kind, payload, time.Now().UTC())
}

// EnqueueAt adds a job due at a specific time
func (q *Queue) EnqueueAt(ctx context.Context, kind models.JobKind, payload any, runAt time.Time) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	policy := PolicyFor(kind)
	now := time.Now().UTC()

	job := &models.Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		Payload:       data,
		Status:        models.JobPending,
		Attempts:      0,
		MaxAttempts:   policy.MaxAttempts,
		BackoffBaseMs: policy.BackoffBaseMs,
		BackoffMaxMs:  policy.BackoffMaxMs,
		NextRunAt:     runAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := q.jobs.Insert(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Debug("job enqueued", "job_id", job.ID, "kind", kind, "run_at", runAt)
	return job, nil
}

// RegisterProbeSchedule registers (or replaces) the repeatable probe for a
// health check. When immediate is true a one-off probe job is enqueued as
// well, without disturbing the schedule.
func (q *Queue) RegisterProbeSchedule(ctx context.Context, check *models.HealthCheck, immediate bool) error {
	now := time.Now().UTC()

	schedule := &models.ProbeSchedule{
		HealthCheckID: check.ID,
		ProjectID:     check.ProjectID,
		IntervalSec:   check.IntervalSec,
		NextDueAt:     now.Add(check.Interval()),
		CreatedAt:     now,
	}

	if err := q.jobs.UpsertProbeSchedule(ctx, schedule); err != nil {
		return err
	}

	if immediate {
		_, err := q.Enqueue(ctx, models.JobHealthProbe, models.HealthProbePayload{
			HealthCheckID: check.ID,
			ProjectID:     check.ProjectID,
			Immediate:     true,
		})
		if err != nil {
			return err
		}
	}

	q.logger.Info("probe schedule registered",
		"health_check_id", check.ID,
		"interval_sec", check.IntervalSec,
		"immediate", immediate)
	return nil
}

// RemoveProbeSchedule unregisters the repeatable probe for a health check
func (q *Queue) RemoveProbeSchedule(ctx context.Context, healthCheckID string) error {
	if err := q.jobs.DeleteProbeSchedule(ctx, healthCheckID); err != nil {
		return err
	}
	q.logger.Info("probe schedule removed", "health_check_id", healthCheckID)
	return nil
}
