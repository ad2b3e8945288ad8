package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// Scheduler turns probe registrations into probe jobs as they come due,
// and enqueues the daily analytics rollup when the UTC day rolls over.
type Scheduler struct {
	queue        *Queue
	jobs         *queries.JobQueries
	projects     *queries.ProjectQueries
	tickInterval time.Duration
	logger       *slog.Logger

	lastRollupDay time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler
func NewScheduler(q *Queue, jobs *queries.JobQueries, projects *queries.ProjectQueries, tickInterval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		queue:         q,
		jobs:          jobs,
		projects:      projects,
		tickInterval:  tickInterval,
		logger:        slog.Default().With("component", "scheduler"),
		lastRollupDay: time.Now().UTC().Truncate(24 * time.Hour),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the scheduler loop
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "tick_interval", s.tickInterval)
	s.wg.Add(1)
	go s.loop()
}

// Stop shuts the scheduler down
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires due probes and, on day rollover, the daily rollups
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	due, err := s.jobs.DueProbeSchedules(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due probe schedules", "error", err)
		return
	}

	for _, schedule := range due {
		_, err := s.queue.Enqueue(ctx, models.JobHealthProbe, models.HealthProbePayload{
			HealthCheckID: schedule.HealthCheckID,
			ProjectID:     schedule.ProjectID,
		})
		if err != nil {
			s.logger.Error("failed to enqueue probe job",
				"health_check_id", schedule.HealthCheckID,
				"error", err)
			continue
		}

		// Advance from the scheduled time, not from now, so intervals
		// do not drift under load
		next := schedule.NextDueAt.Add(time.Duration(schedule.IntervalSec) * time.Second)
		if next.Before(now) {
			next = now.Add(time.Duration(schedule.IntervalSec) * time.Second)
		}

		if err := s.jobs.AdvanceProbeSchedule(ctx, schedule.HealthCheckID, next); err != nil {
			s.logger.Error("failed to advance probe schedule",
				"health_check_id", schedule.HealthCheckID,
				"error", err)
		}
	}

	s.maybeEnqueueRollups(ctx, now)
}

// maybeEnqueueRollups enqueues a daily rollup per project for the day that
// just ended, once per UTC day rollover
func (s *Scheduler) maybeEnqueueRollups(ctx context.Context, now time.Time) {
	today := now.Truncate(24 * time.Hour)
	if !today.After(s.lastRollupDay) {
		return
	}

	projects, err := s.projects.List(ctx)
	if err != nil {
		s.logger.Error("failed to list projects for rollup", "error", err)
		return
	}

	previousDay := today.Add(-24 * time.Hour)
	for _, project := range projects {
		_, err := s.queue.Enqueue(ctx, models.JobDailyRollup, models.DailyRollupPayload{
			ProjectID: project.ID,
			Day:       previousDay,
		})
		if err != nil {
			s.logger.Error("failed to enqueue daily rollup",
				"project_id", project.ID,
				"error", err)
		}
	}

	s.lastRollupDay = today
	s.logger.Info("daily rollups enqueued", "day", previousDay.Format("2006-01-02"), "projects", len(projects))
}
