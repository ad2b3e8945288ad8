package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"opshub/internal/database/queries"
	"opshub/internal/metrics"
	"opshub/internal/models"
)

// Handler processes one job payload. A returned error triggers a retry
// with backoff until the attempt budget is exhausted, so handlers must
// contain failures they do not want redelivered.
type Handler func(ctx context.Context, payload []byte) error

// jobTimeout bounds a single handler invocation
const jobTimeout = 15 * time.Minute

// Pool polls the jobs table and dispatches due jobs to registered handlers
type Pool struct {
	jobs         *queries.JobQueries
	handlers     map[models.JobKind]Handler
	pollInterval time.Duration
	logger       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a worker pool
func NewPool(jobs *queries.JobQueries, pollInterval time.Duration) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		jobs:         jobs,
		handlers:     make(map[models.JobKind]Handler),
		pollInterval: pollInterval,
		logger:       slog.Default().With("component", "worker-pool"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Register binds a handler to a job kind
func (p *Pool) Register(kind models.JobKind, handler Handler) {
	p.handlers[kind] = handler
}

// Start launches the worker goroutines
func (p *Pool) Start(workers int) {
	p.logger.Info("starting workers", "count", workers)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels in-flight work and waits for workers to exit
func (p *Pool) Stop() {
	p.logger.Info("stopping workers")
	p.cancel()
	p.wg.Wait()
}

// worker polls for due jobs until cancelled
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// Drain everything currently due before sleeping again
			for {
				if !p.runOne() {
					break
				}
				if p.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// runOne claims and processes a single job. Returns false when nothing
// was due.
func (p *Pool) runOne() bool {
	claimCtx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	job, err := p.jobs.ClaimNext(claimCtx, time.Now().UTC())
	cancel()

	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Error("failed to claim job", "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	p.process(job)
	return true
}

// process dispatches one claimed job to its handler
func (p *Pool) process(job *models.Job) {
	logger := p.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	handler, ok := p.handlers[job.Kind]
	if !ok {
		logger.Error("no handler registered for job kind")
		p.fail(job, fmt.Sprintf("no handler for kind %q", job.Kind))
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	err := handler(ctx, job.Payload)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("job failed", "error", err, "elapsed", elapsed)
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "failed").Inc()
		p.fail(job, err.Error())
		return
	}

	logger.Debug("job succeeded", "elapsed", elapsed)
	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "succeeded").Inc()

	// Completion uses a background context so shutdown does not lose the result
	if err := p.jobs.MarkSucceeded(context.Background(), job.ID); err != nil {
		logger.Error("failed to mark job succeeded", "error", err)
	}
}

// fail reschedules the job with backoff, or parks it as dead once the
// attempt budget is spent
func (p *Pool) fail(job *models.Job, lastError string) {
	ctx := context.Background()

	if job.Attempts >= job.MaxAttempts {
		if err := p.jobs.MarkDead(ctx, job.ID, lastError); err != nil {
			p.logger.Error("failed to mark job dead", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsDead.WithLabelValues(string(job.Kind)).Inc()
		p.logger.Error("job dead after exhausting attempts",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"last_error", lastError)
		return
	}

	delay := Backoff(job.BackoffBaseMs, job.BackoffMaxMs, job.Attempts)
	nextRun := time.Now().UTC().Add(delay)

	if err := p.jobs.Reschedule(ctx, job.ID, lastError, nextRun); err != nil {
		p.logger.Error("failed to reschedule job", "job_id", job.ID, "error", err)
	}
}

// Backoff computes the exponential retry delay for a given attempt number
// (1-based): base * 2^(attempt-1), capped at max.
func Backoff(baseMs, maxMs int64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseMs
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxMs {
			delay = maxMs
			break
		}
	}
	if delay > maxMs {
		delay = maxMs
	}

	return time.Duration(delay) * time.Millisecond
}
