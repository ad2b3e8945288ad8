package analytics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/deploy"
	"opshub/internal/models"
)

type testEnv struct {
	events  *queries.EventQueries
	stats   *queries.StatQueries
	emitter *deploy.Emitter
	service *Service
	project *models.Project
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	projects := queries.NewProjectQueries(db.DB)
	project := &models.Project{
		ID:           uuid.New().String(),
		Name:         "acme-web",
		RepoFullName: "acme/web",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := projects.Create(ctx, project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	events := queries.NewEventQueries(db.DB)
	stats := queries.NewStatQueries(db.DB)
	return &testEnv{
		events:  events,
		stats:   stats,
		emitter: deploy.NewEmitter(events),
		service: NewService(events, stats, projects),
		project: project,
	}
}

// emitAttempt writes the event trail of one deploy attempt
func (e *testEnv) emitAttempt(ctx context.Context, pr int, durationMs int64, reason models.DeployErrorReason) string {
	attemptID := deploy.NewAttemptID()

	e.emitter.Emit(ctx, deploy.EventInput{
		ProjectID: e.project.ID,
		PRNumber:  pr,
		Branch:    "main",
		Provider:  models.ProviderMock,
		AttemptID: attemptID,
		Stage:     models.StageCreateStarted,
	})
	if reason == "" {
		e.emitter.Emit(ctx, deploy.EventInput{
			ProjectID:  e.project.ID,
			PRNumber:   pr,
			Branch:     "main",
			Provider:   models.ProviderMock,
			AttemptID:  attemptID,
			Stage:      models.StageReady,
			DurationMs: durationMs,
		})
	} else {
		e.emitter.Emit(ctx, deploy.EventInput{
			ProjectID: e.project.ID,
			PRNumber:  pr,
			Branch:    "main",
			Provider:  models.ProviderMock,
			AttemptID: attemptID,
			Stage:     models.StageError,
			Reason:    reason,
			Message:   "deploy failed",
		})
	}
	return attemptID
}

func TestPercentile(t *testing.T) {
	sorted := []int64{100, 200, 300, 400, 500}

	tests := []struct {
		p    float64
		want int64
	}{
		{0.50, 300},
		{0.95, 500},
		{0.99, 500},
		{0.01, 100},
		{1.0, 500},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); got != tt.want {
			t.Errorf("Percentile(%.2f) = %d, want %d", tt.p, got, tt.want)
		}
	}

	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(empty) = %d, want 0", got)
	}
	if got := Percentile([]int64{42}, 0.99); got != 42 {
		t.Errorf("Percentile(single) = %d, want 42", got)
	}
}

func TestComputeKPIs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, d := range []int64{100, 200, 300, 400} {
		env.emitAttempt(ctx, i+1, d, "")
	}
	env.emitAttempt(ctx, 5, 0, models.ReasonProviderTimeout)
	env.emitAttempt(ctx, 6, 0, models.ReasonProviderTimeout)
	env.emitAttempt(ctx, 7, 0, models.ReasonProviderError)

	// A teardown-only trail is not a deploy attempt
	env.emitter.Emit(ctx, deploy.EventInput{
		ProjectID: env.project.ID,
		PRNumber:  8,
		Branch:    "main",
		Provider:  models.ProviderMock,
		AttemptID: deploy.NewAttemptID(),
		Stage:     models.StageTeardownDone,
	})

	now := time.Now().UTC()
	kpis, err := env.service.ComputeKPIs(ctx, env.project.ID, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ComputeKPIs failed: %v", err)
	}

	if kpis.Attempts != 7 {
		t.Errorf("attempts = %d, want 7", kpis.Attempts)
	}
	if kpis.Successes != 4 || kpis.Errors != 3 {
		t.Errorf("successes/errors = %d/%d, want 4/3", kpis.Successes, kpis.Errors)
	}
	wantRate := float64(4) / 7
	if kpis.SuccessRate < wantRate-0.001 || kpis.SuccessRate > wantRate+0.001 {
		t.Errorf("success rate = %.3f, want %.3f", kpis.SuccessRate, wantRate)
	}
	if kpis.SuccessRate < 0 || kpis.SuccessRate > 1 {
		t.Errorf("success rate = %.3f, want a fraction in [0, 1]", kpis.SuccessRate)
	}
	if kpis.P50CreateMs != 200 {
		t.Errorf("p50 = %d, want 200", kpis.P50CreateMs)
	}
	if kpis.P95CreateMs != 400 {
		t.Errorf("p95 = %d, want 400", kpis.P95CreateMs)
	}
	if kpis.MeanCreateMs != 250 {
		t.Errorf("mean = %d, want 250", kpis.MeanCreateMs)
	}
	if kpis.ErrorByReason["PROVIDER_TIMEOUT"] != 2 || kpis.ErrorByReason["PROVIDER_ERROR"] != 1 {
		t.Errorf("error histogram = %v", kpis.ErrorByReason)
	}
}

func TestComputeKPIsEmptyWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	kpis, err := env.service.ComputeKPIs(ctx, env.project.ID, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("ComputeKPIs failed: %v", err)
	}
	if kpis.Attempts != 0 || kpis.SuccessRate != 0 {
		t.Errorf("empty window: attempts=%d rate=%.1f, want zeros", kpis.Attempts, kpis.SuccessRate)
	}
}

func TestTimeSeries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.emitAttempt(ctx, 1, 1000, "")
	env.emitAttempt(ctx, 2, 0, models.ReasonProviderError)

	now := time.Now().UTC()
	buckets, err := env.service.TimeSeries(ctx, env.project.ID, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("TimeSeries failed: %v", err)
	}

	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}
	bucket := buckets[0]
	if bucket.Day != now.Format("2006-01-02") {
		t.Errorf("day = %q, want today", bucket.Day)
	}
	if bucket.Attempts != 2 || bucket.Successes != 1 || bucket.Errors != 1 {
		t.Errorf("bucket = %+v", bucket)
	}
}

func TestAggregateDayIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.emitAttempt(ctx, 1, 1500, "")
	env.emitAttempt(ctx, 2, 0, models.ReasonMissingProviderConfig)

	day := time.Now().UTC()
	if err := env.service.AggregateDay(ctx, env.project.ID, day); err != nil {
		t.Fatalf("AggregateDay failed: %v", err)
	}
	// A second run lands on the same row
	if err := env.service.AggregateDay(ctx, env.project.ID, day); err != nil {
		t.Fatalf("repeated AggregateDay failed: %v", err)
	}

	stat, err := env.stats.Get(ctx, env.project.ID, day.Truncate(24*time.Hour))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stat == nil {
		t.Fatal("expected a rollup row")
	}
	if stat.CreateAttempts != 2 || stat.CreateSuccess != 1 || stat.CreateError != 1 {
		t.Errorf("rollup = %+v", stat)
	}
	if stat.SuccessRate != 0.5 {
		t.Errorf("success rate = %.3f, want the fraction 0.5", stat.SuccessRate)
	}
	if !stat.P50CreateMs.Valid || stat.P50CreateMs.Int64 != 1500 {
		t.Errorf("p50 = %v, want 1500", stat.P50CreateMs)
	}

	rows, err := env.stats.ListByProject(ctx, env.project.ID, day.Add(-24*time.Hour), day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListByProject failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rollup rows = %d, want re-run to overwrite", len(rows))
	}
}

func TestAggregateDayWithoutSuccesses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.emitAttempt(ctx, 1, 0, models.ReasonProviderTimeout)

	day := time.Now().UTC()
	if err := env.service.AggregateDay(ctx, env.project.ID, day); err != nil {
		t.Fatalf("AggregateDay failed: %v", err)
	}

	stat, err := env.stats.Get(ctx, env.project.ID, day.Truncate(24*time.Hour))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stat.P50CreateMs.Valid {
		t.Error("percentiles should be null when nothing succeeded")
	}
}

func TestWeeklyDigest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.emitAttempt(ctx, 1, 2000, "")
	env.emitAttempt(ctx, 2, 0, models.ReasonProviderTimeout)
	env.emitAttempt(ctx, 3, 0, models.ReasonProviderTimeout)
	env.emitAttempt(ctx, 4, 0, models.ReasonProviderError)

	digest, err := env.service.WeeklyDigest(ctx, env.project.ID)
	if err != nil {
		t.Fatalf("WeeklyDigest failed: %v", err)
	}

	for _, want := range []string{
		"Weekly deploy digest for acme-web",
		"Attempts: 4 (1 succeeded, 3 failed)",
		"Success rate: 25.0%",
		"p50 2.0s",
		"PROVIDER_TIMEOUT (2)",
	} {
		if !strings.Contains(digest, want) {
			t.Errorf("digest missing %q:\n%s", want, digest)
		}
	}

	// Timeout outnumbers the generic error, so it leads the top list
	if strings.Index(digest, "PROVIDER_TIMEOUT") > strings.Index(digest, "PROVIDER_ERROR") {
		t.Error("top errors not ordered by count")
	}

	if _, err := env.service.WeeklyDigest(ctx, "missing"); err == nil {
		t.Error("expected an error for an unknown project")
	}
}
