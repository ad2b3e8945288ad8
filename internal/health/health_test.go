package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"opshub/internal/crypto"
	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
	"opshub/internal/notify"
	"opshub/internal/queue"
)

const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

type testEnv struct {
	checks  *queries.HealthQueries
	jobs    *queries.JobQueries
	service *Service
	prober  *Prober
	project *models.Project
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("OPSHUB_ENCRYPTION_KEY", testKey)

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	encryptor, err := crypto.NewEncryptor()
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
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

	checks := queries.NewHealthQueries(db.DB)
	jobs := queries.NewJobQueries(db.DB)
	q := queue.New(jobs)
	notifier := notify.NewNotifier(queries.NewNotificationQueries(db.DB), encryptor, true)
	prober := NewProber(checks, notifier)

	return &testEnv{
		checks:  checks,
		jobs:    jobs,
		service: NewService(checks, q, prober),
		prober:  prober,
		project: project,
	}
}

func TestCreateCheckAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID: env.project.ID,
		Name:      "api",
		URL:       "http://localhost:3000/health",
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}

	if check.Method != DefaultMethod {
		t.Errorf("method = %q, want %q", check.Method, DefaultMethod)
	}
	if check.IntervalSec != DefaultIntervalSec {
		t.Errorf("interval_sec = %d, want %d", check.IntervalSec, DefaultIntervalSec)
	}
	if check.TimeoutMs != DefaultTimeoutMs {
		t.Errorf("timeout_ms = %d, want %d", check.TimeoutMs, DefaultTimeoutMs)
	}
	if check.FailureThreshold != DefaultFailureThreshold || check.RecoveryThreshold != DefaultRecoveryThreshold {
		t.Errorf("thresholds = %d/%d, want %d/%d",
			check.FailureThreshold, check.RecoveryThreshold,
			DefaultFailureThreshold, DefaultRecoveryThreshold)
	}
	if check.ExpectedMin != DefaultExpectedMin || check.ExpectedMax != DefaultExpectedMax {
		t.Errorf("expected range = [%d, %d], want [%d, %d]",
			check.ExpectedMin, check.ExpectedMax, DefaultExpectedMin, DefaultExpectedMax)
	}
	if !check.Enabled {
		t.Error("new check should be enabled")
	}

	// Creation registers the repeatable schedule
	due, err := env.jobs.DueProbeSchedules(ctx, time.Now().UTC().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("DueProbeSchedules failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("schedules = %d, want 1", len(due))
	}
}

func TestProbeRecordsSample(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID:        env.project.ID,
		Name:             "api",
		URL:              srv.URL,
		ResponseContains: `"status":"ok"`,
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}

	if err := env.prober.Run(ctx, check.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ua, _ := gotUA.Load().(string); ua != probeUserAgent {
		t.Errorf("user agent = %q, want %q", ua, probeUserAgent)
	}

	samples, err := env.checks.RecentSamples(ctx, check.ID, 10)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}
	if !samples[0].OK {
		t.Errorf("sample not OK: %v", samples[0].Error)
	}
	if !samples[0].StatusCode.Valid || samples[0].StatusCode.Int64 != 200 {
		t.Errorf("status code = %v, want 200", samples[0].StatusCode)
	}

	updated, err := env.checks.GetCheck(ctx, check.ID)
	if err != nil {
		t.Fatalf("GetCheck failed: %v", err)
	}
	if updated.GetLastStatus() != models.CheckOK {
		t.Errorf("last status = %q, want OK", updated.GetLastStatus())
	}
}

func TestProbeFailsOutsideStatusRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID: env.project.ID,
		Name:      "api",
		URL:       srv.URL,
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}

	if err := env.prober.Run(ctx, check.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	samples, err := env.checks.RecentSamples(ctx, check.ID, 1)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 1 || samples[0].OK {
		t.Fatal("expected a failed sample")
	}

	// First-ever probe seeds the status without alerting
	updated, _ := env.checks.GetCheck(ctx, check.ID)
	if updated.GetLastStatus() != models.CheckDegraded {
		t.Errorf("last status = %q, want DEGRADED", updated.GetLastStatus())
	}
	alert, err := env.checks.LastAlertOfType(ctx, check.ID, models.AlertDegraded)
	if err != nil {
		t.Fatalf("LastAlertOfType failed: %v", err)
	}
	if alert != nil {
		t.Error("first probe must not alert")
	}
}

func TestAlertingDebounceAndCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID:         env.project.ID,
		Name:              "api",
		URL:               srv.URL,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}

	run := func() {
		t.Helper()
		if err := env.prober.Run(ctx, check.ID); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	lastStatus := func() models.CheckStatus {
		t.Helper()
		updated, err := env.checks.GetCheck(ctx, check.ID)
		if err != nil {
			t.Fatalf("GetCheck failed: %v", err)
		}
		return updated.GetLastStatus()
	}

	// Seed OK
	run()
	if lastStatus() != models.CheckOK {
		t.Fatalf("status = %q after seed, want OK", lastStatus())
	}

	// Two failures stay below the threshold
	failing.Store(true)
	run()
	run()
	if lastStatus() != models.CheckOK {
		t.Errorf("status flipped before the failure threshold")
	}
	if alert, _ := env.checks.LastAlertOfType(ctx, check.ID, models.AlertDegraded); alert != nil {
		t.Error("alert emitted before the failure threshold")
	}

	// Third consecutive failure confirms the transition
	run()
	if lastStatus() != models.CheckDegraded {
		t.Fatalf("status = %q after threshold, want DEGRADED", lastStatus())
	}
	first, err := env.checks.LastAlertOfType(ctx, check.ID, models.AlertDegraded)
	if err != nil {
		t.Fatalf("LastAlertOfType failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected a DEGRADED alert at the threshold")
	}

	// Further failures are not transitions and emit nothing new
	run()
	again, _ := env.checks.LastAlertOfType(ctx, check.ID, models.AlertDegraded)
	if again == nil || again.ID != first.ID {
		t.Error("steady degraded state re-alerted")
	}

	// One success is not enough to recover
	failing.Store(false)
	run()
	if lastStatus() != models.CheckDegraded {
		t.Errorf("status recovered before the recovery threshold")
	}

	// Second consecutive success confirms recovery and alerts
	run()
	if lastStatus() != models.CheckOK {
		t.Fatalf("status = %q after recovery, want OK", lastStatus())
	}
	recovered, err := env.checks.LastAlertOfType(ctx, check.ID, models.AlertRecovered)
	if err != nil {
		t.Fatalf("LastAlertOfType failed: %v", err)
	}
	if recovered == nil {
		t.Fatal("expected a RECOVERED alert")
	}
}

func TestDisabledCheckIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID: env.project.ID,
		Name:      "api",
		URL:       "http://localhost:1/unreachable",
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}
	if err := env.service.SetEnabled(ctx, check.ID, false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	if err := env.prober.Run(ctx, check.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	samples, err := env.checks.RecentSamples(ctx, check.ID, 1)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 0 {
		t.Error("disabled check should not be probed")
	}
}

func TestCreateForPreviewReEnables(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.CreateForPreview(ctx, env.project.ID, 42, "http://localhost:4242")
	if err != nil {
		t.Fatalf("CreateForPreview failed: %v", err)
	}
	if first.Name != models.PreviewCheckName(42) {
		t.Errorf("name = %q, want %q", first.Name, models.PreviewCheckName(42))
	}

	if err := env.service.DisableForPreview(ctx, env.project.ID, 42); err != nil {
		t.Fatalf("DisableForPreview failed: %v", err)
	}
	disabled, _ := env.checks.GetCheck(ctx, first.ID)
	if disabled.Enabled {
		t.Fatal("check should be disabled after teardown")
	}

	// A redeploy of the same PR reuses the check, re-enables it, and
	// follows the new preview URL
	second, err := env.service.CreateForPreview(ctx, env.project.ID, 42, "http://localhost:4343")
	if err != nil {
		t.Fatalf("CreateForPreview failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the existing check to be reused")
	}
	if second.URL != "http://localhost:4343" {
		t.Errorf("url = %q, want the redeploy's URL", second.URL)
	}
	reenabled, _ := env.checks.GetCheck(ctx, first.ID)
	if !reenabled.Enabled {
		t.Error("check should be re-enabled")
	}
	if reenabled.URL != "http://localhost:4343" {
		t.Errorf("stored url = %q, want the redeploy's URL", reenabled.URL)
	}
}

func TestUptime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	check, err := env.service.CreateCheck(ctx, CreateCheckInput{
		ProjectID: env.project.ID,
		Name:      "api",
		URL:       "http://localhost:3000/health",
	})
	if err != nil {
		t.Fatalf("CreateCheck failed: %v", err)
	}

	now := time.Now().UTC()
	for i, ok := range []bool{true, true, true, false} {
		sample := &models.HealthSample{
			HealthCheckID: check.ID,
			OK:            ok,
			LatencyMs:     int64(100 * (i + 1)),
			CreatedAt:     now.Add(time.Duration(-i) * time.Minute),
		}
		if err := env.checks.AppendSample(ctx, sample); err != nil {
			t.Fatalf("AppendSample failed: %v", err)
		}
	}

	stats, err := env.service.Uptime(ctx, check.ID, time.Hour)
	if err != nil {
		t.Fatalf("Uptime failed: %v", err)
	}
	if stats.Samples != 4 {
		t.Errorf("samples = %d, want 4", stats.Samples)
	}
	if stats.UptimePct != 75 {
		t.Errorf("uptime = %.1f, want 75.0", stats.UptimePct)
	}
	if stats.AvgLatencyMs != 250 {
		t.Errorf("avg latency = %.1f, want 250.0", stats.AvgLatencyMs)
	}
}
