package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
	"opshub/internal/queue"
)

// Defaults applied when a check is created without explicit settings
const (
	DefaultMethod            = "GET"
	DefaultIntervalSec       = 60
	DefaultTimeoutMs         = 5000
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 2
	DefaultAlertCooldownMin  = 30
	DefaultExpectedMin       = 200
	DefaultExpectedMax       = 399
)

// CreateCheckInput captures the caller-supplied fields for a new check.
// Zero values fall back to the defaults above.
type CreateCheckInput struct {
	ProjectID         string
	EnvironmentID     string
	Name              string
	URL               string
	Method            string
	Headers           map[string]string
	ExpectedMin       int
	ExpectedMax       int
	ResponseContains  string
	IntervalSec       int
	TimeoutMs         int
	FailureThreshold  int
	RecoveryThreshold int
	AlertCooldownMin  int
	RunImmediately    bool
}

// Service manages health checks and their probe schedules
type Service struct {
	checks *queries.HealthQueries
	queue  *queue.Queue
	prober *Prober
	logger *slog.Logger
}

// NewService creates a health Service
func NewService(checks *queries.HealthQueries, q *queue.Queue, prober *Prober) *Service {
	return &Service{
		checks: checks,
		queue:  q,
		prober: prober,
		logger: slog.Default().With("component", "health"),
	}
}

// HandleProbeJob is the queue handler for health-probe jobs
func (s *Service) HandleProbeJob(ctx context.Context, payload []byte) error {
	var p models.HealthProbePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid probe payload: %w", err)
	}
	return s.prober.Run(ctx, p.HealthCheckID)
}

// CreateCheck creates a check, registers its probe schedule, and optionally
// fires an immediate probe
func (s *Service) CreateCheck(ctx context.Context, input CreateCheckInput) (*models.HealthCheck, error) {
	if input.ProjectID == "" || input.Name == "" || input.URL == "" {
		return nil, fmt.Errorf("project, name and url are required")
	}

	check := &models.HealthCheck{
		ID:                uuid.New().String(),
		ProjectID:         input.ProjectID,
		EnvironmentID:     database.NullString(input.EnvironmentID),
		Name:              input.Name,
		URL:               input.URL,
		Method:            withDefault(input.Method, DefaultMethod),
		ExpectedMin:       withDefaultInt(input.ExpectedMin, DefaultExpectedMin),
		ExpectedMax:       withDefaultInt(input.ExpectedMax, DefaultExpectedMax),
		ResponseContains:  database.NullString(input.ResponseContains),
		IntervalSec:       withDefaultInt(input.IntervalSec, DefaultIntervalSec),
		TimeoutMs:         withDefaultInt(input.TimeoutMs, DefaultTimeoutMs),
		FailureThreshold:  withDefaultInt(input.FailureThreshold, DefaultFailureThreshold),
		RecoveryThreshold: withDefaultInt(input.RecoveryThreshold, DefaultRecoveryThreshold),
		AlertCooldownMin:  withDefaultInt(input.AlertCooldownMin, DefaultAlertCooldownMin),
		Enabled:           true,
		CreatedAt:         time.Now().UTC(),
	}

	if len(input.Headers) > 0 {
		data, err := json.Marshal(input.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to encode headers: %w", err)
		}
		check.Headers = models.NullRawMessage(data)
	}

	if err := s.checks.CreateCheck(ctx, check); err != nil {
		return nil, err
	}

	if err := s.queue.RegisterProbeSchedule(ctx, check, input.RunImmediately); err != nil {
		return nil, err
	}

	s.logger.Info("health check created", "health_check_id", check.ID, "name", check.Name)
	return check, nil
}

// SetEnabled enables or disables a check, registering or removing its
// probe schedule to match
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	check, err := s.checks.GetCheck(ctx, id)
	if err != nil {
		return err
	}
	if check == nil {
		return fmt.Errorf("health check not found")
	}

	if err := s.checks.SetCheckEnabled(ctx, id, enabled); err != nil {
		return err
	}

	if enabled {
		return s.queue.RegisterProbeSchedule(ctx, check, false)
	}
	return s.queue.RemoveProbeSchedule(ctx, id)
}

// RunNow enqueues a one-off probe without touching the schedule
func (s *Service) RunNow(ctx context.Context, id string) error {
	check, err := s.checks.GetCheck(ctx, id)
	if err != nil {
		return err
	}
	if check == nil {
		return fmt.Errorf("health check not found")
	}

	_, err = s.queue.Enqueue(ctx, models.JobHealthProbe, models.HealthProbePayload{
		HealthCheckID: check.ID,
		ProjectID:     check.ProjectID,
		Immediate:     true,
	})
	return err
}

// CreateForPreview creates (or re-enables) the well-known check for a
// preview deployment once it is ready
func (s *Service) CreateForPreview(ctx context.Context, projectID string, prNumber int, url string) (*models.HealthCheck, error) {
	name := models.PreviewCheckName(prNumber)

	existing, err := s.checks.GetCheckByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// A redeploy gets a fresh preview URL; the reused check must
		// follow it or it probes the torn-down deployment forever
		if existing.URL != url {
			if err := s.checks.UpdateCheckURL(ctx, existing.ID, url); err != nil {
				return nil, err
			}
			existing.URL = url
		}
		if err := s.checks.SetCheckEnabled(ctx, existing.ID, true); err != nil {
			return nil, err
		}
		if err := s.queue.RegisterProbeSchedule(ctx, existing, true); err != nil {
			return nil, err
		}
		return existing, nil
	}

	return s.CreateCheck(ctx, CreateCheckInput{
		ProjectID:      projectID,
		Name:           name,
		URL:            url,
		RunImmediately: true,
	})
}

// DisableForPreview disables the preview check when its deployment is torn down
func (s *Service) DisableForPreview(ctx context.Context, projectID string, prNumber int) error {
	check, err := s.checks.GetCheckByName(ctx, projectID, models.PreviewCheckName(prNumber))
	if err != nil {
		return err
	}
	if check == nil {
		return nil
	}
	return s.SetEnabled(ctx, check.ID, false)
}

// UptimeStats summarizes a check's samples over a window
type UptimeStats struct {
	Samples      int     `json:"samples"`
	UptimePct    float64 `json:"uptime_pct"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Uptime computes uptime over the trailing window
func (s *Service) Uptime(ctx context.Context, id string, window time.Duration) (*UptimeStats, error) {
	now := time.Now().UTC()
	samples, err := s.checks.SamplesInWindow(ctx, id, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	stats := &UptimeStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats, nil
	}

	var ok int
	var totalLatency int64
	for _, sample := range samples {
		if sample.OK {
			ok++
		}
		totalLatency += sample.LatencyMs
	}

	stats.UptimePct = float64(ok) / float64(len(samples)) * 100
	stats.AvgLatencyMs = float64(totalLatency) / float64(len(samples))
	return stats, nil
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func withDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
