// Package analytics computes deployment KPIs, time series, and daily
// rollups from the append-only deploy event log.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// Service derives metrics from deploy events
type Service struct {
	events   *queries.EventQueries
	stats    *queries.StatQueries
	projects *queries.ProjectQueries
	logger   *slog.Logger
}

// NewService creates an analytics Service
func NewService(events *queries.EventQueries, stats *queries.StatQueries, projects *queries.ProjectQueries) *Service {
	return &Service{
		events:   events,
		stats:    stats,
		projects: projects,
		logger:   slog.Default().With("component", "analytics"),
	}
}

// KPIs summarizes deploy attempts over a window
type KPIs struct {
	Attempts      int            `json:"attempts"`
	Successes     int            `json:"successes"`
	Errors        int            `json:"errors"`
	SuccessRate   float64        `json:"success_rate"`
	P50CreateMs   int64          `json:"p50_create_ms"`
	P95CreateMs   int64          `json:"p95_create_ms"`
	P99CreateMs   int64          `json:"p99_create_ms"`
	MeanCreateMs  int64          `json:"mean_create_ms"`
	ErrorByReason map[string]int `json:"error_by_reason"`
}

// DayBucket is one UTC-day point of the deploy time series
type DayBucket struct {
	Day         string  `json:"day"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	Errors      int     `json:"errors"`
	P95Ms       int64   `json:"p95_ms"`
	SuccessRate float64 `json:"success_rate"`
}

// attempt is the reduced view of one deploy attempt's event trail
type attempt struct {
	startedAt  time.Time
	started    bool
	succeeded  bool
	failed     bool
	durationMs int64
	reason     models.DeployErrorReason
}

// groupAttempts folds the event log into per-attempt outcomes. Attempts
// with no CREATE_STARTED event (teardown-only trails, stray errors) are
// not counted as deploy attempts.
func groupAttempts(events []*models.DeployEvent) []attempt {
	byID := make(map[string]*attempt)
	var order []string

	for _, e := range events {
		a, ok := byID[e.AttemptID]
		if !ok {
			a = &attempt{reason: models.ReasonUnknown}
			byID[e.AttemptID] = a
			order = append(order, e.AttemptID)
		}

		switch e.Stage {
		case models.StageCreateStarted:
			a.started = true
			a.startedAt = e.CreatedAt
		case models.StageReady:
			a.succeeded = true
			a.durationMs = e.GetDurationMs()
		case models.StageError:
			a.failed = true
			a.reason = e.GetErrorReason()
		}
	}

	attempts := make([]attempt, 0, len(order))
	for _, id := range order {
		a := byID[id]
		if !a.started {
			continue
		}
		attempts = append(attempts, *a)
	}
	return attempts
}

// ComputeKPIs aggregates deploy events for a project over [from, to]
func (s *Service) ComputeKPIs(ctx context.Context, projectID string, from, to time.Time) (*KPIs, error) {
	events, err := s.events.ListByProjectAndWindow(ctx, projectID, from, to)
	if err != nil {
		return nil, err
	}
	return computeKPIs(groupAttempts(events)), nil
}

func computeKPIs(attempts []attempt) *KPIs {
	kpis := &KPIs{ErrorByReason: make(map[string]int)}

	var durations []int64
	var totalDuration int64

	for _, a := range attempts {
		kpis.Attempts++
		if a.succeeded {
			kpis.Successes++
			durations = append(durations, a.durationMs)
			totalDuration += a.durationMs
		} else if a.failed {
			kpis.Errors++
			kpis.ErrorByReason[string(a.reason)]++
		}
	}

	// SuccessRate is a fraction in [0, 1]; formatting as a percentage is
	// left to presentation (the digest, dashboards)
	if kpis.Attempts > 0 {
		kpis.SuccessRate = float64(kpis.Successes) / float64(kpis.Attempts)
	}

	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		kpis.P50CreateMs = Percentile(durations, 0.50)
		kpis.P95CreateMs = Percentile(durations, 0.95)
		kpis.P99CreateMs = Percentile(durations, 0.99)
		kpis.MeanCreateMs = totalDuration / int64(len(durations))
	}

	return kpis
}

// Percentile returns the nearest-rank percentile of a sorted slice:
// the element at index ceil(n*p)-1, clamped into range.
func Percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// TimeSeries buckets deploy attempts by the UTC day of their
// CREATE_STARTED event, ascending
func (s *Service) TimeSeries(ctx context.Context, projectID string, from, to time.Time) ([]DayBucket, error) {
	events, err := s.events.ListByProjectAndWindow(ctx, projectID, from, to)
	if err != nil {
		return nil, err
	}

	attempts := groupAttempts(events)

	byDay := make(map[string][]attempt)
	for _, a := range attempts {
		day := a.startedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], a)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	buckets := make([]DayBucket, 0, len(days))
	for _, day := range days {
		kpis := computeKPIs(byDay[day])
		buckets = append(buckets, DayBucket{
			Day:         day,
			Attempts:    kpis.Attempts,
			Successes:   kpis.Successes,
			Errors:      kpis.Errors,
			P95Ms:       kpis.P95CreateMs,
			SuccessRate: kpis.SuccessRate,
		})
	}
	return buckets, nil
}

// AggregateDay recomputes and upserts the rollup for one UTC day.
// Re-running a day overwrites the same row.
func (s *Service) AggregateDay(ctx context.Context, projectID string, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24*time.Hour - time.Nanosecond)

	kpis, err := s.ComputeKPIs(ctx, projectID, from, to)
	if err != nil {
		return err
	}

	stat := &models.DailyDeployStat{
		ProjectID:      projectID,
		Day:            from,
		CreateAttempts: kpis.Attempts,
		CreateSuccess:  kpis.Successes,
		CreateError:    kpis.Errors,
		SuccessRate:    kpis.SuccessRate,
		UpdatedAt:      time.Now().UTC(),
	}

	if kpis.Successes > 0 {
		stat.P50CreateMs = database.NullInt64(kpis.P50CreateMs)
		stat.P95CreateMs = database.NullInt64(kpis.P95CreateMs)
		stat.P99CreateMs = database.NullInt64(kpis.P99CreateMs)
		stat.MeanCreateMs = database.NullInt64(kpis.MeanCreateMs)
	}

	if len(kpis.ErrorByReason) > 0 {
		data, err := json.Marshal(kpis.ErrorByReason)
		if err != nil {
			return fmt.Errorf("failed to encode error histogram: %w", err)
		}
		stat.ErrorByReason = models.NullRawMessage(data)
	}

	if err := s.stats.Upsert(ctx, stat); err != nil {
		return err
	}

	s.logger.Info("daily rollup stored",
		"project_id", projectID,
		"day", from.Format("2006-01-02"),
		"attempts", kpis.Attempts)
	return nil
}

// HandleDailyRollupJob is the queue handler for daily-rollup jobs
func (s *Service) HandleDailyRollupJob(ctx context.Context, payload []byte) error {
	var p models.DailyRollupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid rollup payload: %w", err)
	}
	return s.AggregateDay(ctx, p.ProjectID, p.Day)
}

// WeeklyDigest renders a human-readable summary of the trailing 7 days
func (s *Service) WeeklyDigest(ctx context.Context, projectID string) (string, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", fmt.Errorf("project not found")
	}

	now := time.Now().UTC()
	kpis, err := s.ComputeKPIs(ctx, projectID, now.AddDate(0, 0, -7), now)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly deploy digest for %s\n", project.Name)
	fmt.Fprintf(&b, "Attempts: %d (%d succeeded, %d failed)\n", kpis.Attempts, kpis.Successes, kpis.Errors)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", kpis.SuccessRate*100)
	fmt.Fprintf(&b, "Deploy time: p50 %.1fs, p95 %.1fs\n",
		float64(kpis.P50CreateMs)/1000, float64(kpis.P95CreateMs)/1000)

	if len(kpis.ErrorByReason) > 0 {
		fmt.Fprintf(&b, "Top errors: %s\n", topErrors(kpis.ErrorByReason, 3))
	}

	return b.String(), nil
}

// topErrors formats the n most frequent error reasons, ties broken by name
func topErrors(histogram map[string]int, n int) string {
	type entry struct {
		reason string
		count  int
	}

	entries := make([]entry, 0, len(histogram))
	for reason, count := range histogram {
		entries = append(entries, entry{reason, count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].reason < entries[j].reason
	})

	if len(entries) > n {
		entries = entries[:n]
	}

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s (%d)", e.reason, e.count)
	}
	return strings.Join(parts, ", ")
}
