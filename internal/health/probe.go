// Package health implements URL probing with debounced state-transition
// alerting for project health checks.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/metrics"
	"opshub/internal/models"
	"opshub/internal/notify"
)

// probeUserAgent identifies control-plane probes in upstream access logs
const probeUserAgent = "OpsHub-HealthCheck/1.0"

// maxBodySniff bounds how much of the response body is read for substring matching
const maxBodySniff = 256 * 1024

// Prober executes health probes and drives the alerting state machine
type Prober struct {
	checks   *queries.HealthQueries
	notifier *notify.Notifier
	client   *http.Client
	logger   *slog.Logger
}

// NewProber creates a Prober. The per-probe timeout comes from each check's
// configuration, so the shared client carries none.
func NewProber(checks *queries.HealthQueries, notifier *notify.Notifier) *Prober {
	return &Prober{
		checks:   checks,
		notifier: notifier,
		client:   &http.Client{},
		logger:   slog.Default().With("component", "prober"),
	}
}

// Run probes one health check and records the result. Disabled or deleted
// checks are skipped silently: schedules may outlive their check briefly.
func (p *Prober) Run(ctx context.Context, healthCheckID string) error {
	check, err := p.checks.GetCheck(ctx, healthCheckID)
	if err != nil {
		return err
	}
	if check == nil || !check.Enabled {
		p.logger.Debug("skipping probe for missing or disabled check", "health_check_id", healthCheckID)
		return nil
	}

	sample := p.probe(ctx, check)

	if err := p.checks.AppendSample(ctx, sample); err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}

	if sample.OK {
		metrics.ProbesTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.ProbesTotal.WithLabelValues("failed").Inc()
	}
	metrics.ProbeLatency.Observe(float64(sample.LatencyMs) / 1000)

	return p.evaluate(ctx, check, sample)
}

// probe performs the HTTP fetch and grades the response
func (p *Prober) probe(ctx context.Context, check *models.HealthCheck) *models.HealthSample {
	sample := &models.HealthSample{
		HealthCheckID: check.ID,
		CreatedAt:     time.Now().UTC(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, check.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, check.Method, check.URL, nil)
	if err != nil {
		sample.Error = database.NullString(err.Error())
		return sample
	}

	req.Header.Set("User-Agent", probeUserAgent)
	if len(check.Headers) > 0 {
		var headers map[string]string
		if err := json.Unmarshal([]byte(check.Headers), &headers); err == nil {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	sample.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		sample.Error = database.NullString(err.Error())
		return sample
	}
	defer resp.Body.Close()

	sample.StatusCode = database.NullInt64(int64(resp.StatusCode))

	if resp.StatusCode < check.ExpectedMin || resp.StatusCode > check.ExpectedMax {
		sample.Error = database.NullString(fmt.Sprintf("status %d outside expected range [%d, %d]",
			resp.StatusCode, check.ExpectedMin, check.ExpectedMax))
		return sample
	}

	if check.ResponseContains.Valid && check.ResponseContains.String != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySniff))
		if err != nil {
			sample.Error = database.NullString(fmt.Sprintf("failed to read body: %v", err))
			return sample
		}
		if !strings.Contains(string(body), check.ResponseContains.String) {
			sample.Error = database.NullString(fmt.Sprintf("body does not contain %q", check.ResponseContains.String))
			return sample
		}
	}

	sample.OK = true
	return sample
}

// evaluate updates the cached status and emits transition alerts. The
// cached status only flips once a unanimous streak of the configured
// length confirms the new state; a confirmed flip then emits an alert
// unless the cooldown gate suppresses it.
func (p *Prober) evaluate(ctx context.Context, check *models.HealthCheck, sample *models.HealthSample) error {
	prev := check.GetLastStatus()

	confirmed := prev
	if prev == "" {
		// First probe seeds the cached status without alerting
		if sample.OK {
			confirmed = models.CheckOK
		} else {
			confirmed = models.CheckDegraded
		}
	} else if sample.OK && prev == models.CheckDegraded {
		if p.hasStreak(ctx, check.ID, check.RecoveryThreshold, true) {
			confirmed = models.CheckOK
		}
	} else if !sample.OK && prev == models.CheckOK {
		if p.hasStreak(ctx, check.ID, check.FailureThreshold, false) {
			confirmed = models.CheckDegraded
		}
	}

	if err := p.checks.UpdateCheckStatus(ctx, check.ID, confirmed, sample.LatencyMs, sample.CreatedAt); err != nil {
		return fmt.Errorf("failed to update check status: %w", err)
	}

	if prev == "" || confirmed == prev {
		return nil
	}

	return p.alert(ctx, check, confirmed, sample)
}

// hasStreak reports whether the newest n samples unanimously have the
// wanted outcome
func (p *Prober) hasStreak(ctx context.Context, healthCheckID string, n int, wantOK bool) bool {
	if n < 1 {
		n = 1
	}

	samples, err := p.checks.RecentSamples(ctx, healthCheckID, n)
	if err != nil {
		p.logger.Error("failed to load recent samples", "health_check_id", healthCheckID, "error", err)
		return false
	}
	if len(samples) < n {
		return false
	}

	for _, s := range samples {
		if s.OK != wantOK {
			return false
		}
	}
	return true
}

// alert emits the transition alert unless a same-type alert fired within
// the cooldown window
func (p *Prober) alert(ctx context.Context, check *models.HealthCheck, status models.CheckStatus, sample *models.HealthSample) error {
	alertType := models.AlertDegraded
	if status == models.CheckOK {
		alertType = models.AlertRecovered
	}

	last, err := p.checks.LastAlertOfType(ctx, check.ID, alertType)
	if err != nil {
		return err
	}

	cooldown := time.Duration(check.AlertCooldownMin) * time.Minute
	if last != nil && time.Since(last.CreatedAt) < cooldown {
		p.logger.Info("alert suppressed by cooldown",
			"health_check_id", check.ID,
			"type", alertType,
			"last_alert_at", last.CreatedAt)
		return nil
	}

	var message string
	if alertType == models.AlertDegraded {
		detail := "probe failed"
		if sample.Error.Valid {
			detail = sample.Error.String
		}
		message = fmt.Sprintf("Health check %q is DEGRADED: %s", check.Name, detail)
	} else {
		message = fmt.Sprintf("Health check %q has RECOVERED (latency %dms)", check.Name, sample.LatencyMs)
	}

	alert := &models.AlertEvent{
		HealthCheckID: check.ID,
		Type:          alertType,
		Message:       message,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.checks.AppendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}

	metrics.AlertsEmitted.WithLabelValues(string(alertType)).Inc()

	level := notify.LevelError
	if alertType == models.AlertRecovered {
		level = notify.LevelInfo
	}
	p.notifier.NotifyProject(ctx, check.ProjectID, message, level)

	p.logger.Warn("health alert emitted",
		"health_check_id", check.ID,
		"type", alertType,
		"message", message)
	return nil
}
