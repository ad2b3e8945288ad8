// Package metrics exposes prometheus collectors for the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts finished queue jobs by kind and outcome
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_jobs_processed_total",
		Help: "Queue jobs processed, partitioned by kind and outcome.",
	}, []string{"kind", "outcome"})

	// JobsDead counts jobs that exhausted their retry budget
	JobsDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_jobs_dead_total",
		Help: "Queue jobs parked as dead after exhausting retries.",
	}, []string{"kind"})

	// DeploysTotal counts preview deployment outcomes
	DeploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_deploys_total",
		Help: "Preview deployments, partitioned by final status.",
	}, []string{"status"})

	// DeployDuration observes end-to-end preview deploy durations
	DeployDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opshub_deploy_duration_seconds",
		Help:    "End-to-end preview deployment duration.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ProbesTotal counts health probe results
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_health_probes_total",
		Help: "Health probes executed, partitioned by result.",
	}, []string{"status"})

	// ProbeLatency observes health probe round-trip latency
	ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opshub_probe_latency_seconds",
		Help:    "Health probe round-trip latency.",
		Buckets: prometheus.DefBuckets,
	})

	// WebhooksReceived counts inbound webhook deliveries by resolved action
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_webhooks_received_total",
		Help: "Inbound webhook deliveries, partitioned by resolved action.",
	}, []string{"action"})

	// AlertsEmitted counts health alerts that passed both alert gates
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_alerts_emitted_total",
		Help: "Health alerts emitted, partitioned by type.",
	}, []string{"type"})
)
