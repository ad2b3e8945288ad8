package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opshub/internal/analytics"
	"opshub/internal/api/handlers"
	"opshub/internal/auth"
	"opshub/internal/config"
	"opshub/internal/crypto"
	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/deploy"
	"opshub/internal/health"
	"opshub/internal/queue"
)

// Services carries the shared components the router exposes over HTTP.
// They are constructed once in main and shared with the worker pool.
type Services struct {
	Processor *deploy.Processor
	Queue     *queue.Queue
	Health    *health.Service
	Analytics *analytics.Service
	Encryptor *crypto.Encryptor
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *database.DB, svc *Services) *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(auth.NewMiddleware(cfg.Server.APIToken).RequireAuth)

	// Initialize queries
	projectQueries := queries.NewProjectQueries(db.DB)
	deploymentQueries := queries.NewDeploymentQueries(db.DB)
	eventQueries := queries.NewEventQueries(db.DB)
	envQueries := queries.NewEnvQueries(db.DB)
	healthQueries := queries.NewHealthQueries(db.DB)
	jobQueries := queries.NewJobQueries(db.DB)
	notificationQueries := queries.NewNotificationQueries(db.DB)
	auditQueries := queries.NewAuditQueries(db.DB)

	// Initialize handlers
	systemHandler := handlers.NewSystemHandler(db, jobQueries)
	webhookHandler := handlers.NewWebhookHandler(cfg, eventQueries, svc.Processor)
	projectHandler := handlers.NewProjectHandler(
		projectQueries, deploymentQueries, eventQueries, envQueries,
		notificationQueries, auditQueries, svc.Encryptor)
	healthCheckHandler := handlers.NewHealthCheckHandler(healthQueries, svc.Health)
	analyticsHandler := handlers.NewAnalyticsHandler(svc.Analytics, svc.Queue)
	jobsHandler := handlers.NewJobsHandler(jobQueries)

	// Liveness and metrics
	r.Get("/health", systemHandler.Check)
	r.Handle("/metrics", promhttp.Handler())

	// Webhook endpoint (no auth - uses signature verification)
	r.Post("/webhook/github", webhookHandler.HandleGitHub)

	// API routes (JSON responses)
	r.Route("/api", func(r chi.Router) {
		r.Get("/system/status", systemHandler.Status)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)
			r.Get("/{projectID}", projectHandler.Get)

			r.Get("/{projectID}/provider", projectHandler.GetProviderConfig)
			r.Put("/{projectID}/provider", projectHandler.SetProviderConfig)
			r.Put("/{projectID}/notifications/slack", projectHandler.SetSlackChannel)

			r.Get("/{projectID}/env", projectHandler.ListEnvVars)
			r.Post("/{projectID}/env", projectHandler.SetEnvVar)

			r.Get("/{projectID}/deployments", projectHandler.ListDeployments)
			r.Get("/{projectID}/events", projectHandler.ListEvents)
			r.Get("/{projectID}/audit", projectHandler.ListAuditLog)

			r.Get("/{projectID}/health-checks", healthCheckHandler.List)
			r.Post("/{projectID}/health-checks", healthCheckHandler.Create)

			r.Get("/{projectID}/metrics/deploy", analyticsHandler.DeployMetrics)
			r.Post("/{projectID}/metrics/rollup", analyticsHandler.TriggerRollup)
			r.Post("/{projectID}/digest", analyticsHandler.WeeklyDigest)
		})

		r.Route("/health-checks", func(r chi.Router) {
			r.Get("/{checkID}", healthCheckHandler.Get)
			r.Post("/{checkID}/enable", healthCheckHandler.Enable)
			r.Post("/{checkID}/disable", healthCheckHandler.Disable)
			r.Post("/{checkID}/run", healthCheckHandler.RunNow)
			r.Get("/{checkID}/samples", healthCheckHandler.Samples)
			r.Get("/{checkID}/uptime", healthCheckHandler.Uptime)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobsHandler.List)
			r.Get("/counts", jobsHandler.Counts)
		})
	})

	return r
}
