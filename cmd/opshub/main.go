package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opshub/internal/analytics"
	"opshub/internal/api"
	"opshub/internal/audit"
	"opshub/internal/config"
	"opshub/internal/crypto"
	"opshub/internal/database"
	"opshub/internal/database/queries"
	"opshub/internal/deploy"
	"opshub/internal/docker"
	"opshub/internal/git"
	"opshub/internal/github"
	"opshub/internal/health"
	"opshub/internal/models"
	"opshub/internal/notify"
	"opshub/internal/provider"
	"opshub/internal/queue"
	"opshub/internal/version"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load(os.Getenv("OPSHUB_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	encryptor, err := crypto.NewEncryptor()
	if err != nil {
		slog.Error("failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	projectQueries := queries.NewProjectQueries(db.DB)
	deploymentQueries := queries.NewDeploymentQueries(db.DB)
	eventQueries := queries.NewEventQueries(db.DB)
	envQueries := queries.NewEnvQueries(db.DB)
	healthQueries := queries.NewHealthQueries(db.DB)
	jobQueries := queries.NewJobQueries(db.DB)
	notificationQueries := queries.NewNotificationQueries(db.DB)
	auditQueries := queries.NewAuditQueries(db.DB)

	q := queue.New(jobQueries)

	providers := []provider.Provider{provider.NewMockProvider()}
	providers = append(providers, provider.NewHostedProvider(cfg.Provider.APIBase))
	if dockerClient, derr := docker.NewClient(); derr != nil {
		slog.Warn("docker unavailable, docker provider disabled", "error", derr)
	} else if gitClient, gerr := git.NewClient(cfg.Git.WorkDir, git.WithHTTPAuth(cfg.Git.Username, cfg.Git.Token)); gerr != nil {
		slog.Warn("git unavailable, docker provider disabled", "error", gerr)
	} else {
		providers = append(providers, provider.NewDockerProvider(
			gitClient, dockerClient, cfg.Docker.PortRangeStart, cfg.Docker.PortRangeEnd))
	}
	registry := provider.NewRegistry(providers...)

	notifier := notify.NewNotifier(notificationQueries, encryptor, cfg.Features.DisableNotifications)
	prober := health.NewProber(healthQueries, notifier)
	healthSvc := health.NewService(healthQueries, q, prober)
	analyticsSvc := analytics.NewService(eventQueries, queries.NewStatQueries(db.DB), projectQueries)
	auditor := audit.NewRecorder(auditQueries)
	githubClient := github.NewClient(cfg.Git.Token)

	processor := deploy.NewProcessor(
		projectQueries, deploymentQueries, envQueries,
		deploy.NewEmitter(eventQueries), registry, encryptor,
		q, healthSvc, githubClient, auditor, cfg.Features)

	pool := queue.NewPool(jobQueries, cfg.Queue.PollInterval)
	pool.Register(models.JobCreatePreview, processor.HandleCreatePreview)
	pool.Register(models.JobTearDownPreview, processor.HandleTearDownPreview)
	pool.Register(models.JobHealthProbe, healthSvc.HandleProbeJob)
	pool.Register(models.JobNotify, notifier.HandleNotifyJob)
	pool.Register(models.JobDailyRollup, analyticsSvc.HandleDailyRollupJob)
	pool.Start(cfg.Queue.Workers)
	defer pool.Stop()

	scheduler := queue.NewScheduler(q, jobQueries, projectQueries, cfg.Queue.TickInterval)
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(cfg, db, &api.Services{
		Processor: processor,
		Queue:     q,
		Health:    healthSvc,
		Analytics: analyticsSvc,
		Encryptor: encryptor,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", cfg.Server.Addr(),
			"commit", version.GetShortCommit(),
			"workers", cfg.Queue.Workers)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
		slog.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
