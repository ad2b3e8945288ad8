package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sqlx.DB with additional functionality
type DB struct {
	*sqlx.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists for file-backed databases
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Build connection string with pragmas
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON", dbPath)

	db, err := sqlx.Connect("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool for SQLite
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &DB{DB: db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	slog.Info("running database migrations")

	// Initial schema - creates all tables
	schema := `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA foreign_keys=ON;

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    repo_full_name TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Provider configuration, one per project
CREATE TABLE IF NOT EXISTS provider_configs (
    project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
    provider TEXT NOT NULL CHECK(provider IN ('hosted', 'docker', 'mock')),
    provider_token TEXT,
    provider_project_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Environments table
CREATE TABLE IF NOT EXISTS environments (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    type TEXT NOT NULL CHECK(type IN ('PREVIEW', 'STAGING', 'PROD')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(project_id, type)
);

-- Versioned encrypted environment variables
CREATE TABLE IF NOT EXISTS env_vars (
    id TEXT PRIMARY KEY,
    environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    value_ciphertext TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(environment_id, key, version)
);

-- Preview deployments, one active row per (project, PR)
CREATE TABLE IF NOT EXISTS preview_deployments (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    pr_number INTEGER NOT NULL,
    branch TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('QUEUED', 'BUILDING', 'READY', 'ERROR', 'DESTROYED')),
    provider_deployment_id TEXT,
    url TEXT,
    metadata TEXT,
    attempt_id TEXT,
    attempt_started_at DATETIME,
    destroyed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(project_id, pr_number)
);

-- Append-only deploy event log
CREATE TABLE IF NOT EXISTS deploy_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    pr_number INTEGER NOT NULL,
    branch TEXT NOT NULL,
    provider TEXT NOT NULL,
    attempt_id TEXT NOT NULL,
    stage TEXT NOT NULL CHECK(stage IN ('CREATE_REQUESTED', 'CREATE_STARTED', 'PROVIDER_BUILDING', 'READY', 'ERROR', 'TEARDOWN_REQUESTED', 'TEARDOWN_DONE')),
    error_reason TEXT,
    message TEXT,
    status_code INTEGER,
    duration_ms INTEGER,
    metadata TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Daily rollups, one row per (project, UTC day)
CREATE TABLE IF NOT EXISTS daily_deploy_stats (
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    day DATETIME NOT NULL,
    create_attempts INTEGER NOT NULL DEFAULT 0,
    create_success INTEGER NOT NULL DEFAULT 0,
    create_error INTEGER NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    p50_create_ms INTEGER,
    p95_create_ms INTEGER,
    p99_create_ms INTEGER,
    mean_create_ms INTEGER,
    error_by_reason TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(project_id, day)
);

-- Health check configuration
CREATE TABLE IF NOT EXISTS health_checks (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    environment_id TEXT REFERENCES environments(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    method TEXT NOT NULL DEFAULT 'GET',
    headers TEXT,
    expected_min INTEGER NOT NULL DEFAULT 200,
    expected_max INTEGER NOT NULL DEFAULT 399,
    response_contains TEXT,
    interval_sec INTEGER NOT NULL DEFAULT 60,
    timeout_ms INTEGER NOT NULL DEFAULT 5000,
    failure_threshold INTEGER NOT NULL DEFAULT 3,
    recovery_threshold INTEGER NOT NULL DEFAULT 2,
    alert_cooldown_min INTEGER NOT NULL DEFAULT 30,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_status TEXT CHECK(last_status IN ('OK', 'DEGRADED') OR last_status IS NULL),
    last_latency_ms INTEGER,
    last_checked_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Append-only probe results
CREATE TABLE IF NOT EXISTS health_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    health_check_id TEXT NOT NULL REFERENCES health_checks(id) ON DELETE CASCADE,
    ok INTEGER NOT NULL,
    status_code INTEGER,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Append-only alert transitions
CREATE TABLE IF NOT EXISTS alert_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    health_check_id TEXT NOT NULL REFERENCES health_checks(id) ON DELETE CASCADE,
    type TEXT NOT NULL CHECK(type IN ('DEGRADED', 'RECOVERED')),
    message TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Durable job queue
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'succeeded', 'dead')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    backoff_base_ms INTEGER NOT NULL DEFAULT 2000,
    backoff_max_ms INTEGER NOT NULL DEFAULT 5000,
    last_error TEXT,
    next_run_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Repeatable probe registrations, at most one per health check
CREATE TABLE IF NOT EXISTS probe_schedules (
    health_check_id TEXT PRIMARY KEY REFERENCES health_checks(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    interval_sec INTEGER NOT NULL,
    next_due_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Raw inbound webhook events
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Audit trail
CREATE TABLE IF NOT EXISTS audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    actor TEXT NOT NULL,
    project_id TEXT,
    action TEXT NOT NULL,
    metadata TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Notification channels
CREATE TABLE IF NOT EXISTS notification_channels (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    type TEXT NOT NULL CHECK(type IN ('SLACK')),
    slack_bot_token TEXT,
    slack_channel TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(project_id, type)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_deploy_events_project_created ON deploy_events(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_deploy_events_attempt ON deploy_events(attempt_id);
CREATE INDEX IF NOT EXISTS idx_health_samples_check_created ON health_samples(health_check_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alert_events_check_type ON alert_events(health_check_id, type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_next_run ON jobs(status, next_run_at);
CREATE INDEX IF NOT EXISTS idx_health_checks_project ON health_checks(project_id);
`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("database migrations completed")
	return nil
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// NullString creates a sql.NullString from a string
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// NullTime creates a sql.NullTime from a time.Time
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// NullInt64 creates a sql.NullInt64 from an int64, treating 0 as NULL
func NullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
