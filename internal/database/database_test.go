package database

import (
	"database/sql"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewInMemory(t *testing.T) {
	db := newTestDB(t)

	if err := db.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	var fk int
	if err := db.Get(&fk, "PRAGMA foreign_keys"); err != nil {
		t.Fatalf("failed to read foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Error("foreign key enforcement should be on")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// Re-running on an initialized database must not error or drop data
	if _, err := db.Exec(
		`INSERT INTO projects (id, name, repo_full_name) VALUES ('p1', 'acme-web', 'acme/web')`,
	); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("repeated Migrate failed: %v", err)
	}

	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM projects`); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if count != 1 {
		t.Errorf("projects = %d, want the seeded row to survive", count)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	_, err := db.Exec(
		`INSERT INTO preview_deployments (id, project_id, pr_number, branch, status)
		 VALUES ('d1', 'no-such-project', 1, 'main', 'QUEUED')`,
	)
	if err == nil {
		t.Error("expected a foreign key violation for an unknown project")
	}
}

func TestNullHelpers(t *testing.T) {
	if got := NullString("test"); !got.Valid || got.String != "test" {
		t.Errorf("NullString(test) = %+v", got)
	}
	if got := NullString(""); got.Valid {
		t.Errorf("NullString(empty) = %+v, want invalid", got)
	}

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := NullTime(ts); !got.Valid || !got.Time.Equal(ts) {
		t.Errorf("NullTime(%v) = %+v", ts, got)
	}
	if got := NullTime(time.Time{}); got.Valid {
		t.Errorf("NullTime(zero) = %+v, want invalid", got)
	}

	if got := NullInt64(42); got != (sql.NullInt64{Int64: 42, Valid: true}) {
		t.Errorf("NullInt64(42) = %+v", got)
	}
	if got := NullInt64(0); got.Valid {
		t.Errorf("NullInt64(0) = %+v, want invalid", got)
	}
}
