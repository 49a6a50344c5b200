package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Sentinel errors callers branch on.
var (
	ErrNotFound  = errors.New("not found")
	ErrLeaseHeld = errors.New("lease held by another worker")
	ErrStale     = errors.New("lease no longer held")
)

type DB struct {
	*sql.DB
}

// New opens a Postgres connection pool and verifies it with a ping.
func New(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	concept TEXT NOT NULL,
	style TEXT,
	target_duration INT NOT NULL,
	aspect_ratio TEXT NOT NULL,
	providers JSONB NOT NULL,
	plan JSONB,
	plan_approved BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	project_id UUID NOT NULL REFERENCES projects(id),
	owner_id TEXT NOT NULL,
	aspect_ratio TEXT NOT NULL,
	phase TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	shots JSONB NOT NULL,
	poll_attempts INT NOT NULL DEFAULT 0,
	compile_request_id TEXT,
	compile_poll_attempts INT NOT NULL DEFAULT 0,
	compile_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	final_artifact_url TEXT,
	error_message TEXT,
	lease_owner TEXT,
	lease_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_jobs_phase ON jobs(phase);

CREATE TABLE IF NOT EXISTS provider_credentials (
	owner_id TEXT NOT NULL,
	capability TEXT NOT NULL,
	endpoint TEXT NOT NULL DEFAULT '',
	token TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	quality TEXT NOT NULL DEFAULT '',
	extra JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner_id, capability)
);
`

// EnsureSchema creates the tables if they do not exist. Safe to run on
// every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
