package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	shotsJSON, err := json.Marshal(job.Shots)
	if err != nil {
		return fmt.Errorf("failed to marshal shots: %w", err)
	}

	query := `
		INSERT INTO jobs (
			id, project_id, owner_id, aspect_ratio, phase, progress, shots,
			compile_enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.ProjectID, job.OwnerID, job.AspectRatio, job.Phase,
		job.Progress, shotsJSON, job.CompileEnabled,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

const jobColumns = `
	id, project_id, owner_id, aspect_ratio, phase, progress, shots,
	poll_attempts, compile_request_id, compile_poll_attempts, compile_enabled,
	cancel_requested, final_artifact_url, error_message, created_at, updated_at
`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	job := &models.Job{}
	var shotsJSON []byte
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.OwnerID, &job.AspectRatio, &job.Phase,
		&job.Progress, &shotsJSON, &job.PollAttempts, &job.CompileRequestID,
		&job.CompilePollAttempts, &job.CompileEnabled, &job.CancelRequested,
		&job.FinalArtifactURL, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shotsJSON, &job.Shots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shots: %w", err)
	}
	return job, nil
}

// GetJob loads a job regardless of owner. Worker-side only.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetOwnedJob loads a job scoped to its owner. A job belonging to a
// different owner reads as not found.
func (db *DB) GetOwnedJob(ctx context.Context, ownerID string, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`

	job, err := scanJob(db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// AcquireLease claims exclusive write access to a job until now+ttl. It
// succeeds only when the lease is free, expired, or already held by owner.
// Returns ErrLeaseHeld when another worker holds a live lease.
func (db *DB) AcquireLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error {
	query := `
		UPDATE jobs
		SET lease_owner = $2, lease_until = $3
		WHERE id = $1
		  AND (lease_owner IS NULL OR lease_until < NOW() OR lease_owner = $2)
	`

	result, err := db.ExecContext(ctx, query, jobID, owner, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lease result: %w", err)
	}
	if n == 0 {
		// Distinguish a held lease from a missing job.
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check job existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease frees the lease if still held by owner. Releasing a lease
// that expired or moved on is a no-op.
func (db *DB) ReleaseLease(ctx context.Context, jobID uuid.UUID, owner string) error {
	query := `
		UPDATE jobs
		SET lease_owner = NULL, lease_until = NULL
		WHERE id = $1 AND lease_owner = $2
	`

	if _, err := db.ExecContext(ctx, query, jobID, owner); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// CommitJob persists the full mutable state of a job in one statement,
// guarded by the lease. Returns ErrStale when the lease was lost, so the
// worker knows its writes no longer land.
func (db *DB) CommitJob(ctx context.Context, job *models.Job, leaseOwner string) error {
	shotsJSON, err := json.Marshal(job.Shots)
	if err != nil {
		return fmt.Errorf("failed to marshal shots: %w", err)
	}

	query := `
		UPDATE jobs
		SET phase = $3, progress = $4, shots = $5, poll_attempts = $6,
		    compile_request_id = $7, compile_poll_attempts = $8,
		    final_artifact_url = $9, error_message = $10, updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND lease_until >= NOW()
	`

	result, err := db.ExecContext(
		ctx, query,
		job.ID, leaseOwner, job.Phase, job.Progress, shotsJSON,
		job.PollAttempts, job.CompileRequestID, job.CompilePollAttempts,
		job.FinalArtifactURL, job.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// ExtendLease pushes the lease deadline forward for long-running steps.
func (db *DB) ExtendLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error {
	query := `
		UPDATE jobs
		SET lease_until = $3
		WHERE id = $1 AND lease_owner = $2 AND lease_until >= NOW()
	`

	result, err := db.ExecContext(ctx, query, jobID, owner, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// ListResumableJobs returns ids of jobs in non-terminal phases, for the
// startup sweep that re-arms their timers.
func (db *DB) ListResumableJobs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM jobs
		WHERE phase NOT IN ($1, $2)
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, models.PhaseComplete, models.PhaseFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequestCancel flags a running job for cancellation. The worker honors the
// flag at its next wake-up. Terminal jobs are left untouched.
func (db *DB) RequestCancel(ctx context.Context, ownerID string, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND phase NOT IN ($3, $4)
	`

	result, err := db.ExecContext(ctx, query, id, ownerID, models.PhaseComplete, models.PhaseFailed)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
