package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	providersJSON, err := json.Marshal(p.Providers)
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}

	query := `
		INSERT INTO projects (
			id, owner_id, name, concept, style, target_duration, aspect_ratio, providers
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		p.ID, p.OwnerID, p.Name, p.Concept, p.Style, p.TargetDuration,
		p.AspectRatio, providersJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetProject retrieves a project scoped to its owner. A project belonging
// to a different owner reads as not found.
func (db *DB) GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT
			id, owner_id, name, concept, style, target_duration, aspect_ratio,
			providers, plan, plan_approved, created_at, updated_at
		FROM projects
		WHERE id = $1 AND owner_id = $2
	`

	p := &models.Project{}
	var providersJSON []byte
	var planJSON []byte
	err := db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Concept, &p.Style, &p.TargetDuration,
		&p.AspectRatio, &providersJSON, &planJSON, &p.PlanApproved,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if err := json.Unmarshal(providersJSON, &p.Providers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider config: %w", err)
	}
	if planJSON != nil {
		p.Plan = &models.Plan{}
		if err := json.Unmarshal(planJSON, p.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
	}

	return p, nil
}

// SaveProjectPlan stores a freshly directed or refined plan and clears any
// prior approval.
func (db *DB) SaveProjectPlan(ctx context.Context, ownerID string, id uuid.UUID, plan *models.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	query := `
		UPDATE projects
		SET plan = $3, plan_approved = FALSE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`

	result, err := db.ExecContext(ctx, query, id, ownerID, planJSON)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApprovePlan marks the stored plan as approved. Fails if no plan is stored.
func (db *DB) ApprovePlan(ctx context.Context, ownerID string, id uuid.UUID) error {
	query := `
		UPDATE projects
		SET plan_approved = TRUE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND plan IS NOT NULL
	`

	result, err := db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to approve plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
