package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/reelforge/internal/providers"
)

// UpsertCredential stores or replaces an owner's credential for one
// capability (text, image, video, compile).
func (db *DB) UpsertCredential(ctx context.Context, ownerID string, capability providers.Capability, cred *providers.Credential) error {
	query := `
		INSERT INTO provider_credentials (owner_id, capability, endpoint, token, model, quality, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, capability) DO UPDATE
		SET endpoint = EXCLUDED.endpoint, token = EXCLUDED.token,
		    model = EXCLUDED.model, quality = EXCLUDED.quality,
		    extra = EXCLUDED.extra, updated_at = NOW()
	`

	_, err := db.ExecContext(
		ctx, query,
		ownerID, capability, cred.Endpoint, cred.Token, cred.Model,
		cred.Quality, cred.Extra,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns an owner's credential for one capability, or
// ErrNotFound when none is stored.
func (db *DB) GetCredential(ctx context.Context, ownerID string, capability providers.Capability) (*providers.Credential, error) {
	query := `
		SELECT endpoint, token, model, quality, extra
		FROM provider_credentials
		WHERE owner_id = $1 AND capability = $2
	`

	cred := &providers.Credential{}
	err := db.QueryRowContext(ctx, query, ownerID, capability).Scan(
		&cred.Endpoint, &cred.Token, &cred.Model, &cred.Quality, &cred.Extra,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// GetCredentials loads every stored credential for an owner, keyed by
// capability. Missing capabilities simply have no entry.
func (db *DB) GetCredentials(ctx context.Context, ownerID string) (map[providers.Capability]*providers.Credential, error) {
	query := `
		SELECT capability, endpoint, token, model, quality, extra
		FROM provider_credentials
		WHERE owner_id = $1
	`

	rows, err := db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	creds := make(map[providers.Capability]*providers.Credential)
	for rows.Next() {
		var capability providers.Capability
		cred := &providers.Credential{}
		err := rows.Scan(
			&capability, &cred.Endpoint, &cred.Token, &cred.Model,
			&cred.Quality, &cred.Extra,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds[capability] = cred
	}
	return creds, rows.Err()
}
