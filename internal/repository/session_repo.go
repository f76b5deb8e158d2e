package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepository stores signer token mappings, the session records behind signing links.
//
// Database Table: signer_token_mappings (unique signer_id: one live mapping per signer)
type SessionRepository struct {
	db database.Querier
}

// NewSessionRepository creates a repository bound to db (pool or transaction).
func NewSessionRepository(db database.Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Read returns the mapping for token, or nil when the token is unknown.
func (r *SessionRepository) Read(ctx context.Context, token uuid.UUID) (*models.SignerTokenMapping, error) {
	query := `
        SELECT token, signer_id, collection_id, jwt, auth_token, created_at
        FROM signer_token_mappings
        WHERE token = $1`
	return r.scan(r.db.QueryRow(ctx, query, token))
}

// ReadBySigner returns the signer's live mapping, or nil.
func (r *SessionRepository) ReadBySigner(ctx context.Context, signerID uuid.UUID) (*models.SignerTokenMapping, error) {
	query := `
        SELECT token, signer_id, collection_id, jwt, auth_token, created_at
        FROM signer_token_mappings
        WHERE signer_id = $1`
	return r.scan(r.db.QueryRow(ctx, query, signerID))
}

// Create stores m. An existing mapping of the same signer is superseded: its token stops resolving
// and its step-up authentication is discarded.
//
// Side Effects:
//   - Sets m.CreatedAt to the server timestamp
func (r *SessionRepository) Create(ctx context.Context, m *models.SignerTokenMapping) error {
	query := `
        INSERT INTO signer_token_mappings (token, signer_id, collection_id, jwt, auth_token)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (signer_id) DO UPDATE
            SET token = EXCLUDED.token,
                collection_id = EXCLUDED.collection_id,
                jwt = EXCLUDED.jwt,
                auth_token = EXCLUDED.auth_token,
                created_at = NOW()
        RETURNING created_at`

	err := r.db.QueryRow(ctx, query, m.Token, m.SignerID, m.CollectionID, m.JWT, m.AuthToken).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create mapping for signer %s: %w", m.SignerID, err)
	}
	return nil
}

// Update stores the mapping's JWT and auth token.
func (r *SessionRepository) Update(ctx context.Context, m *models.SignerTokenMapping) error {
	query := `UPDATE signer_token_mappings SET jwt = $1, auth_token = $2 WHERE token = $3`

	tag, err := r.db.Exec(ctx, query, m.JWT, m.AuthToken, m.Token)
	if err != nil {
		return fmt.Errorf("failed to update mapping of signer %s: %w", m.SignerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping of signer %s not found", m.SignerID)
	}
	return nil
}

// Delete removes the mapping for token. Deleting an unknown token is not an error.
func (r *SessionRepository) Delete(ctx context.Context, token uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM signer_token_mappings WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// DeleteByCollection removes every mapping of the collection's signers.
func (r *SessionRepository) DeleteByCollection(ctx context.Context, collectionID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM signer_token_mappings WHERE collection_id = $1`, collectionID); err != nil {
		return fmt.Errorf("failed to delete mappings of collection %s: %w", collectionID, err)
	}
	return nil
}

func (r *SessionRepository) scan(row pgx.Row) (*models.SignerTokenMapping, error) {
	var m models.SignerTokenMapping
	err := row.Scan(&m.Token, &m.SignerID, &m.CollectionID, &m.JWT, &m.AuthToken, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	return &m, nil
}
