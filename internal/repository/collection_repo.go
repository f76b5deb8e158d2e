// Package repository implements the PostgreSQL stores behind the signing engine's ports.
// Every repository runs its statements on a database.Querier, so the same code serves the
// connection pool and an open transaction handed out by the UnitOfWork.
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

const collectionColumns = `
        c.id, c.name, c.status, c.mode, c.user_id, c.group_id, c.company_id, u.email,
        c.redirect_url, c.distribution_id, c.created_at, c.signed_time`

// CollectionRepository loads and persists document collections with their documents and signers.
//
// Database Tables: document_collections, documents, signers, contacts, signer_fields
type CollectionRepository struct {
	db database.Querier
}

// NewCollectionRepository creates a repository bound to db (pool or transaction).
func NewCollectionRepository(db database.Querier) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// Read loads a collection aggregate by id.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - id: Collection id
//
// Returns:
//   - *models.DocumentCollection: Collection with documents, signers and signer fields; nil if not found
//   - error: Database error, nil on success or not found
func (r *CollectionRepository) Read(ctx context.Context, id uuid.UUID) (*models.DocumentCollection, error) {
	query := `SELECT` + collectionColumns + `
        FROM document_collections c
        JOIN users u ON u.id = c.user_id
        WHERE c.id = $1`
	return r.read(ctx, query, id)
}

// ReadForUpdate loads a collection and takes a row lock on it for the rest of the transaction.
// Concurrent signers of the same collection serialize here.
func (r *CollectionRepository) ReadForUpdate(ctx context.Context, id uuid.UUID) (*models.DocumentCollection, error) {
	query := `SELECT` + collectionColumns + `
        FROM document_collections c
        JOIN users u ON u.id = c.user_id
        WHERE c.id = $1
        FOR UPDATE OF c`
	return r.read(ctx, query, id)
}

// ReadBySigner loads the collection that owns signerID, or nil.
func (r *CollectionRepository) ReadBySigner(ctx context.Context, signerID uuid.UUID) (*models.DocumentCollection, error) {
	var collectionID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT collection_id FROM signers WHERE id = $1`, signerID).Scan(&collectionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection of signer %s: %w", signerID, err)
	}
	return r.Read(ctx, collectionID)
}

// Update persists the collection status and signed time.
func (r *CollectionRepository) Update(ctx context.Context, c *models.DocumentCollection) error {
	query := `UPDATE document_collections SET status = $1, signed_time = $2 WHERE id = $3`

	tag, err := r.db.Exec(ctx, query, c.Status, c.SignedTime, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update collection %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %s not found", c.ID)
	}
	return nil
}

// Exists reports whether a collection with id is stored.
func (r *CollectionRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM document_collections WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", id, err)
	}
	return exists, nil
}

func (r *CollectionRepository) read(ctx context.Context, query string, id uuid.UUID) (*models.DocumentCollection, error) {
	var c models.DocumentCollection
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Status, &c.Mode, &c.UserID, &c.GroupID, &c.CompanyID, &c.OwnerEmail,
		&c.RedirectURL, &c.DistributionID, &c.CreatedAt, &c.SignedTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", id, err)
	}

	if c.Documents, err = r.documents(ctx, id); err != nil {
		return nil, err
	}
	if c.Signers, err = querySigners(ctx, r.db, `WHERE s.collection_id = $1 ORDER BY s.signing_order, s.id`, id); err != nil {
		return nil, err
	}
	if err := attachFields(ctx, r.db, c.Signers,
		`JOIN signers s ON s.id = f.signer_id WHERE s.collection_id = $1`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CollectionRepository) documents(ctx context.Context, collectionID uuid.UUID) ([]models.Document, error) {
	query := `
        SELECT id, collection_id, template_id, name
        FROM documents
        WHERE collection_id = $1
        ORDER BY name, id`

	rows, err := r.db.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents of %s: %w", collectionID, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.CollectionID, &d.TemplateID, &d.Name); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
