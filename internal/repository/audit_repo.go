package repository

import (
	"context"
	"fmt"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
)

// Audit actions written by the signing engine.
const (
	ActionCollectionSent        = "COLLECTION_SENT"
	ActionCollectionViewed      = "COLLECTION_VIEWED"
	ActionCollectionSigned      = "COLLECTION_SIGNED"
	ActionCollectionDeclined    = "COLLECTION_DECLINED"
	ActionCollectionReactivated = "COLLECTION_REACTIVATED"
	ActionCollectionCanceled    = "COLLECTION_CANCELED"
	ActionCollectionDeleted     = "COLLECTION_DELETED"
	ActionCollectionSendFailed  = "COLLECTION_SENDING_FAILED"
	ActionSignerSent            = "SIGNER_SENT"
	ActionSignerViewed          = "SIGNER_VIEWED"
	ActionSignerSigned          = "SIGNER_SIGNED"
	ActionSignerRejected        = "SIGNER_REJECTED"
	ActionSignerAuthenticated   = "SIGNER_AUTHENTICATED"
	ActionDocumentDownloaded    = "DOCUMENT_DOWNLOADED"
	ActionDocumentFormDefined   = "DOCUMENT_FORM_DEFINED"
)

// AuditRepository writes and reads the audit trail of collection and signer transitions.
//
// Immutability Note:
//
//	Audit entries are never modified or deleted once created.
type AuditRepository struct {
	db database.Querier
}

// NewAuditRepository creates a repository bound to db (pool or transaction).
//
// Example:
//
//	repo := repository.NewAuditRepository(pool)
//	err := repo.Log(ctx, entry)
func NewAuditRepository(db database.Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log creates a new audit log entry. Inside a transaction the entry commits or rolls back
// together with the transition it records.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - log: Entry to create (Action and CollectionID required)
//
// Side Effects:
//   - Sets log.ID and log.CreatedAt to the generated values
func (r *AuditRepository) Log(ctx context.Context, log *models.AuditLog) error {
	query := `
        INSERT INTO audit_log (actor_id, action, collection_id, signer_id, ip_address, details)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at
    `

	err := r.db.QueryRow(ctx, query,
		log.ActorID, log.Action, log.CollectionID, log.SignerID, log.IPAddress, log.Details,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit entry %s: %w", log.Action, err)
	}
	return nil
}

// ListByCollection returns the collection's audit trail, oldest first.
func (r *AuditRepository) ListByCollection(ctx context.Context, collectionID uuid.UUID, limit int) ([]models.AuditLog, error) {
	query := `
        SELECT id, actor_id, action, collection_id, signer_id, ip_address, details, created_at
        FROM audit_log
        WHERE collection_id = $1
        ORDER BY created_at, id
        LIMIT $2
    `

	rows, err := r.db.Query(ctx, query, collectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var log models.AuditLog
		if err := rows.Scan(
			&log.ID,
			&log.ActorID, // NULL for system actions
			&log.Action,
			&log.CollectionID,
			&log.SignerID,
			&log.IPAddress,
			&log.Details,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}
