package repository

import (
	"context"
	"fmt"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const signerColumns = `
        s.id, s.collection_id, s.signing_order, s.status, s.sending_method,
        ct.id, ct.name, ct.email, ct.phone,
        s.identification, s.otp_mode, s.otp_code, s.otp_expiration, s.otp_attempts,
        s.ip_address, s.device_information, s.first_view_ip, s.decline_reason,
        s.time_sent, s.time_last_sent, s.time_viewed, s.time_signed, s.time_rejected`

// SignerRepository persists signer state: status transitions, OTP details, field values and attachments.
//
// Database Tables: signers, signer_fields, signer_attachments
type SignerRepository struct {
	db database.Querier
}

// NewSignerRepository creates a repository bound to db (pool or transaction).
func NewSignerRepository(db database.Querier) *SignerRepository {
	return &SignerRepository{db: db}
}

// GetSignerByID loads a signer with its contact and fields, or nil when it does not exist.
func (r *SignerRepository) GetSignerByID(ctx context.Context, id uuid.UUID) (*models.Signer, error) {
	signers, err := querySigners(ctx, r.db, `WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, nil
	}
	if err := attachFields(ctx, r.db, signers, `WHERE f.signer_id = $1`, id); err != nil {
		return nil, err
	}
	return &signers[0], nil
}

// UpdateGeneratedOtpDetails stores a freshly issued code, its expiration and the reset attempt counter.
func (r *SignerRepository) UpdateGeneratedOtpDetails(ctx context.Context, s *models.Signer) error {
	otp := s.Authentication.OtpDetails
	query := `UPDATE signers SET otp_code = $1, otp_expiration = $2, otp_attempts = $3 WHERE id = $4`
	return r.exec(ctx, "update otp details", s.ID, query, otp.Code, otp.Expiration, otp.Attempts, s.ID)
}

// UpdateOtpAttempts stores the failed verification counter.
func (r *SignerRepository) UpdateOtpAttempts(ctx context.Context, signerID uuid.UUID, attempts int) error {
	query := `UPDATE signers SET otp_attempts = $1 WHERE id = $2`
	return r.exec(ctx, "update otp attempts", signerID, query, attempts, signerID)
}

// UpdateSignerStatus persists the signer's status, transition timestamps, audit fields and OTP state.
// OTP state is included so a reactivation clears codes and attempts in the same statement.
func (r *SignerRepository) UpdateSignerStatus(ctx context.Context, s *models.Signer) error {
	query := `
        UPDATE signers SET
            status = $1, ip_address = $2, device_information = $3, first_view_ip = $4, decline_reason = $5,
            time_sent = $6, time_last_sent = $7, time_viewed = $8, time_signed = $9, time_rejected = $10,
            otp_code = $11, otp_expiration = $12, otp_attempts = $13
        WHERE id = $14`
	otp := s.Authentication.OtpDetails
	return r.exec(ctx, "update signer status", s.ID, query,
		s.Status, s.IPAddress, s.DeviceInformation, s.FirstViewIP, s.DeclineReason,
		s.TimeSent, s.TimeLastSent, s.TimeViewed, s.TimeSigned, s.TimeRejected,
		otp.Code, otp.Expiration, otp.Attempts, s.ID,
	)
}

// UpdateSignerFields upserts submitted field values. A field already owned by another signer
// is left untouched; a field nobody owns yet is assigned to signerID.
//
// Database: unique (document_id, field_name) guarantees one owner per field.
func (r *SignerRepository) UpdateSignerFields(ctx context.Context, signerID uuid.UUID, fields []models.SignerField) error {
	query := `
        INSERT INTO signer_fields (id, signer_id, document_id, field_name, field_value, field_type, mandatory)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (document_id, field_name) DO UPDATE
            SET field_value = EXCLUDED.field_value
            WHERE signer_fields.signer_id = EXCLUDED.signer_id`

	for _, f := range fields {
		if f.DocumentID == uuid.Nil {
			return fmt.Errorf("field %q of signer %s has no document", f.FieldName, signerID)
		}
		id := f.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		fieldType := f.FieldType
		if fieldType == "" {
			fieldType = models.FieldText
		}
		if _, err := r.db.Exec(ctx, query, id, signerID, f.DocumentID, f.FieldName, f.FieldValue, fieldType, f.Mandatory); err != nil {
			return fmt.Errorf("failed to store field %q of signer %s: %w", f.FieldName, signerID, err)
		}
	}
	return nil
}

// AddAttachments stores scanned attachments for the signer.
func (r *SignerRepository) AddAttachments(ctx context.Context, signerID uuid.UUID, attachments []models.SignerAttachment) error {
	query := `
        INSERT INTO signer_attachments (id, signer_id, name, content)
        VALUES ($1, $2, $3, $4)`

	for _, a := range attachments {
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := r.db.Exec(ctx, query, id, signerID, a.Name, a.Base64); err != nil {
			return fmt.Errorf("failed to store attachment %q of signer %s: %w", a.Name, signerID, err)
		}
	}
	return nil
}

func (r *SignerRepository) exec(ctx context.Context, op string, signerID uuid.UUID, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s for signer %s: %w", op, signerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to %s: signer %s not found", op, signerID)
	}
	return nil
}

// querySigners runs the signer select with the given WHERE/ORDER tail.
func querySigners(ctx context.Context, db database.Querier, tail string, args ...interface{}) ([]models.Signer, error) {
	query := `SELECT` + signerColumns + `
        FROM signers s
        JOIN contacts ct ON ct.id = s.contact_id
        ` + tail

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read signers: %w", err)
	}
	defer rows.Close()

	var signers []models.Signer
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	return signers, rows.Err()
}

func scanSigner(row pgx.Row) (models.Signer, error) {
	var s models.Signer
	otp := &s.Authentication.OtpDetails
	err := row.Scan(
		&s.ID, &s.CollectionID, &s.Order, &s.Status, &s.SendingMethod,
		&s.Contact.ID, &s.Contact.Name, &s.Contact.Email, &s.Contact.Phone,
		&s.Authentication.Identification, &otp.Mode, &otp.Code, &otp.Expiration, &otp.Attempts,
		&s.IPAddress, &s.DeviceInformation, &s.FirstViewIP, &s.DeclineReason,
		&s.TimeSent, &s.TimeLastSent, &s.TimeViewed, &s.TimeSigned, &s.TimeRejected,
	)
	if err != nil {
		return s, fmt.Errorf("failed to scan signer: %w", err)
	}
	return s, nil
}

// attachFields loads signer fields with the given JOIN/WHERE tail and assigns them to signers by id.
func attachFields(ctx context.Context, db database.Querier, signers []models.Signer, tail string, args ...interface{}) error {
	if len(signers) == 0 {
		return nil
	}
	query := `
        SELECT f.id, f.signer_id, f.document_id, f.field_name, f.field_value, f.field_type, f.mandatory
        FROM signer_fields f
        ` + tail + `
        ORDER BY f.field_name`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to read signer fields: %w", err)
	}
	defer rows.Close()

	index := make(map[uuid.UUID]int, len(signers))
	for i := range signers {
		index[signers[i].ID] = i
	}

	for rows.Next() {
		var f models.SignerField
		var signerID uuid.UUID
		if err := rows.Scan(&f.ID, &signerID, &f.DocumentID, &f.FieldName, &f.FieldValue, &f.FieldType, &f.Mandatory); err != nil {
			return fmt.Errorf("failed to scan signer field: %w", err)
		}
		if i, ok := index[signerID]; ok {
			signers[i].Fields = append(signers[i].Fields, f)
		}
	}
	return rows.Err()
}
