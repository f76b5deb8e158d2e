// Package ports declares the collaborator contracts the signing engine is written against.
// Stores return (nil, nil) when an entity does not exist; errors are reserved for failures.
package ports

import (
	"context"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
)

// Secondary ports: persistence

type CollectionStore interface {
	// Read loads a collection with its documents, signers and signer fields.
	Read(ctx context.Context, id uuid.UUID) (*models.DocumentCollection, error)
	// ReadBySigner loads the collection a signer belongs to.
	ReadBySigner(ctx context.Context, signerID uuid.UUID) (*models.DocumentCollection, error)
	// ReadForUpdate loads a collection and locks its row until the transaction ends.
	ReadForUpdate(ctx context.Context, id uuid.UUID) (*models.DocumentCollection, error)
	// Update persists the collection status and signed time.
	Update(ctx context.Context, c *models.DocumentCollection) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type SignerStore interface {
	GetSignerByID(ctx context.Context, id uuid.UUID) (*models.Signer, error)
	UpdateGeneratedOtpDetails(ctx context.Context, s *models.Signer) error
	UpdateOtpAttempts(ctx context.Context, signerID uuid.UUID, attempts int) error
	// UpdateSignerStatus persists status, transition timestamps and audit fields.
	UpdateSignerStatus(ctx context.Context, s *models.Signer) error
	// UpdateSignerFields persists submitted values for fields the signer owns, assigning new ones to it.
	UpdateSignerFields(ctx context.Context, signerID uuid.UUID, fields []models.SignerField) error
	AddAttachments(ctx context.Context, signerID uuid.UUID, attachments []models.SignerAttachment) error
}

type SessionStore interface {
	Read(ctx context.Context, token uuid.UUID) (*models.SignerTokenMapping, error)
	ReadBySigner(ctx context.Context, signerID uuid.UUID) (*models.SignerTokenMapping, error)
	// Create stores m, superseding any mapping the signer already has.
	Create(ctx context.Context, m *models.SignerTokenMapping) error
	Update(ctx context.Context, m *models.SignerTokenMapping) error
	Delete(ctx context.Context, token uuid.UUID) error
	DeleteByCollection(ctx context.Context, collectionID uuid.UUID) error
}

type AuditStore interface {
	Log(ctx context.Context, entry *models.AuditLog) error
	// ListByCollection returns up to limit entries of a collection, oldest first.
	ListByCollection(ctx context.Context, collectionID uuid.UUID, limit int) ([]models.AuditLog, error)
}

type CompanyConfigReader interface {
	Get(ctx context.Context, companyID uuid.UUID) (*models.CompanyConfiguration, error)
}

type CompanyConfigWriter interface {
	// Update stores cfg. It returns false when the company does not exist.
	Update(ctx context.Context, cfg *models.CompanyConfiguration) (bool, error)
}

// Stores bundles the stores bound to one connection or transaction.
type Stores struct {
	Collections CollectionStore
	Signers     SignerStore
	Sessions    SessionStore
	Audit       AuditStore
}

// UnitOfWork opens one transaction per top-level request.
// Do commits when fn returns nil and rolls back every write otherwise. Transient failures may
// run fn more than once, so fn must not leak state between attempts.
type UnitOfWork interface {
	Stores() Stores
	Do(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// Secondary ports: documents and files

type PdfEngine interface {
	// Load opens a document's form. It returns nil when the document has no stored form.
	Load(ctx context.Context, documentID uuid.UUID, trackChanges bool) (PdfDocument, error)
	// Seal assembles the signed artifact of a completed collection and returns its storage key.
	Seal(ctx context.Context, collectionID uuid.UUID, documentIDs []uuid.UUID) (string, error)
}

// FormWriter defines the fields of a document's form.
type FormWriter interface {
	// CreateForm replaces the form of documentID with fields, every value blank.
	CreateForm(ctx context.Context, documentID uuid.UUID, fields []models.PDFField) error
}

// PdfDocument is an open document form. Writes are buffered until SaveDocument.
type PdfDocument interface {
	GetAllFields() models.PDFFields
	IsExists(name string) bool
	UpdateValues(values map[string]string) error
	EmbedTextDataFields(fields []models.SignerField) error
	SaveDocument(ctx context.Context) error
}

type FileStorage interface {
	// Get returns nil data when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ScanResult is the verdict of the malware scanner for one attachment.
type ScanResult struct {
	IsValid   bool
	CleanFile string // sanitized base64 content to store
}

type AttachmentScanner interface {
	ValidateIsCleanFile(ctx context.Context, base64Content string) (ScanResult, error)
}

// Secondary ports: messaging and identity

type Notifier interface {
	SendSigningLinkToNextSigner(ctx context.Context, c *models.DocumentCollection, s *models.Signer, link string) error
	SendDocumentDecline(ctx context.Context, c *models.DocumentCollection, s *models.Signer) error
	// SendOtpCode delivers code on the signer's channel and returns the masked destination.
	SendOtpCode(ctx context.Context, s *models.Signer, code string) (string, error)
	SendSignedDocument(ctx context.Context, c *models.DocumentCollection, s *models.Signer, downloadLink string) error
	SendEmailNotification(ctx context.Context, to, subject, body string) error
}

type IdentityDecoder interface {
	// GetSigner returns the signer identified by a link JWT, or nil when the JWT is invalid.
	GetSigner(ctx context.Context, jwt string) (*models.Signer, error)
}

type TokenIssuer interface {
	IssueSignerToken(signerID, collectionID uuid.UUID) (string, error)
}
