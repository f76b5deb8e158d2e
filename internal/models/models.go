// Package models defines the domain entities of the signing engine.
// It includes the document collection aggregate, its documents and signers, the
// signer session record and the audit trail entry, mapped to PostgreSQL tables.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Enumerations
// ============================================================================

// DocumentStatus is the lifecycle state of a DocumentCollection.
type DocumentStatus string

const (
	DocumentCreated           DocumentStatus = "Created"
	DocumentSent              DocumentStatus = "Sent"
	DocumentViewed            DocumentStatus = "Viewed"
	DocumentSigned            DocumentStatus = "Signed"
	DocumentExtraServerSigned DocumentStatus = "ExtraServerSigned"
	DocumentDeclined          DocumentStatus = "Declined"
	DocumentSendingFailed     DocumentStatus = "SendingFailed"
	DocumentCanceled          DocumentStatus = "Canceled"
	DocumentDeleted           DocumentStatus = "Deleted"
)

// SignerStatus is the per-signer lifecycle state.
type SignerStatus string

const (
	SignerCreated  SignerStatus = "Created"
	SignerSent     SignerStatus = "Sent"
	SignerViewed   SignerStatus = "Viewed"
	SignerSigned   SignerStatus = "Signed"
	SignerRejected SignerStatus = "Rejected"
)

// SignMode is the signing topology of a collection.
type SignMode string

const (
	SelfSign          SignMode = "SelfSign"
	OrderedGroupSign  SignMode = "OrderedGroupSign"
	ParallelGroupSign SignMode = "ParallelGroupSign"
	Distribution      SignMode = "Distribution"
)

// SendingMethod is the channel used to reach a signer.
type SendingMethod string

const (
	SendByEmail  SendingMethod = "Email"
	SendBySMS    SendingMethod = "SMS"
	SendByTablet SendingMethod = "Tablet"
)

// OtpMode selects the step-up factor a signer must pass before acting.
type OtpMode string

const (
	OtpNone                    OtpMode = "None"
	OtpCodeRequired            OtpMode = "CodeRequired"
	OtpPasswordRequired        OtpMode = "PasswordRequired"
	OtpCodeAndPasswordRequired OtpMode = "CodeAndPasswordRequired"
)

// RequiresAuthentication reports whether a signer in this mode must authenticate before acting.
func (m OtpMode) RequiresAuthentication() bool {
	return m != "" && m != OtpNone
}

// RequiresPassword reports whether the mode checks the stored identification.
func (m OtpMode) RequiresPassword() bool {
	return m == OtpPasswordRequired || m == OtpCodeAndPasswordRequired
}

// DocumentOperation is the action a signer submits.
type DocumentOperation string

const (
	OperationClose   DocumentOperation = "close"
	OperationDecline DocumentOperation = "decline"
)

// FieldType is the kind of a PDF form field.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldCheckbox  FieldType = "checkbox"
	FieldRadio     FieldType = "radio"
	FieldChoice    FieldType = "choice"
	FieldSignature FieldType = "signature"
)

// ============================================================================
// Domain Models (Database Entities)
// ============================================================================

// DocumentCollection is the signable unit: one or more documents signed together.
// A collection exclusively owns its documents and signers.
//
// Database Table: document_collections
// Lifecycle: created with documents and signers, mutated by signing actions,
// soft-deleted by moving to DocumentDeleted.
type DocumentCollection struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Status         DocumentStatus `db:"status" json:"status"`
	Mode           SignMode       `db:"mode" json:"mode"`
	UserID         uuid.UUID      `db:"user_id" json:"userId"`                 // Owning user
	GroupID        uuid.UUID      `db:"group_id" json:"groupId"`               // Owning group
	CompanyID      uuid.UUID      `db:"company_id" json:"companyId"`           // Owning user's company
	OwnerEmail     string         `db:"owner_email" json:"-"`                  // Loaded from users for notifications
	RedirectURL    string         `db:"redirect_url" json:"redirectUrl"`       // May contain the [docId] placeholder
	DistributionID *uuid.UUID     `db:"distribution_id" json:"distributionId"` // Bulk-send grouping key
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	SignedTime     *time.Time     `db:"signed_time" json:"signedTime"`
	Documents      []Document     `json:"documents"`
	Signers        []Signer       `json:"signers"`
}

// Signer returns the signer with the given id, or nil.
func (c *DocumentCollection) Signer(id uuid.UUID) *Signer {
	for i := range c.Signers {
		if c.Signers[i].ID == id {
			return &c.Signers[i]
		}
	}
	return nil
}

// Document returns the document with the given id, or nil.
func (c *DocumentCollection) Document(id uuid.UUID) *Document {
	for i := range c.Documents {
		if c.Documents[i].ID == id {
			return &c.Documents[i]
		}
	}
	return nil
}

// Document is one file within a collection.
//
// Database Table: documents
type Document struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	CollectionID uuid.UUID  `db:"collection_id" json:"collectionId"`
	TemplateID   uuid.UUID  `db:"template_id" json:"templateId"`
	Name         string     `db:"name" json:"name"`
	Fields       []PDFField `json:"fields,omitempty"` // Inline values, used by self-sign submissions
}

// Contact is the identity a signer is linked to.
type Contact struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Email string    `db:"email" json:"email"`
	Phone string    `db:"phone" json:"phone"`
}

// Signer is a participant required to act on a collection.
//
// Database Table: signers
// Invariant: every SignerField.FieldName names a field defined on one of the collection's documents.
type Signer struct {
	ID                uuid.UUID            `db:"id" json:"id"`
	CollectionID      uuid.UUID            `db:"collection_id" json:"collectionId"`
	Order             int                  `db:"signing_order" json:"order"`
	Contact           Contact              `json:"contact"`
	Status            SignerStatus         `db:"status" json:"status"`
	SendingMethod     SendingMethod        `db:"sending_method" json:"sendingMethod"`
	Fields            []SignerField        `json:"fields"`
	Attachments       []SignerAttachment   `json:"attachments,omitempty"`
	Authentication    SignerAuthentication `json:"-"`
	IPAddress         string               `db:"ip_address" json:"-"`
	DeviceInformation string               `db:"device_information" json:"-"`
	FirstViewIP       string               `db:"first_view_ip" json:"-"`
	DeclineReason     string               `db:"decline_reason" json:"declineReason,omitempty"`
	TimeSent          *time.Time           `db:"time_sent" json:"timeSent"`
	TimeLastSent      *time.Time           `db:"time_last_sent" json:"timeLastSent"`
	TimeViewed        *time.Time           `db:"time_viewed" json:"timeViewed"`
	TimeSigned        *time.Time           `db:"time_signed" json:"timeSigned"`
	TimeRejected      *time.Time           `db:"time_rejected" json:"timeRejected"`
}

// Field returns the signer's field with the given name, or nil.
func (s *Signer) Field(name string) *SignerField {
	for i := range s.Fields {
		if s.Fields[i].FieldName == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// SignerField is a field a signer fills in.
//
// Database Table: signer_fields
type SignerField struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DocumentID uuid.UUID `db:"document_id" json:"documentId"`
	FieldName  string    `db:"field_name" json:"fieldName"`
	FieldValue string    `db:"field_value" json:"fieldValue"`
	FieldType  FieldType `db:"field_type" json:"fieldType"`
	Mandatory  bool      `db:"mandatory" json:"mandatory"`
}

// SignerAttachment is a file uploaded by a signer, base64 encoded.
//
// Database Table: signer_attachments
type SignerAttachment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Base64    string    `db:"content" json:"base64"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// SignerAuthentication holds the step-up settings of a signer.
type SignerAuthentication struct {
	Identification string `db:"identification"` // bcrypt hash of the signer password
	OtpDetails     OtpDetails
}

// OtpDetails is the transient one-time code state owned by a signer.
// Attempts reset to zero whenever a new code is issued.
type OtpDetails struct {
	Mode       OtpMode    `db:"otp_mode"`
	Code       string     `db:"otp_code"`
	Expiration *time.Time `db:"otp_expiration"`
	Attempts   int        `db:"otp_attempts"`
}

// SignerTokenMapping binds an opaque link token to one signer and one collection.
// At most one mapping exists per signer; creating a new one supersedes the old.
//
// Database Table: signer_token_mappings
type SignerTokenMapping struct {
	Token        uuid.UUID `db:"token"`
	SignerID     uuid.UUID `db:"signer_id"`
	CollectionID uuid.UUID `db:"collection_id"`
	JWT          string    `db:"jwt"`
	AuthToken    string    `db:"auth_token"` // Set once the signer passes OTP/password authentication
	CreatedAt    time.Time `db:"created_at"`
}

// Authenticated reports whether the session already passed step-up authentication.
func (m *SignerTokenMapping) Authenticated() bool {
	return m.AuthToken != ""
}

// PDFField is a form field defined on a document.
type PDFField struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Mandatory bool      `json:"mandatory"`
	Value     string    `json:"value,omitempty"`
}

// PDFFields is the set of fields loaded from a document.
type PDFFields struct {
	DocumentID uuid.UUID  `json:"documentId"`
	Fields     []PDFField `json:"fields"`
}

// IsExists reports whether a field with the given name is defined.
func (f PDFFields) IsExists(name string) bool {
	for _, field := range f.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

// CompanyConfiguration holds per-tenant settings read by the mode strategies.
//
// Database Table: companies
type CompanyConfiguration struct {
	CompanyID                uuid.UUID     `db:"id"`
	ShouldSendSignedDocument bool          `db:"send_signed_document"`
	DownloadLinkTTL          time.Duration `db:"download_link_ttl_seconds"`
}

// AuditLog is an audit trail entry for every collection and signer transition.
//
// Database Table: audit_log
type AuditLog struct {
	ID           int64      // Primary key
	ActorID      *uuid.UUID // Signer or user who acted (nil for system actions)
	Action       string     // e.g. "SIGNER_SIGNED", "COLLECTION_DECLINED"
	CollectionID uuid.UUID  // Affected collection
	SignerID     *uuid.UUID // Affected signer, if any
	IPAddress    string
	Details      string
	CreatedAt    time.Time
}
