package portstest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/google/uuid"
)

// Sent records one notifier call.
type Sent struct {
	Kind     string // "link", "decline", "otp", "signed", "email"
	SignerID uuid.UUID
	To       string
	Payload  string
}

// Notifier records every dispatch. Err, when set, fails every call.
type Notifier struct {
	mu    sync.Mutex
	Means string
	Err   error
	Sent  []Sent
}

func (n *Notifier) record(s Sent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, s)
	return nil
}

// Of returns the recorded dispatches of one kind.
func (n *Notifier) Of(kind string) []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Sent
	for _, s := range n.Sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (n *Notifier) SendSigningLinkToNextSigner(_ context.Context, _ *models.DocumentCollection, s *models.Signer, link string) error {
	return n.record(Sent{Kind: "link", SignerID: s.ID, To: s.Contact.Email, Payload: link})
}

func (n *Notifier) SendDocumentDecline(_ context.Context, c *models.DocumentCollection, s *models.Signer) error {
	return n.record(Sent{Kind: "decline", SignerID: s.ID, To: c.OwnerEmail, Payload: s.DeclineReason})
}

func (n *Notifier) SendOtpCode(_ context.Context, s *models.Signer, code string) (string, error) {
	if err := n.record(Sent{Kind: "otp", SignerID: s.ID, To: s.Contact.Email, Payload: code}); err != nil {
		return "", err
	}
	return n.Means, nil
}

func (n *Notifier) SendSignedDocument(_ context.Context, _ *models.DocumentCollection, s *models.Signer, link string) error {
	return n.record(Sent{Kind: "signed", SignerID: s.ID, To: s.Contact.Email, Payload: link})
}

func (n *Notifier) SendEmailNotification(_ context.Context, to, subject, _ string) error {
	return n.record(Sent{Kind: "email", To: to, Payload: subject})
}

// Scanner marks every attachment clean unless listed in Infected. Calls counts scans.
type Scanner struct {
	mu       sync.Mutex
	Infected map[string]bool
	Err      error
	Calls    int
}

func (s *Scanner) ValidateIsCleanFile(_ context.Context, content string) (ports.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return ports.ScanResult{}, s.Err
	}
	if s.Infected[content] {
		return ports.ScanResult{IsValid: false}, nil
	}
	return ports.ScanResult{IsValid: true, CleanFile: content}, nil
}

// Decoder resolves link JWTs issued by Issuer.
type Decoder struct{}

func (Decoder) GetSigner(_ context.Context, jwt string) (*models.Signer, error) {
	parts := strings.Split(jwt, ":")
	if len(parts) != 3 || parts[0] != "jwt" {
		return nil, nil
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, nil
	}
	return &models.Signer{ID: id}, nil
}

// Issuer produces readable fake link JWTs.
type Issuer struct{}

func (Issuer) IssueSignerToken(signerID, collectionID uuid.UUID) (string, error) {
	return fmt.Sprintf("jwt:%s:%s", signerID, collectionID), nil
}

// Storage is an in-memory file store.
type Storage struct {
	mu    sync.Mutex
	Files map[string][]byte
}

func NewStorage() *Storage {
	return &Storage{Files: map[string][]byte{}}
}

func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Files[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *Storage) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files[key] = append([]byte(nil), data...)
	return nil
}

func (s *Storage) PresignDownload(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://files.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

// Pdf is an in-memory form engine. Values written through a loaded document become visible to
// later loads only after SaveDocument.
type Pdf struct {
	mu     sync.Mutex
	forms  map[uuid.UUID][]models.PDFField
	Sealed map[uuid.UUID]string
	Saves  int
}

func NewPdf() *Pdf {
	return &Pdf{forms: map[uuid.UUID][]models.PDFField{}, Sealed: map[uuid.UUID]string{}}
}

// AddForm registers the fields of a document.
func (p *Pdf) AddForm(documentID uuid.UUID, fields ...models.PDFField) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forms[documentID] = append([]models.PDFField(nil), fields...)
}

// CreateForm implements ports.FormWriter.
func (p *Pdf) CreateForm(_ context.Context, documentID uuid.UUID, fields []models.PDFField) error {
	blank := make([]models.PDFField, len(fields))
	for i, f := range fields {
		f.Value = ""
		blank[i] = f
	}
	p.AddForm(documentID, blank...)
	return nil
}

// Value returns the saved value of a field.
func (p *Pdf) Value(documentID uuid.UUID, name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.forms[documentID] {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func (p *Pdf) Load(_ context.Context, documentID uuid.UUID, _ bool) (ports.PdfDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fields, ok := p.forms[documentID]
	if !ok {
		return nil, nil
	}
	return &pdfDoc{engine: p, id: documentID, fields: append([]models.PDFField(nil), fields...)}, nil
}

func (p *Pdf) Seal(_ context.Context, collectionID uuid.UUID, _ []uuid.UUID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fmt.Sprintf("collections/%s/signed.json", collectionID)
	p.Sealed[collectionID] = key
	return key, nil
}

type pdfDoc struct {
	engine *Pdf
	id     uuid.UUID
	fields []models.PDFField
}

func (d *pdfDoc) GetAllFields() models.PDFFields {
	return models.PDFFields{DocumentID: d.id, Fields: append([]models.PDFField(nil), d.fields...)}
}

func (d *pdfDoc) IsExists(name string) bool {
	return d.GetAllFields().IsExists(name)
}

func (d *pdfDoc) UpdateValues(values map[string]string) error {
	for i := range d.fields {
		if v, ok := values[d.fields[i].Name]; ok {
			d.fields[i].Value = v
		}
	}
	return nil
}

func (d *pdfDoc) EmbedTextDataFields(fields []models.SignerField) error {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.FieldName] = f.FieldValue
	}
	return d.UpdateValues(values)
}

func (d *pdfDoc) SaveDocument(context.Context) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.engine.forms[d.id] = append([]models.PDFField(nil), d.fields...)
	d.engine.Saves++
	return nil
}
