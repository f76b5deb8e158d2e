// Package pdf stores document forms as JSON manifests in file storage and assembles the
// signed artifact of a completed collection.
//
// It does not read or render PDF bytes. The manifest stands in for a PDF renderer behind
// ports.PdfEngine and ports.FormWriter; a renderer-backed engine can replace it without
// touching the services.
//
// A form lives at forms/<documentId>.json:
//
//	{"documentId": "...", "fields": [{"name": "...", "type": "text", "mandatory": true, "value": ""}],
//	 "signatures": {"signature": "<base64 image>"}, "revisions": [...]}
package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/google/uuid"
)

const contentType = "application/json"

// FormKey is the storage key of a document's form manifest.
func FormKey(documentID uuid.UUID) string {
	return fmt.Sprintf("forms/%s.json", documentID)
}

// SealedKey is the storage key of a collection's signed artifact.
func SealedKey(collectionID uuid.UUID) string {
	return fmt.Sprintf("collections/%s/signed.json", collectionID)
}

// Revision records the fields changed by one save of a tracked document.
type Revision struct {
	SavedAt time.Time         `json:"savedAt"`
	Changes map[string]string `json:"changes"`
}

type form struct {
	DocumentID uuid.UUID         `json:"documentId"`
	Fields     []models.PDFField `json:"fields"`
	Signatures map[string]string `json:"signatures,omitempty"`
	Revisions  []Revision        `json:"revisions,omitempty"`
}

// Sealed is the signed artifact of a collection.
type Sealed struct {
	CollectionID uuid.UUID `json:"collectionId"`
	SealedAt     time.Time `json:"sealedAt"`
	Documents    []form    `json:"documents"`
	Digest       string    `json:"digest"` // sha256 over the JSON of Documents
}

// Engine implements the engine's PdfEngine over a FileStorage.
type Engine struct {
	files ports.FileStorage
	now   func() time.Time
}

// NewEngine creates a form engine on files.
func NewEngine(files ports.FileStorage) *Engine {
	return &Engine{files: files, now: time.Now}
}

// WithClock replaces the time source used for revisions and seals.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateForm stores the field definitions of a new document, replacing any previous form.
// Submitted values are dropped: a new form starts blank.
func (e *Engine) CreateForm(ctx context.Context, documentID uuid.UUID, fields []models.PDFField) error {
	blank := make([]models.PDFField, len(fields))
	for i, f := range fields {
		f.Value = ""
		blank[i] = f
	}
	return e.put(ctx, FormKey(documentID), form{DocumentID: documentID, Fields: blank})
}

// Load opens a document's form, or returns nil when none is stored. With trackChanges every
// SaveDocument appends a revision listing the changed fields.
func (e *Engine) Load(ctx context.Context, documentID uuid.UUID, trackChanges bool) (ports.PdfDocument, error) {
	f, err := e.read(ctx, documentID)
	if err != nil || f == nil {
		return nil, err
	}
	return &Document{engine: e, form: *f, track: trackChanges, changes: map[string]string{}}, nil
}

// Seal assembles the forms of documentIDs into one artifact and returns its key.
// Sealing twice overwrites the artifact with identical documents.
func (e *Engine) Seal(ctx context.Context, collectionID uuid.UUID, documentIDs []uuid.UUID) (string, error) {
	sealed := Sealed{CollectionID: collectionID, SealedAt: e.now().UTC()}
	for _, id := range documentIDs {
		f, err := e.read(ctx, id)
		if err != nil {
			return "", err
		}
		if f == nil {
			return "", fmt.Errorf("cannot seal collection %s: document %s has no form", collectionID, id)
		}
		sealed.Documents = append(sealed.Documents, *f)
	}

	docs, err := json.Marshal(sealed.Documents)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(docs)
	sealed.Digest = hex.EncodeToString(sum[:])

	key := SealedKey(collectionID)
	if err := e.put(ctx, key, sealed); err != nil {
		return "", err
	}
	return key, nil
}

func (e *Engine) read(ctx context.Context, documentID uuid.UUID) (*form, error) {
	data, err := e.files.Get(ctx, FormKey(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to load form of document %s: %w", documentID, err)
	}
	if data == nil {
		return nil, nil
	}
	var f form
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("corrupt form of document %s: %w", documentID, err)
	}
	return &f, nil
}

func (e *Engine) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.files.Put(ctx, key, data, contentType)
}

// Document is an open form. Writes stay in memory until SaveDocument.
type Document struct {
	engine  *Engine
	form    form
	track   bool
	changes map[string]string
}

func (d *Document) GetAllFields() models.PDFFields {
	return models.PDFFields{DocumentID: d.form.DocumentID, Fields: append([]models.PDFField(nil), d.form.Fields...)}
}

func (d *Document) IsExists(name string) bool {
	return d.field(name) != nil
}

// UpdateValues writes form values. Checkbox values are normalized to "true"/"false".
// Every name must be a field of the form.
func (d *Document) UpdateValues(values map[string]string) error {
	for name, value := range values {
		f := d.field(name)
		if f == nil {
			return fmt.Errorf("document %s has no field %q", d.form.DocumentID, name)
		}
		if f.Type == models.FieldCheckbox {
			checked, err := parseCheckbox(value)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			value = strconv.FormatBool(checked)
		}
		f.Value = value
		d.changes[name] = value
	}
	return nil
}

// EmbedTextDataFields embeds signature images. The field keeps a marker value and the image is
// stored beside the form.
func (d *Document) EmbedTextDataFields(fields []models.SignerField) error {
	for _, sf := range fields {
		f := d.field(sf.FieldName)
		if f == nil {
			return fmt.Errorf("document %s has no field %q", d.form.DocumentID, sf.FieldName)
		}
		if d.form.Signatures == nil {
			d.form.Signatures = map[string]string{}
		}
		d.form.Signatures[sf.FieldName] = sf.FieldValue
		f.Value = "signed"
		d.changes[sf.FieldName] = "signed"
	}
	return nil
}

// SaveDocument writes the form back to storage.
func (d *Document) SaveDocument(ctx context.Context) error {
	if d.track && len(d.changes) > 0 {
		d.form.Revisions = append(d.form.Revisions, Revision{SavedAt: d.engine.now().UTC(), Changes: d.changes})
	}
	if err := d.engine.put(ctx, FormKey(d.form.DocumentID), d.form); err != nil {
		return fmt.Errorf("failed to save form of document %s: %w", d.form.DocumentID, err)
	}
	d.changes = map[string]string{}
	return nil
}

// Signature returns the embedded image of a signature field.
func (d *Document) Signature(name string) string {
	return d.form.Signatures[name]
}

// Revisions returns the recorded revisions.
func (d *Document) Revisions() []Revision {
	return d.form.Revisions
}

func (d *Document) field(name string) *models.PDFField {
	for i := range d.form.Fields {
		if d.form.Fields[i].Name == name {
			return &d.form.Fields[i]
		}
	}
	return nil
}

func parseCheckbox(v string) (bool, error) {
	switch v {
	case "", "off", "Off", "no":
		return false, nil
	case "on", "On", "yes", "Yes":
		return true, nil
	}
	return strconv.ParseBool(v)
}
