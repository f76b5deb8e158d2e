// Package validation holds the pure predicates that decide whether a signer submission is
// legal against the persisted collection. None of them perform I/O: document field
// definitions are loaded by the caller and passed in as a Catalog.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
)

// Catalog maps a document id to the field definitions loaded from that document.
type Catalog map[uuid.UUID]models.PDFFields

// Has reports whether name is defined on document docID, or on any document when docID is zero.
func (c Catalog) Has(docID uuid.UUID, name string) bool {
	if docID != uuid.Nil {
		fields, ok := c[docID]
		return ok && fields.IsExists(name)
	}
	for _, fields := range c {
		if fields.IsExists(name) {
			return true
		}
	}
	return false
}

// Ownership selects how AreAllFieldsBelongToSigner treats fields the persisted signer does not own.
type Ownership int

const (
	// Lenient accepts any field defined in the collection, for partial and multi-step submissions.
	Lenient Ownership = iota
	// Strict only accepts fields already assigned to the persisted signer.
	Strict
)

var knownFieldTypes = map[models.FieldType]bool{
	models.FieldText:      true,
	models.FieldCheckbox:  true,
	models.FieldRadio:     true,
	models.FieldChoice:    true,
	models.FieldSignature: true,
}

// AreDocumentsBelongToDocumentCollection reports whether every document id in input exists in
// the persisted collection. A nil or document-less input passes.
func AreDocumentsBelongToDocumentCollection(persisted, input *models.DocumentCollection) bool {
	if input == nil || len(input.Documents) == 0 {
		return true
	}
	if persisted == nil {
		return false
	}
	for _, doc := range input.Documents {
		if persisted.Document(doc.ID) == nil {
			return false
		}
	}
	return true
}

// AreAllFieldsExistsInDocuments reports whether every signer field named in input is a real
// form field of the collection's documents. A field carrying a document id must exist on that
// document; a field without one may live on any document.
func AreAllFieldsExistsInDocuments(input *models.DocumentCollection, catalog Catalog) bool {
	if input == nil {
		return true
	}
	for _, signer := range input.Signers {
		for _, field := range signer.Fields {
			if field.FieldType != "" && !knownFieldTypes[field.FieldType] {
				return false
			}
			if !catalog.Has(field.DocumentID, field.FieldName) {
				return false
			}
		}
	}
	return true
}

// AreAllFieldsBelongToSigner reports whether the fields submitted by input may be written by the
// persisted signer. Under Lenient ownership a field passes when it is already on the persisted
// signer or is defined anywhere in the collection; under Strict only the former holds.
func AreAllFieldsBelongToSigner(persisted, input *models.Signer, catalog Catalog, mode Ownership) bool {
	if input == nil {
		return true
	}
	if persisted == nil {
		return false
	}
	for _, field := range input.Fields {
		if persisted.Field(field.FieldName) != nil {
			continue
		}
		if mode == Lenient && catalog.Has(field.DocumentID, field.FieldName) {
			continue
		}
		return false
	}
	return true
}

// AreAllMandatoryFieldsFilledIn reports whether every mandatory field of the persisted signer
// has a non-blank value under the same name somewhere in input.
func AreAllMandatoryFieldsFilledIn(persisted, input *models.Signer) bool {
	if persisted == nil {
		return true
	}
	for _, field := range persisted.Fields {
		if !field.Mandatory {
			continue
		}
		if input == nil || !hasValue(input.Fields, field.FieldName) {
			return false
		}
	}
	return true
}

// hasValue reports whether any entry named name carries a non-blank value.
func hasValue(fields []models.SignerField, name string) bool {
	for _, f := range fields {
		if f.FieldName == name && strings.TrimSpace(f.FieldValue) != "" {
			return true
		}
	}
	return false
}

// AreFieldsUnclaimedByOtherSigners reports whether none of fields is already assigned to a
// signer of c other than signerID. A field matches on its document and name; a field without
// a document matches by name on any document. Fields nobody owns yet pass.
func AreFieldsUnclaimedByOtherSigners(c *models.DocumentCollection, signerID uuid.UUID, fields []models.SignerField) bool {
	if c == nil {
		return true
	}
	for _, other := range c.Signers {
		if other.ID == signerID {
			continue
		}
		for _, owned := range other.Fields {
			for _, f := range fields {
				if f.FieldName != owned.FieldName {
					continue
				}
				if f.DocumentID == uuid.Nil || f.DocumentID == owned.DocumentID {
					return false
				}
			}
		}
	}
	return true
}

// IsValidForm checks the field definitions of a new document form: at least one field,
// non-blank unique names and known types.
func IsValidForm(fields []models.PDFField) error {
	if len(fields) == 0 {
		return errors.New("form has no fields")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return errors.New("form field without a name")
		}
		if seen[name] {
			return fmt.Errorf("form field %q is defined twice", name)
		}
		seen[name] = true
		if !knownFieldTypes[f.Type] {
			return fmt.Errorf("form field %q has unknown type %q", name, f.Type)
		}
	}
	return nil
}

// AreAllSignersSigned reports whether every signer has signed. An empty list is signed.
func AreAllSignersSigned(signers []models.Signer) bool {
	for _, s := range signers {
		if s.Status != models.SignerSigned {
			return false
		}
	}
	return true
}
