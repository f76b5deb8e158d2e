package validation_test

import (
	"testing"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/validation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var (
	docA = uuid.MustParse("0b0c1a52-3f7c-4c8e-9d6b-1f2a3b4c5d6e")
	docB = uuid.MustParse("7e8f9a0b-1c2d-4e3f-8a9b-0c1d2e3f4a5b")
)

func catalog() validation.Catalog {
	return validation.Catalog{
		docA: {DocumentID: docA, Fields: []models.PDFField{
			{Name: "full_name", Type: models.FieldText, Mandatory: true},
			{Name: "signature", Type: models.FieldSignature, Mandatory: true},
		}},
		docB: {DocumentID: docB, Fields: []models.PDFField{
			{Name: "agree", Type: models.FieldCheckbox},
			{Name: "witness_name", Type: models.FieldText},
		}},
	}
}

func persistedCollection() *models.DocumentCollection {
	return &models.DocumentCollection{
		ID:        uuid.New(),
		Documents: []models.Document{{ID: docA}, {ID: docB}},
	}
}

func TestAreDocumentsBelongToDocumentCollection(t *testing.T) {
	tests := []struct {
		name     string
		input    *models.DocumentCollection
		expected bool
	}{
		{"nil input passes", nil, true},
		{"empty input passes", &models.DocumentCollection{}, true},
		{"subset passes", &models.DocumentCollection{Documents: []models.Document{{ID: docB}}}, true},
		{"full set passes", &models.DocumentCollection{Documents: []models.Document{{ID: docA}, {ID: docB}}}, true},
		{"foreign document fails", &models.DocumentCollection{Documents: []models.Document{{ID: docA}, {ID: uuid.New()}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validation.AreDocumentsBelongToDocumentCollection(persistedCollection(), tt.input))
		})
	}
}

func TestAreAllFieldsExistsInDocuments(t *testing.T) {
	withFields := func(fields ...models.SignerField) *models.DocumentCollection {
		return &models.DocumentCollection{Signers: []models.Signer{{ID: uuid.New(), Fields: fields}}}
	}

	tests := []struct {
		name     string
		input    *models.DocumentCollection
		expected bool
	}{
		{"no signers", &models.DocumentCollection{}, true},
		{"field on its document", withFields(models.SignerField{DocumentID: docA, FieldName: "full_name"}), true},
		{"field without document id", withFields(models.SignerField{FieldName: "agree"}), true},
		{"field on the wrong document", withFields(models.SignerField{DocumentID: docB, FieldName: "full_name"}), false},
		{"unknown field", withFields(models.SignerField{DocumentID: docA, FieldName: "ssn"}), false},
		{"unknown field type", withFields(models.SignerField{DocumentID: docA, FieldName: "full_name", FieldType: "barcode"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validation.AreAllFieldsExistsInDocuments(tt.input, catalog()))
		})
	}
}

func TestAreAllFieldsBelongToSigner(t *testing.T) {
	persisted := &models.Signer{ID: uuid.New(), Fields: []models.SignerField{
		{DocumentID: docA, FieldName: "full_name", Mandatory: true},
	}}

	tests := []struct {
		name     string
		input    *models.Signer
		mode     validation.Ownership
		expected bool
	}{
		{"own field, lenient", &models.Signer{Fields: []models.SignerField{{DocumentID: docA, FieldName: "full_name"}}}, validation.Lenient, true},
		{"collection field, lenient", &models.Signer{Fields: []models.SignerField{{DocumentID: docB, FieldName: "witness_name"}}}, validation.Lenient, true},
		{"unknown field, lenient", &models.Signer{Fields: []models.SignerField{{FieldName: "ssn"}}}, validation.Lenient, false},
		{"own field, strict", &models.Signer{Fields: []models.SignerField{{DocumentID: docA, FieldName: "full_name"}}}, validation.Strict, true},
		{"collection field, strict", &models.Signer{Fields: []models.SignerField{{DocumentID: docB, FieldName: "witness_name"}}}, validation.Strict, false},
		{"nil input", nil, validation.Strict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validation.AreAllFieldsBelongToSigner(persisted, tt.input, catalog(), tt.mode))
		})
	}
}

func TestAreAllMandatoryFieldsFilledIn(t *testing.T) {
	persisted := &models.Signer{Fields: []models.SignerField{
		{FieldName: "full_name", Mandatory: true},
		{FieldName: "agree"},
	}}

	t.Run("mandatory filled", func(t *testing.T) {
		input := &models.Signer{Fields: []models.SignerField{{FieldName: "full_name", FieldValue: "Dana Levi"}}}
		assert.True(t, validation.AreAllMandatoryFieldsFilledIn(persisted, input))
	})

	t.Run("mandatory blank", func(t *testing.T) {
		input := &models.Signer{Fields: []models.SignerField{{FieldName: "full_name", FieldValue: "   "}, {FieldName: "agree", FieldValue: "true"}}}
		assert.False(t, validation.AreAllMandatoryFieldsFilledIn(persisted, input))
	})

	t.Run("mandatory missing", func(t *testing.T) {
		assert.False(t, validation.AreAllMandatoryFieldsFilledIn(persisted, &models.Signer{}))
	})

	t.Run("duplicate entries with a later value", func(t *testing.T) {
		input := &models.Signer{Fields: []models.SignerField{
			{FieldName: "full_name", FieldValue: ""},
			{FieldName: "full_name", FieldValue: "Dana Levi"},
		}}
		assert.True(t, validation.AreAllMandatoryFieldsFilledIn(persisted, input))
	})

	// A signer without mandatory fields passes whatever is submitted.
	optionalOnly := &models.Signer{Fields: []models.SignerField{{FieldName: "agree"}}}
	for _, input := range []*models.Signer{nil, {}, {Fields: []models.SignerField{{FieldName: "agree"}}}} {
		assert.True(t, validation.AreAllMandatoryFieldsFilledIn(optionalOnly, input))
	}
}

func TestAreFieldsUnclaimedByOtherSigners(t *testing.T) {
	self, other := uuid.New(), uuid.New()
	c := persistedCollection()
	c.Signers = []models.Signer{
		{ID: self, Fields: []models.SignerField{{DocumentID: docA, FieldName: "full_name"}}},
		{ID: other, Fields: []models.SignerField{{DocumentID: docA, FieldName: "signature"}}},
	}

	tests := []struct {
		name     string
		fields   []models.SignerField
		expected bool
	}{
		{name: "own field", fields: []models.SignerField{{DocumentID: docA, FieldName: "full_name"}}, expected: true},
		{name: "unowned catalog field", fields: []models.SignerField{{DocumentID: docB, FieldName: "witness_name"}}, expected: true},
		{name: "same name on another document", fields: []models.SignerField{{DocumentID: docB, FieldName: "signature"}}, expected: true},
		{name: "another signer's field", fields: []models.SignerField{{DocumentID: docA, FieldName: "signature"}}, expected: false},
		{name: "another signer's field without document", fields: []models.SignerField{{FieldName: "signature"}}, expected: false},
		{name: "nothing submitted", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validation.AreFieldsUnclaimedByOtherSigners(c, self, tt.fields))
		})
	}
}

func TestIsValidForm(t *testing.T) {
	tests := []struct {
		name      string
		fields    []models.PDFField
		expectErr bool
	}{
		{name: "valid", fields: []models.PDFField{{Name: "full_name", Type: models.FieldText}, {Name: "signature", Type: models.FieldSignature}}},
		{name: "empty", expectErr: true},
		{name: "blank name", fields: []models.PDFField{{Name: " ", Type: models.FieldText}}, expectErr: true},
		{name: "duplicate name", fields: []models.PDFField{{Name: "a", Type: models.FieldText}, {Name: "a", Type: models.FieldCheckbox}}, expectErr: true},
		{name: "unknown type", fields: []models.PDFField{{Name: "a", Type: "barcode"}}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.IsValidForm(tt.fields)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAreAllSignersSigned(t *testing.T) {
	assert.True(t, validation.AreAllSignersSigned(nil))
	assert.True(t, validation.AreAllSignersSigned([]models.Signer{{Status: models.SignerSigned}, {Status: models.SignerSigned}}))
	assert.False(t, validation.AreAllSignersSigned([]models.Signer{{Status: models.SignerSigned}, {Status: models.SignerSent}}))
	assert.False(t, validation.AreAllSignersSigned([]models.Signer{{Status: models.SignerRejected}}))
}
