package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avissapr/signflow/internal/lifecycle"
	"github.com/avissapr/signflow/internal/metrics"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/types"
	"github.com/avissapr/signflow/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// redirectPlaceholder is replaced by the collection id in a collection's redirect URL.
const redirectPlaceholder = "[docId]"

// UpdateInput is a signer submission. Collection is partial: it carries only the documents,
// signer fields and attachments the signer changed.
type UpdateInput struct {
	Collection        *models.DocumentCollection
	DeclineReason     string
	IPAddress         string
	DeviceInformation string
}

// UpdateResult tells the client where to go next. DownloadLink is set once the collection is finalized.
type UpdateResult struct {
	DownloadLink string `json:"downloadLink"`
	RedirectLink string `json:"redirectLink"`
}

// operation describes how one DocumentOperation runs through the shared pipeline.
type operation struct {
	checkMandatory bool // only a signature needs every mandatory field
	commit         func(u *UpdateService, ctx context.Context, tx ports.Stores, sub *submission, c *models.DocumentCollection, signer *models.Signer) (*UpdateResult, error)
}

var operations = map[models.DocumentOperation]operation{
	models.OperationClose:   {checkMandatory: true, commit: (*UpdateService).commitClose},
	models.OperationDecline: {checkMandatory: false, commit: (*UpdateService).commitDecline},
}

// submission is a validated signer action waiting to be committed.
type submission struct {
	op          models.DocumentOperation
	token       uuid.UUID
	signerID    uuid.UUID
	fields      []models.SignerField
	attachments []models.SignerAttachment
	reason      string
	ip          string
	device      string

	// preimages holds each written form as it was before the first attempt.
	preimages map[uuid.UUID]ports.PdfDocument
}

// UpdateService is the transactional signer action: validate, scan, write the documents,
// persist, and let the collection's mode decide what happens next.
type UpdateService struct {
	uow       ports.UnitOfWork
	sessions  *SessionService
	pdf       ports.PdfEngine
	scanner   ports.AttachmentScanner
	notifier  ports.Notifier
	modes     *modes.Factory
	validator *security.ValidationService
	ownership validation.Ownership
	logger    zerolog.Logger
	now       func() time.Time
}

// UpdateDeps are the collaborators of an UpdateService.
type UpdateDeps struct {
	UnitOfWork ports.UnitOfWork
	Sessions   *SessionService
	Pdf        ports.PdfEngine
	Scanner    ports.AttachmentScanner
	Notifier   ports.Notifier
	Modes      *modes.Factory
	Security   *security.SecurityConfig
	Logger     zerolog.Logger
	Now        func() time.Time
}

func NewUpdateService(d UpdateDeps) *UpdateService {
	ownership := validation.Lenient
	if d.Security.StrictFieldOwnership {
		ownership = validation.Strict
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &UpdateService{
		uow:       d.UnitOfWork,
		sessions:  d.Sessions,
		pdf:       d.Pdf,
		scanner:   d.Scanner,
		notifier:  d.Notifier,
		modes:     d.Modes,
		validator: security.NewValidationService(d.Security),
		ownership: ownership,
		logger:    d.Logger.With().Str("component", "update").Logger(),
		now:       now,
	}
}

// Update applies a signer's Close or Decline.
//
// Validation strictly precedes any write. Everything after validation runs in one
// transaction: a failure rolls back every database write and is returned to the caller.
// Document forms are written before the signer is persisted as Signed, and a failed
// transaction saves each written form back to the state it was loaded in.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - token: Opaque signer link token
//   - in: Partial collection and request metadata
//   - op: OperationClose or OperationDecline
//
// Returns:
//   - *UpdateResult: Download link (finalized collections only) and redirect link
//   - error: *types.Failure for expected outcomes, wrapped infrastructure error otherwise
func (u *UpdateService) Update(ctx context.Context, token string, in UpdateInput, op models.DocumentOperation) (*UpdateResult, error) {
	result, err := u.update(ctx, token, in, op)
	err = classify(err)

	code := types.CodeOf(err)
	if code == "" {
		code = "unexpected"
	}
	metrics.SigningActionsTotal.WithLabelValues(string(op), string(code)).Inc()

	switch {
	case err == nil:
		u.logger.Info().Str("operation", string(op)).Msg("signer action committed")
	case types.IsExpected(err):
		u.logger.Debug().Str("operation", string(op)).Str("code", string(code)).Msg(err.Error())
	default:
		u.logger.Error().Err(err).Str("operation", string(op)).Msg("signer action failed")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (u *UpdateService) update(ctx context.Context, token string, in UpdateInput, op models.DocumentOperation) (*UpdateResult, error) {
	plan, ok := operations[op]
	if !ok {
		return nil, types.ValidationFailure(types.InvalidDocumentOperation, "unknown operation %q", op)
	}

	sess, err := u.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	c, err := u.uow.Stores().Collections.Read(ctx, sess.Mapping.CollectionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", sess.Mapping.CollectionID)
	}
	persisted := c.Signer(sess.Mapping.SignerID)
	if persisted == nil {
		return nil, types.SessionFailure(types.InvalidToken, "signer is not part of collection %s", c.ID)
	}
	if err := guard(c, persisted, sess.Mapping); err != nil {
		return nil, err
	}

	sub, err := u.validate(ctx, plan, c, persisted, in)
	if err != nil {
		return nil, err
	}
	sub.op = op
	sub.token = sess.Mapping.Token
	sub.signerID = persisted.ID
	sub.preimages = make(map[uuid.UUID]ports.PdfDocument)

	var result *UpdateResult
	err = u.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		mapping, err := tx.Sessions.Read(ctx, sub.token)
		if err != nil {
			return err
		}
		if mapping == nil {
			return types.SessionFailure(types.InvalidToken, "signer token was superseded")
		}
		c, err := tx.Collections.ReadForUpdate(ctx, mapping.CollectionID)
		if err != nil {
			return err
		}
		if c == nil {
			return types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", mapping.CollectionID)
		}
		signer := c.Signer(sub.signerID)
		if signer == nil {
			return types.SessionFailure(types.InvalidToken, "signer is not part of collection %s", c.ID)
		}
		// a concurrent action may have moved the collection since validation
		if err := guard(c, signer, mapping); err != nil {
			return err
		}
		result, err = plan.commit(u, ctx, tx, sub, c, signer)
		if err != nil {
			// restore while the collection row is still locked
			u.restoreDocuments(ctx, sub)
		}
		return err
	})
	if err != nil {
		// the commit itself failed after a successful body
		u.restoreDocuments(ctx, sub)
		return nil, err
	}
	return result, nil
}

// guard rejects actions on inactive collections, repeated signatures and unauthenticated sessions.
func guard(c *models.DocumentCollection, signer *models.Signer, mapping *models.SignerTokenMapping) error {
	if signer.Status == models.SignerSigned {
		return types.ValidationFailure(types.DocumentAlreadySignedBySigner, "signer %s already signed", signer.ID)
	}
	if !lifecycle.IsActive(c.Status) {
		return types.ValidationFailure(types.DocumentCollectionNotActive, "collection %s is %s", c.ID, c.Status)
	}
	if signer.Authentication.OtpDetails.Mode.RequiresAuthentication() && !mapping.Authenticated() {
		return types.SessionFailure(types.AuthenticationRequired, "signer %s must authenticate first", signer.ID)
	}
	return nil
}

// validate runs the field predicates in their fixed order, then checks and scans attachments.
func (u *UpdateService) validate(ctx context.Context, plan operation, c *models.DocumentCollection, persisted *models.Signer, in UpdateInput) (*submission, error) {
	input := in.Collection
	if input == nil {
		input = &models.DocumentCollection{}
	}

	var submitted *models.Signer
	for i := range input.Signers {
		id := input.Signers[i].ID
		if id != uuid.Nil && id != persisted.ID {
			return nil, types.ValidationFailure(types.NotAllFieldsBelongToSigner, "submission names another signer")
		}
		submitted = &input.Signers[i]
	}
	if submitted == nil {
		submitted = &models.Signer{}
	}
	own := *submitted
	own.ID = persisted.ID
	own.Fields = append([]models.SignerField(nil), submitted.Fields...)
	if c.Mode == models.SelfSign {
		own.Fields = mergeInlineFields(own.Fields, input.Documents)
	}

	catalog, err := u.catalog(ctx, c)
	if err != nil {
		return nil, err
	}
	checked := &models.DocumentCollection{Documents: input.Documents, Signers: []models.Signer{own}}

	if !validation.AreDocumentsBelongToDocumentCollection(c, checked) {
		return nil, types.ValidationFailure(types.DocumentNotBelongToDocumentCollection, "document does not belong to collection %s", c.ID)
	}
	if !validation.AreAllFieldsExistsInDocuments(checked, catalog) {
		return nil, types.ValidationFailure(types.NotAllFieldsExistsInDocuments, "field is not defined on the collection's documents")
	}
	fields := resolveDocuments(own.Fields, persisted, c, catalog)
	if !validation.AreAllFieldsBelongToSigner(persisted, &own, catalog, u.ownership) ||
		!validation.AreFieldsUnclaimedByOtherSigners(c, persisted.ID, fields) {
		return nil, types.ValidationFailure(types.NotAllFieldsBelongToSigner, "field does not belong to signer %s", persisted.ID)
	}
	if plan.checkMandatory && !validation.AreAllMandatoryFieldsFilledIn(persisted, &own) {
		return nil, types.ValidationFailure(types.NotAllMandatoryFieldsFilledIn, "mandatory fields are missing")
	}

	reason := u.validator.SanitizeString(in.DeclineReason)
	if reason == "" {
		reason = u.validator.SanitizeString(submitted.DeclineReason)
	}
	if err := u.validator.ValidateDeclineReason(reason); err != nil {
		return nil, types.ValidationFailure(types.InvalidDocumentOperation, "%v", err)
	}

	attachments, err := u.scan(ctx, own.Attachments)
	if err != nil {
		return nil, err
	}

	return &submission{
		fields:      fields,
		attachments: attachments,
		reason:      reason,
		ip:          in.IPAddress,
		device:      u.validator.SanitizeString(in.DeviceInformation),
	}, nil
}

// catalog loads the field definitions of every document of c. Documents without a stored
// form contribute no fields.
func (u *UpdateService) catalog(ctx context.Context, c *models.DocumentCollection) (validation.Catalog, error) {
	catalog := make(validation.Catalog, len(c.Documents))
	for _, d := range c.Documents {
		doc, err := u.pdf.Load(ctx, d.ID, false)
		if err != nil {
			return nil, fmt.Errorf("failed to load form of document %s: %w", d.ID, err)
		}
		if doc == nil {
			continue
		}
		catalog[d.ID] = doc.GetAllFields()
	}
	return catalog, nil
}

// scan validates and scans every attachment; one dirty file aborts the submission.
func (u *UpdateService) scan(ctx context.Context, attachments []models.SignerAttachment) ([]models.SignerAttachment, error) {
	if err := u.validator.ValidateAttachmentCount(len(attachments)); err != nil {
		return nil, types.ValidationFailure(types.InvalidAttachment, "%v", err)
	}
	clean := make([]models.SignerAttachment, 0, len(attachments))
	for _, a := range attachments {
		if err := u.validator.ValidateAttachment(a.Name, a.Base64); err != nil {
			return nil, types.ValidationFailure(types.InvalidAttachment, "%v", err)
		}
		started := time.Now()
		res, err := u.scanner.ValidateIsCleanFile(ctx, a.Base64)
		metrics.AttachmentScanDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment %q: %w", a.Name, err)
		}
		if !res.IsValid {
			return nil, types.ValidationFailure(types.AttachmentNotClean, "attachment %q did not pass the malware scan", a.Name)
		}
		content := res.CleanFile
		if content == "" {
			content = a.Base64
		}
		clean = append(clean, models.SignerAttachment{ID: uuid.New(), Name: a.Name, Base64: content})
	}
	return clean, nil
}

func (u *UpdateService) commitDecline(ctx context.Context, tx ports.Stores, sub *submission, c *models.DocumentCollection, signer *models.Signer) (*UpdateResult, error) {
	now := u.now()
	signer.DeclineReason = sub.reason
	signer.IPAddress = sub.ip
	signer.DeviceInformation = sub.device
	if err := lifecycle.TransitionSigner(signer, models.SignerRejected, now); err != nil {
		return nil, err
	}
	if err := tx.Signers.UpdateSignerStatus(ctx, signer); err != nil {
		return nil, err
	}
	if len(sub.attachments) > 0 {
		if err := tx.Signers.AddAttachments(ctx, signer.ID, sub.attachments); err != nil {
			return nil, err
		}
	}
	// a declined signer cannot come back with the same link
	if err := tx.Sessions.Delete(ctx, sub.token); err != nil {
		return nil, err
	}
	if err := lifecycle.TransitionCollection(c, models.DocumentDeclined, now); err != nil {
		return nil, err
	}
	if err := tx.Collections.Update(ctx, c); err != nil {
		return nil, err
	}

	if err := u.audit(ctx, tx, repository.ActionSignerRejected, c, signer, sub.ip, sub.reason); err != nil {
		return nil, err
	}
	if err := u.audit(ctx, tx, repository.ActionCollectionDeclined, c, signer, sub.ip, ""); err != nil {
		return nil, err
	}
	if err := u.notifier.SendDocumentDecline(ctx, c, signer); err != nil {
		return nil, fmt.Errorf("failed to notify decline of collection %s: %w", c.ID, err)
	}
	return &UpdateResult{RedirectLink: redirectLink(c)}, nil
}

func (u *UpdateService) commitClose(ctx context.Context, tx ports.Stores, sub *submission, c *models.DocumentCollection, signer *models.Signer) (*UpdateResult, error) {
	if err := u.writeDocuments(ctx, c, sub); err != nil {
		return nil, err
	}

	if len(sub.fields) > 0 {
		if err := tx.Signers.UpdateSignerFields(ctx, signer.ID, sub.fields); err != nil {
			return nil, err
		}
	}
	if len(sub.attachments) > 0 {
		if err := tx.Signers.AddAttachments(ctx, signer.ID, sub.attachments); err != nil {
			return nil, err
		}
	}

	now := u.now()
	signer.IPAddress = sub.ip
	signer.DeviceInformation = sub.device
	if err := lifecycle.TransitionSigner(signer, models.SignerSigned, now); err != nil {
		return nil, err
	}
	if err := tx.Signers.UpdateSignerStatus(ctx, signer); err != nil {
		return nil, err
	}
	before := c.Status
	if err := lifecycle.Advance(c, now); err != nil {
		return nil, err
	}
	if c.Status != before {
		if err := tx.Collections.Update(ctx, c); err != nil {
			return nil, err
		}
	}
	if err := u.audit(ctx, tx, repository.ActionSignerSigned, c, signer, sub.ip, ""); err != nil {
		return nil, err
	}

	strategy, err := u.modes.For(c.Mode)
	if err != nil {
		return nil, err
	}
	link, err := strategy.DoAction(ctx, tx, c, signer)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{DownloadLink: link, RedirectLink: redirectLink(c)}, nil
}

// writeDocuments writes the submitted values into each affected document form. Signature
// fields are embedded as images, the rest are written as form values. The untouched form
// is kept in sub.preimages before the first write.
func (u *UpdateService) writeDocuments(ctx context.Context, c *models.DocumentCollection, sub *submission) error {
	byDocument := make(map[uuid.UUID][]models.SignerField)
	for _, f := range sub.fields {
		byDocument[f.DocumentID] = append(byDocument[f.DocumentID], f)
	}

	for _, d := range c.Documents {
		docFields, ok := byDocument[d.ID]
		if !ok {
			continue
		}
		doc, err := u.pdf.Load(ctx, d.ID, true)
		if err != nil {
			return fmt.Errorf("failed to open document %s: %w", d.ID, err)
		}
		if doc == nil {
			return types.IntegrityFailure(types.NotAllFieldsExistsInDocuments, "document %s has no form", d.ID)
		}
		if _, ok := sub.preimages[d.ID]; !ok {
			pre, err := u.pdf.Load(ctx, d.ID, false)
			if err != nil {
				return fmt.Errorf("failed to open document %s: %w", d.ID, err)
			}
			sub.preimages[d.ID] = pre
		}

		values := make(map[string]string)
		var signatures []models.SignerField
		for _, f := range docFields {
			if f.FieldType == models.FieldSignature {
				signatures = append(signatures, f)
				continue
			}
			values[f.FieldName] = f.FieldValue
		}
		if len(values) > 0 {
			if err := doc.UpdateValues(values); err != nil {
				return types.ValidationFailure(types.NotAllFieldsExistsInDocuments, "document %s: %v", d.ID, err)
			}
		}
		if len(signatures) > 0 {
			if err := doc.EmbedTextDataFields(signatures); err != nil {
				return types.ValidationFailure(types.NotAllFieldsExistsInDocuments, "document %s: %v", d.ID, err)
			}
		}
		if err := doc.SaveDocument(ctx); err != nil {
			return fmt.Errorf("failed to save document %s: %w", d.ID, err)
		}
	}
	return nil
}

// restoreDocuments saves every kept pre-image back, undoing the form writes of a failed
// transaction. A form that cannot be restored is logged and left for the next submission.
func (u *UpdateService) restoreDocuments(ctx context.Context, sub *submission) {
	ctx = context.WithoutCancel(ctx)
	for id, pre := range sub.preimages {
		if err := pre.SaveDocument(ctx); err != nil {
			u.logger.Error().Err(err).Str("document_id", id.String()).Msg("failed to restore document form")
			continue
		}
		delete(sub.preimages, id)
	}
}

func (u *UpdateService) audit(ctx context.Context, tx ports.Stores, action string, c *models.DocumentCollection, signer *models.Signer, ip, details string) error {
	signerID := signer.ID
	return tx.Audit.Log(ctx, &models.AuditLog{
		ActorID:      &signerID,
		Action:       action,
		CollectionID: c.ID,
		SignerID:     &signerID,
		IPAddress:    ip,
		Details:      details,
	})
}

// mergeInlineFields adds the values carried on self-sign documents to the signer's fields.
// Explicit signer fields win over inline values of the same name.
func mergeInlineFields(fields []models.SignerField, docs []models.Document) []models.SignerField {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.FieldName] = true
	}
	for _, d := range docs {
		for _, f := range d.Fields {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			fields = append(fields, models.SignerField{
				DocumentID: d.ID,
				FieldName:  f.Name,
				FieldValue: f.Value,
				FieldType:  f.Type,
				Mandatory:  f.Mandatory,
			})
		}
	}
	return fields
}

// resolveDocuments fills in the document and type of fields submitted without them, taking
// them from the signer's existing field or the first document defining the name.
func resolveDocuments(fields []models.SignerField, persisted *models.Signer, c *models.DocumentCollection, catalog validation.Catalog) []models.SignerField {
	out := make([]models.SignerField, 0, len(fields))
	for _, f := range fields {
		if existing := persisted.Field(f.FieldName); existing != nil {
			if f.DocumentID == uuid.Nil {
				f.DocumentID = existing.DocumentID
			}
			if f.ID == uuid.Nil && f.DocumentID == existing.DocumentID {
				f.ID = existing.ID
			}
			f.Mandatory = f.Mandatory || existing.Mandatory
		}
		if f.DocumentID == uuid.Nil {
			for _, d := range c.Documents {
				if catalog[d.ID].IsExists(f.FieldName) {
					f.DocumentID = d.ID
					break
				}
			}
		}
		if f.FieldType == "" {
			for _, def := range catalog[f.DocumentID].Fields {
				if def.Name == f.FieldName {
					f.FieldType = def.Type
					break
				}
			}
		}
		out = append(out, f)
	}
	return out
}

func redirectLink(c *models.DocumentCollection) string {
	return strings.ReplaceAll(c.RedirectURL, redirectPlaceholder, c.ID.String())
}
