package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avissapr/signflow/internal/lifecycle"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/pdf"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/avissapr/signflow/internal/types"
	"github.com/avissapr/signflow/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Owner identifies the user acting on a collection through the owner API.
type Owner struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Admin     bool // admins act on every collection of their company
}

// SignerView is what a signer sees when opening a link.
type SignerView struct {
	CollectionID           uuid.UUID             `json:"collectionId"`
	Name                   string                `json:"name"`
	Status                 models.DocumentStatus `json:"status"`
	Mode                   models.SignMode       `json:"mode"`
	Signer                 *models.Signer        `json:"signer"`
	Documents              []models.PDFFields    `json:"documents"`
	AuthenticationRequired bool                  `json:"authenticationRequired"`
}

// SigningService implements the collection lifecycle operations outside the signer update:
// viewing a link, and the owner's form definition, send, download, reactivate, cancel,
// delete and audit trail.
type SigningService struct {
	uow         ports.UnitOfWork
	sessions    *SessionService
	modes       *modes.Factory
	pdf         ports.PdfEngine
	forms       ports.FormWriter
	files       ports.FileStorage
	companies   ports.CompanyConfigReader
	downloadTTL time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// SigningDeps are the collaborators of a SigningService.
type SigningDeps struct {
	UnitOfWork      ports.UnitOfWork
	Sessions        *SessionService
	Modes           *modes.Factory
	Pdf             ports.PdfEngine
	Forms           ports.FormWriter
	Files           ports.FileStorage
	Companies       ports.CompanyConfigReader
	DownloadLinkTTL time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

func NewSigningService(d SigningDeps) *SigningService {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &SigningService{
		uow:         d.UnitOfWork,
		sessions:    d.Sessions,
		modes:       d.Modes,
		pdf:         d.Pdf,
		forms:       d.Forms,
		files:       d.Files,
		companies:   d.Companies,
		downloadTTL: d.DownloadLinkTTL,
		logger:      d.Logger.With().Str("component", "signing").Logger(),
		now:         now,
	}
}

// View opens a signer's link. The first view moves the signer, and with it the collection,
// to Viewed and records the viewing IP.
func (s *SigningService) View(ctx context.Context, token, ip, device string) (*SignerView, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	var view *SignerView
	err = s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := tx.Collections.ReadForUpdate(ctx, sess.Mapping.CollectionID)
		if err != nil {
			return err
		}
		if c == nil {
			return types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", sess.Mapping.CollectionID)
		}
		signer := c.Signer(sess.Mapping.SignerID)
		if signer == nil {
			return types.SessionFailure(types.InvalidToken, "signer is not part of collection %s", c.ID)
		}
		if !lifecycle.IsActive(c.Status) {
			return types.ValidationFailure(types.DocumentCollectionNotActive, "collection %s is %s", c.ID, c.Status)
		}

		if signer.Status == models.SignerSent || signer.Status == models.SignerCreated {
			now := s.now()
			if err := lifecycle.TransitionSigner(signer, models.SignerViewed, now); err != nil {
				return err
			}
			if signer.FirstViewIP == "" {
				signer.FirstViewIP = ip
			}
			signer.IPAddress = ip
			signer.DeviceInformation = device
			if err := tx.Signers.UpdateSignerStatus(ctx, signer); err != nil {
				return err
			}
			if err := logAction(ctx, tx, repository.ActionSignerViewed, c.ID, &signer.ID, &signer.ID, ip); err != nil {
				return err
			}

			before := c.Status
			if err := lifecycle.Advance(c, now); err != nil {
				return err
			}
			if c.Status != before {
				if err := tx.Collections.Update(ctx, c); err != nil {
					return err
				}
				if c.Status == models.DocumentViewed {
					if err := logAction(ctx, tx, repository.ActionCollectionViewed, c.ID, &signer.ID, &signer.ID, ip); err != nil {
						return err
					}
				}
			}
		}

		authRequired := signer.Authentication.OtpDetails.Mode.RequiresAuthentication() && !sess.Mapping.Authenticated()
		view = &SignerView{
			CollectionID:           c.ID,
			Name:                   c.Name,
			Status:                 c.Status,
			Mode:                   c.Mode,
			Signer:                 signer,
			AuthenticationRequired: authRequired,
		}
		view.Documents, err = s.documents(ctx, c)
		return err
	})
	if err != nil {
		return nil, s.fail("view", err)
	}
	return view, nil
}

// maxAuditEntries caps one audit trail response.
const maxAuditEntries = 500

// DefineForm sets the fields of one document of a collection that was not sent yet.
// Field names must be unique within the document.
func (s *SigningService) DefineForm(ctx context.Context, owner Owner, collectionID, documentID uuid.UUID, fields []models.PDFField) error {
	if err := validation.IsValidForm(fields); err != nil {
		return s.fail("define form", types.ValidationFailure(types.NotAllFieldsExistsInDocuments, "%v", err))
	}
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		if c.Status != models.DocumentCreated {
			return types.IntegrityFailure(types.InvalidStatusTransition, "collection %s is %s, forms are fixed once sent", c.ID, c.Status)
		}
		if c.Document(documentID) == nil {
			return types.ValidationFailure(types.DocumentNotBelongToDocumentCollection, "document %s does not belong to collection %s", documentID, c.ID)
		}
		if err := s.forms.CreateForm(ctx, documentID, fields); err != nil {
			return fmt.Errorf("failed to store form of document %s: %w", documentID, err)
		}
		return logAction(ctx, tx, repository.ActionDocumentFormDefined, c.ID, &owner.UserID, nil, "")
	})
	return s.fail("define form", err)
}

// Audit returns the collection's audit trail, oldest first.
func (s *SigningService) Audit(ctx context.Context, owner Owner, collectionID uuid.UUID) ([]models.AuditLog, error) {
	stores := s.uow.Stores()
	c, err := stores.Collections.Read(ctx, collectionID)
	if err == nil && c == nil {
		err = types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", collectionID)
	}
	if err == nil {
		err = authorize(c, owner)
	}
	if err != nil {
		return nil, s.fail("audit", err)
	}
	entries, err := stores.Audit.ListByCollection(ctx, collectionID, maxAuditEntries)
	if err != nil {
		return nil, s.fail("audit", err)
	}
	return entries, nil
}

// Send dispatches a Created collection, or retries one whose sending failed, through the
// strategy of its mode. When delivery fails the collection is marked SendingFailed.
//
// Returns:
//   - map[uuid.UUID]string: Issued signing links by signer id
//   - error: DocumentCollectionNotOwnedByUser, InvalidStatusTransition, or the delivery error
func (s *SigningService) Send(ctx context.Context, owner Owner, collectionID uuid.UUID) (map[uuid.UUID]string, error) {
	var links map[uuid.UUID]string
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		if c.Status != models.DocumentCreated && c.Status != models.DocumentSendingFailed {
			return types.IntegrityFailure(types.InvalidStatusTransition, "collection %s is %s and cannot be sent", c.ID, c.Status)
		}
		strategy, err := s.modes.For(c.Mode)
		if err != nil {
			return err
		}
		if err := lifecycle.TransitionCollection(c, models.DocumentSent, s.now()); err != nil {
			return err
		}
		if err := tx.Collections.Update(ctx, c); err != nil {
			return err
		}
		if links, err = strategy.Start(ctx, tx, c); err != nil {
			return err
		}
		return logAction(ctx, tx, repository.ActionCollectionSent, c.ID, &owner.UserID, nil, "")
	})
	if errors.Is(err, modes.ErrDelivery) {
		if markErr := s.markSendingFailed(ctx, collectionID, owner); markErr != nil {
			err = errors.Join(err, markErr)
		}
	}
	if err != nil {
		return nil, s.fail("send", err)
	}
	return links, nil
}

func (s *SigningService) markSendingFailed(ctx context.Context, collectionID uuid.UUID, owner Owner) error {
	return s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		if err := lifecycle.TransitionCollection(c, models.DocumentSendingFailed, s.now()); err != nil {
			return err
		}
		if err := tx.Collections.Update(ctx, c); err != nil {
			return err
		}
		return logAction(ctx, tx, repository.ActionCollectionSendFailed, c.ID, &owner.UserID, nil, "")
	})
}

// Download returns a presigned link to the signed artifact of a completed collection.
func (s *SigningService) Download(ctx context.Context, owner Owner, collectionID uuid.UUID) (string, error) {
	link, err := s.download(ctx, owner, collectionID)
	if err != nil {
		return "", s.fail("download", err)
	}
	return link, nil
}

func (s *SigningService) download(ctx context.Context, owner Owner, collectionID uuid.UUID) (string, error) {
	stores := s.uow.Stores()
	c, err := stores.Collections.Read(ctx, collectionID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", collectionID)
	}
	if err := authorize(c, owner); err != nil {
		return "", err
	}
	if !lifecycle.IsCompleted(c.Status) {
		return "", types.ValidationFailure(types.CannotDownloadUnsignedDocument, "collection %s is %s", c.ID, c.Status)
	}

	ttl := s.downloadTTL
	cfg, err := s.companies.Get(ctx, c.CompanyID)
	if err != nil {
		return "", err
	}
	if cfg != nil && cfg.DownloadLinkTTL > 0 {
		ttl = cfg.DownloadLinkTTL
	}
	link, err := s.files.PresignDownload(ctx, pdf.SealedKey(c.ID), ttl)
	if err != nil {
		return "", err
	}
	if err := logAction(ctx, stores, repository.ActionDocumentDownloaded, c.ID, &owner.UserID, nil, ""); err != nil {
		return "", err
	}
	return link, nil
}

// Reactivate moves a declined collection back to Sent and sends fresh links to the signers
// who had declined. Their rejection and OTP state is cleared.
func (s *SigningService) Reactivate(ctx context.Context, owner Owner, collectionID uuid.UUID) (map[uuid.UUID]string, error) {
	var links map[uuid.UUID]string
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		links = make(map[uuid.UUID]string)
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		reactivated, err := lifecycle.Reactivate(c, s.now())
		if err != nil {
			return err
		}
		if err := tx.Collections.Update(ctx, c); err != nil {
			return err
		}
		for _, signer := range reactivated {
			link, err := s.modes.Links().Send(ctx, tx, c, signer)
			if err != nil {
				return err
			}
			links[signer.ID] = link
		}
		return logAction(ctx, tx, repository.ActionCollectionReactivated, c.ID, &owner.UserID, nil, "")
	})
	if err != nil {
		return nil, s.fail("reactivate", err)
	}
	return links, nil
}

// Cancel stops an active collection. Every signer link stops working.
func (s *SigningService) Cancel(ctx context.Context, owner Owner, collectionID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		if !lifecycle.IsActive(c.Status) && c.Status != models.DocumentSendingFailed {
			return types.ValidationFailure(types.DocumentCollectionNotActive, "collection %s is %s", c.ID, c.Status)
		}
		return s.close(ctx, tx, c, models.DocumentCanceled, repository.ActionCollectionCanceled, owner)
	})
	return s.fail("cancel", err)
}

// Delete soft-deletes a collection. Deleted is terminal.
func (s *SigningService) Delete(ctx context.Context, owner Owner, collectionID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := loadOwned(ctx, tx, collectionID, owner)
		if err != nil {
			return err
		}
		return s.close(ctx, tx, c, models.DocumentDeleted, repository.ActionCollectionDeleted, owner)
	})
	return s.fail("delete", err)
}

func (s *SigningService) close(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, to models.DocumentStatus, action string, owner Owner) error {
	if err := lifecycle.TransitionCollection(c, to, s.now()); err != nil {
		return err
	}
	if err := tx.Collections.Update(ctx, c); err != nil {
		return err
	}
	if err := tx.Sessions.DeleteByCollection(ctx, c.ID); err != nil {
		return err
	}
	return logAction(ctx, tx, action, c.ID, &owner.UserID, nil, "")
}

func (s *SigningService) documents(ctx context.Context, c *models.DocumentCollection) ([]models.PDFFields, error) {
	docs := make([]models.PDFFields, 0, len(c.Documents))
	for _, d := range c.Documents {
		doc, err := s.pdf.Load(ctx, d.ID, false)
		if err != nil {
			return nil, fmt.Errorf("failed to load form of document %s: %w", d.ID, err)
		}
		if doc == nil {
			docs = append(docs, models.PDFFields{DocumentID: d.ID})
			continue
		}
		docs = append(docs, doc.GetAllFields())
	}
	return docs, nil
}

// fail logs err at a level matching its kind and returns it classified.
func (s *SigningService) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	err = classify(err)
	if types.IsExpected(err) {
		s.logger.Debug().Str("operation", op).Str("code", string(types.CodeOf(err))).Msg(err.Error())
	} else {
		s.logger.Error().Err(err).Str("operation", op).Msg("collection operation failed")
	}
	return err
}

func loadOwned(ctx context.Context, tx ports.Stores, collectionID uuid.UUID, owner Owner) (*models.DocumentCollection, error) {
	c, err := tx.Collections.ReadForUpdate(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", collectionID)
	}
	if err := authorize(c, owner); err != nil {
		return nil, err
	}
	return c, nil
}

func authorize(c *models.DocumentCollection, owner Owner) error {
	if c.UserID == owner.UserID {
		return nil
	}
	if owner.Admin && c.CompanyID == owner.CompanyID {
		return nil
	}
	return types.ValidationFailure(types.DocumentCollectionNotOwnedByUser, "collection %s is not owned by user %s", c.ID, owner.UserID)
}

func logAction(ctx context.Context, tx ports.Stores, action string, collectionID uuid.UUID, actor, signer *uuid.UUID, ip string) error {
	return tx.Audit.Log(ctx, &models.AuditLog{
		ActorID:      actor,
		Action:       action,
		CollectionID: collectionID,
		SignerID:     signer,
		IPAddress:    ip,
	})
}
