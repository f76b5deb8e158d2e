package modes

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/avissapr/signflow/internal/lifecycle"
	"github.com/avissapr/signflow/internal/metrics"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// finalizer completes a collection whose signers all signed.
type finalizer struct {
	pdf        ports.PdfEngine
	files      ports.FileStorage
	companies  ports.CompanyConfigReader
	notifier   ports.Notifier
	defaultTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// finalize marks c Signed, ends every signer session, seals the documents and returns a
// presigned download link. Signers receive the link when their company asks for it.
func (f *finalizer) finalize(ctx context.Context, tx ports.Stores, c *models.DocumentCollection) (string, error) {
	if err := lifecycle.TransitionCollection(c, models.DocumentSigned, f.now()); err != nil {
		return "", err
	}
	if err := tx.Collections.Update(ctx, c); err != nil {
		return "", err
	}
	if err := tx.Sessions.DeleteByCollection(ctx, c.ID); err != nil {
		return "", err
	}

	docIDs := make([]uuid.UUID, 0, len(c.Documents))
	for _, d := range c.Documents {
		docIDs = append(docIDs, d.ID)
	}
	key, err := f.pdf.Seal(ctx, c.ID, docIDs)
	if err != nil {
		return "", fmt.Errorf("failed to seal collection %s: %w", c.ID, err)
	}

	cfg, err := f.companies.Get(ctx, c.CompanyID)
	if err != nil {
		return "", fmt.Errorf("failed to read configuration of company %s: %w", c.CompanyID, err)
	}
	ttl, send := f.defaultTTL, true
	if cfg != nil {
		send = cfg.ShouldSendSignedDocument
		if cfg.DownloadLinkTTL > 0 {
			ttl = cfg.DownloadLinkTTL
		}
	}

	link, err := f.files.PresignDownload(ctx, key, ttl)
	if err != nil {
		return "", err
	}

	if send {
		for i := range c.Signers {
			if err := f.notifier.SendSignedDocument(ctx, c, &c.Signers[i], link); err != nil {
				return "", fmt.Errorf("%w: signed document to signer %s: %w", ErrDelivery, c.Signers[i].ID, err)
			}
		}
	}
	if c.OwnerEmail != "" {
		body := fmt.Sprintf(`<p>All parties signed <b>%s</b>.</p><p><a href="%s">Download</a></p>`,
			html.EscapeString(c.Name), html.EscapeString(link))
		if err := f.notifier.SendEmailNotification(ctx, c.OwnerEmail, "Signed: "+c.Name, body); err != nil {
			return "", fmt.Errorf("%w: owner of collection %s: %w", ErrDelivery, c.ID, err)
		}
	}

	if err := logAudit(ctx, tx, repository.ActionCollectionSigned, c, nil); err != nil {
		return "", err
	}
	metrics.CollectionsFinalizedTotal.WithLabelValues(string(c.Mode)).Inc()
	f.logger.Info().Str("collection_id", c.ID.String()).Str("mode", string(c.Mode)).Msg("collection finalized")
	return link, nil
}
