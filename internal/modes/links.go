package modes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avissapr/signflow/internal/lifecycle"
	"github.com/avissapr/signflow/internal/metrics"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/google/uuid"
)

// ErrDelivery marks a failure of the notification channel, as opposed to a storage failure.
var ErrDelivery = errors.New("notification delivery failed")

// Links issues signer sessions and delivers signing links.
type Links struct {
	issuer   ports.TokenIssuer
	notifier ports.Notifier
	baseURL  string
	now      func() time.Time
}

// Issue creates a session mapping for s, superseding the previous one, and returns its link.
func (l *Links) Issue(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, s *models.Signer) (string, error) {
	jwt, err := l.issuer.IssueSignerToken(s.ID, c.ID)
	if err != nil {
		return "", fmt.Errorf("failed to issue token for signer %s: %w", s.ID, err)
	}
	m := &models.SignerTokenMapping{Token: uuid.New(), SignerID: s.ID, CollectionID: c.ID, JWT: jwt}
	if err := tx.Sessions.Create(ctx, m); err != nil {
		return "", err
	}
	return strings.TrimRight(l.baseURL, "/") + "/" + m.Token.String(), nil
}

// Send moves s to Sent, issues a fresh link and delivers it on the signer's channel.
func (l *Links) Send(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, s *models.Signer) (string, error) {
	if err := lifecycle.TransitionSigner(s, models.SignerSent, l.now()); err != nil {
		return "", err
	}
	if err := tx.Signers.UpdateSignerStatus(ctx, s); err != nil {
		return "", err
	}
	link, err := l.Issue(ctx, tx, c, s)
	if err != nil {
		return "", err
	}
	if err := l.notifier.SendSigningLinkToNextSigner(ctx, c, s, link); err != nil {
		return "", fmt.Errorf("%w: link to signer %s: %w", ErrDelivery, s.ID, err)
	}
	if err := logAudit(ctx, tx, repository.ActionSignerSent, c, s); err != nil {
		return "", err
	}
	metrics.SigningLinksSentTotal.WithLabelValues(string(s.SendingMethod)).Inc()
	return link, nil
}

func logAudit(ctx context.Context, tx ports.Stores, action string, c *models.DocumentCollection, s *models.Signer) error {
	entry := &models.AuditLog{Action: action, CollectionID: c.ID}
	if s != nil {
		id := s.ID
		entry.SignerID = &id
	}
	return tx.Audit.Log(ctx, entry)
}
