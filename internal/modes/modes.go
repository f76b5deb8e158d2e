// Package modes implements the completion strategies of the signing modes. After a signer
// closes, the strategy bound to the collection's mode decides whether to advance to another
// signer, finalize the collection, or wait.
package modes

import (
	"context"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Strategy is the behavior of one signing mode. Both methods run inside the caller's
// transaction and mutate c in place.
type Strategy interface {
	Mode() models.SignMode
	// Start dispatches the first signing links of a collection being sent and returns the
	// issued links by signer id.
	Start(ctx context.Context, tx ports.Stores, c *models.DocumentCollection) (map[uuid.UUID]string, error)
	// DoAction runs after signer s closed. It returns the download link once the collection
	// is finalized, or "" while signatures are pending.
	DoAction(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, s *models.Signer) (string, error)
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Notifier  ports.Notifier
	Pdf       ports.PdfEngine
	Files     ports.FileStorage
	Companies ports.CompanyConfigReader
	Issuer    ports.TokenIssuer

	LinkBaseURL     string        // signing links are LinkBaseURL + "/" + token
	DownloadLinkTTL time.Duration // used when the company has no configuration

	Logger zerolog.Logger
	Now    func() time.Time
}

// Factory hands out the strategy of a mode.
type Factory struct {
	links        *Links
	selfSign     Strategy
	ordered      Strategy
	parallel     Strategy
	distribution Strategy
}

// NewFactory builds one strategy per mode from deps.
func NewFactory(deps Deps) *Factory {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	links := &Links{
		issuer:   deps.Issuer,
		notifier: deps.Notifier,
		baseURL:  deps.LinkBaseURL,
		now:      deps.Now,
	}
	fin := &finalizer{
		pdf:        deps.Pdf,
		files:      deps.Files,
		companies:  deps.Companies,
		notifier:   deps.Notifier,
		defaultTTL: deps.DownloadLinkTTL,
		logger:     deps.Logger.With().Str("component", "finalizer").Logger(),
		now:        deps.Now,
	}
	return &Factory{
		links:        links,
		selfSign:     &selfSign{links: links, fin: fin},
		ordered:      &ordered{links: links, fin: fin},
		parallel:     &parallel{links: links, fin: fin, mode: models.ParallelGroupSign},
		distribution: &parallel{links: links, fin: fin, mode: models.Distribution},
	}
}

// For returns the strategy of mode.
func (f *Factory) For(mode models.SignMode) (Strategy, error) {
	switch mode {
	case models.SelfSign:
		return f.selfSign, nil
	case models.OrderedGroupSign:
		return f.ordered, nil
	case models.ParallelGroupSign:
		return f.parallel, nil
	case models.Distribution:
		return f.distribution, nil
	}
	return nil, types.ValidationFailure(types.UnsupportedSignMode, "unsupported signing mode %q", mode)
}

// Links returns the link dispatcher shared by the strategies.
func (f *Factory) Links() *Links {
	return f.links
}
