package modes

import (
	"context"
	"sort"

	"github.com/avissapr/signflow/internal/lifecycle"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/types"
	"github.com/avissapr/signflow/internal/validation"
	"github.com/google/uuid"
)

// selfSign: the owner is the only signer and signs in the application, so no link is mailed.
type selfSign struct {
	links *Links
	fin   *finalizer
}

func (m *selfSign) Mode() models.SignMode { return models.SelfSign }

func (m *selfSign) Start(ctx context.Context, tx ports.Stores, c *models.DocumentCollection) (map[uuid.UUID]string, error) {
	if len(c.Signers) != 1 {
		return nil, types.ValidationFailure(types.UnsupportedSignMode,
			"self-sign collection %s has %d signers, expected 1", c.ID, len(c.Signers))
	}
	s := &c.Signers[0]
	if err := lifecycle.TransitionSigner(s, models.SignerSent, m.links.now()); err != nil {
		return nil, err
	}
	if err := tx.Signers.UpdateSignerStatus(ctx, s); err != nil {
		return nil, err
	}
	link, err := m.links.Issue(ctx, tx, c, s)
	if err != nil {
		return nil, err
	}
	return map[uuid.UUID]string{s.ID: link}, nil
}

func (m *selfSign) DoAction(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, _ *models.Signer) (string, error) {
	return m.fin.finalize(ctx, tx, c)
}

// ordered: signers act one after another by signing order.
type ordered struct {
	links *Links
	fin   *finalizer
}

func (m *ordered) Mode() models.SignMode { return models.OrderedGroupSign }

func (m *ordered) Start(ctx context.Context, tx ports.Stores, c *models.DocumentCollection) (map[uuid.UUID]string, error) {
	next := nextPending(c)
	if next == nil {
		return map[uuid.UUID]string{}, nil
	}
	link, err := m.links.Send(ctx, tx, c, next)
	if err != nil {
		return nil, err
	}
	return map[uuid.UUID]string{next.ID: link}, nil
}

func (m *ordered) DoAction(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, _ *models.Signer) (string, error) {
	if validation.AreAllSignersSigned(c.Signers) {
		return m.fin.finalize(ctx, tx, c)
	}
	next := nextPending(c)
	// A pending signer that already holds a link (reactivated or resent) keeps it.
	if next == nil || next.Status != models.SignerCreated {
		return "", nil
	}
	if _, err := m.links.Send(ctx, tx, c, next); err != nil {
		return "", err
	}
	return "", nil
}

// parallel: every signer is notified up front; the last submission finalizes. Distribution
// collections behave the same way.
type parallel struct {
	links *Links
	fin   *finalizer
	mode  models.SignMode
}

func (m *parallel) Mode() models.SignMode { return m.mode }

func (m *parallel) Start(ctx context.Context, tx ports.Stores, c *models.DocumentCollection) (map[uuid.UUID]string, error) {
	links := make(map[uuid.UUID]string, len(c.Signers))
	for i := range c.Signers {
		s := &c.Signers[i]
		if s.Status == models.SignerSigned {
			continue
		}
		link, err := m.links.Send(ctx, tx, c, s)
		if err != nil {
			return nil, err
		}
		links[s.ID] = link
	}
	return links, nil
}

func (m *parallel) DoAction(ctx context.Context, tx ports.Stores, c *models.DocumentCollection, _ *models.Signer) (string, error) {
	if !validation.AreAllSignersSigned(c.Signers) {
		return "", nil
	}
	return m.fin.finalize(ctx, tx, c)
}

// nextPending returns the first signer by signing order who has not signed yet.
func nextPending(c *models.DocumentCollection) *models.Signer {
	order := make([]int, len(c.Signers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return c.Signers[order[a]].Order < c.Signers[order[b]].Order
	})
	for _, i := range order {
		if c.Signers[i].Status != models.SignerSigned {
			return &c.Signers[i]
		}
	}
	return nil
}
