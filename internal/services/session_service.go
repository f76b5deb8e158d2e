// Package services implements the signing engine's use cases: signer sessions, step-up
// authentication, the transactional update pipeline, and the owner operations on collections.
// Services depend only on ports; every multi-write operation runs inside one UnitOfWork call.
package services

import (
	"context"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/types"
	"github.com/google/uuid"
)

// Session is a resolved signer link: the stored mapping and the signer its JWT identifies.
type Session struct {
	Mapping *models.SignerTokenMapping
	Signer  *models.Signer
}

// SessionService resolves opaque link tokens into authenticated signers.
type SessionService struct {
	sessions ports.SessionStore
	decoder  ports.IdentityDecoder
}

// NewSessionService creates a session validator reading mappings from sessions.
func NewSessionService(sessions ports.SessionStore, decoder ports.IdentityDecoder) *SessionService {
	return &SessionService{sessions: sessions, decoder: decoder}
}

// ValidateSignerToken returns the signer behind token and the collection id carried by its
// mapping. The mapping, not the JWT payload, decides which collection the token belongs to.
//
// Error Cases:
//   - InvalidToken: token is malformed, unknown or superseded, or its JWT names no signer
func (s *SessionService) ValidateSignerToken(ctx context.Context, token string) (*models.Signer, uuid.UUID, error) {
	sess, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return sess.Signer, sess.Mapping.CollectionID, nil
}

// Resolve is ValidateSignerToken returning the mapping as well. It never writes.
func (s *SessionService) Resolve(ctx context.Context, token string) (*Session, error) {
	return s.resolve(ctx, s.sessions, token)
}

func (s *SessionService) resolve(ctx context.Context, store ports.SessionStore, token string) (*Session, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, types.SessionFailure(types.InvalidToken, "malformed signer token")
	}
	mapping, err := store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, types.SessionFailure(types.InvalidToken, "unknown signer token")
	}

	signer, err := s.decoder.GetSigner(ctx, mapping.JWT)
	if err != nil {
		return nil, err
	}
	if signer == nil || signer.ID != mapping.SignerID {
		return nil, types.SessionFailure(types.InvalidToken, "signer token does not identify a signer")
	}
	return &Session{Mapping: mapping, Signer: signer}, nil
}

// classify turns infrastructure errors that outlived the retry strategy into transient failures.
// Failures and other errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsFailure(err); ok {
		return err
	}
	if database.IsTransient(err) {
		return types.TransientError(err)
	}
	return err
}
