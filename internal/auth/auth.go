// Package auth issues and verifies the JSON Web Tokens of the signing engine: link tokens
// embedded in signer session mappings and bearer tokens of collection owners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceSigner = "signer"
	audienceOwner  = "owner"
	issuer         = "signflow"
)

var (
	// ErrInvalidToken is returned for a token that is malformed, expired or signed with another key.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned by New when no signing key is configured.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

// SignerLookup loads a signer by id. The repository's SignerStore satisfies it.
type SignerLookup interface {
	GetSignerByID(ctx context.Context, id uuid.UUID) (*models.Signer, error)
}

// SignerClaims is the payload of a signer link token.
type SignerClaims struct {
	SignerID     string `json:"sid"`
	CollectionID string `json:"cid"`
	jwt.RegisteredClaims
}

// OwnerClaims is the payload of an owner bearer token.
type OwnerClaims struct {
	UserID    uuid.UUID `json:"uid"`
	CompanyID uuid.UUID `json:"company"`
	GroupID   uuid.UUID `json:"group"`
	Role      string    `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the owner may act on every collection of their company.
func (c *OwnerClaims) IsAdmin() bool {
	return c.Role == "admin"
}

// Service signs and parses HS256 tokens with one shared secret.
type Service struct {
	secret    []byte
	signerTTL time.Duration
	ownerTTL  time.Duration
	signers   SignerLookup
	now       func() time.Time
}

// New creates a token service. signers resolves the subject of link tokens in GetSigner.
func New(secret string, signerTTL, ownerTTL time.Duration, signers SignerLookup) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Service{
		secret:    []byte(secret),
		signerTTL: signerTTL,
		ownerTTL:  ownerTTL,
		signers:   signers,
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating tokens.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueSignerToken signs a link token for one signer of one collection.
func (s *Service) IssueSignerToken(signerID, collectionID uuid.UUID) (string, error) {
	now := s.now()
	claims := &SignerClaims{
		SignerID:         signerID.String(),
		CollectionID:     collectionID.String(),
		RegisteredClaims: s.registered(audienceSigner, signerID.String(), now, s.signerTTL),
	}
	return s.sign(claims)
}

// GetSigner returns the signer a link token was issued for. An invalid or expired token, or a
// token whose signer no longer exists, yields (nil, nil); errors are reserved for lookup failures.
func (s *Service) GetSigner(ctx context.Context, token string) (*models.Signer, error) {
	claims := &SignerClaims{}
	if err := s.parse(token, claims, audienceSigner); err != nil {
		return nil, nil
	}
	signerID, err := uuid.Parse(claims.SignerID)
	if err != nil {
		return nil, nil
	}
	signer, err := s.signers.GetSignerByID(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token signer %s: %w", signerID, err)
	}
	return signer, nil
}

// IssueOwnerToken signs a bearer token for an authenticated user.
func (s *Service) IssueOwnerToken(user *models.User) (string, error) {
	claims := &OwnerClaims{
		UserID:           user.ID,
		CompanyID:        user.CompanyID,
		GroupID:          user.GroupID,
		Role:             user.Role,
		RegisteredClaims: s.registered(audienceOwner, user.ID.String(), s.now(), s.ownerTTL),
	}
	return s.sign(claims)
}

// ParseOwnerToken verifies a bearer token and returns its claims.
func (s *Service) ParseOwnerToken(token string) (*OwnerClaims, error) {
	claims := &OwnerClaims{}
	if err := s.parse(token, claims, audienceOwner); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) registered(audience, subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (s *Service) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(token string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
