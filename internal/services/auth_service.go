package services

import (
	"context"
	"errors"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email and a wrong password alike.
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserFinder looks owners up by email.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// OwnerTokenIssuer signs owner bearer tokens.
type OwnerTokenIssuer interface {
	IssueOwnerToken(user *models.User) (string, error)
}

// AuthService handles owner login and password hashing.
//
// Security Notes:
//   - bcrypt comparison is constant-time
//   - Never stores or logs plaintext passwords
type AuthService struct {
	users  UserFinder
	tokens OwnerTokenIssuer
	cost   int
}

// NewAuthService creates an AuthService hashing with the given bcrypt cost.
//
// Example:
//
//	authService := services.NewAuthService(repository.NewUserRepository(pool), tokens, cfg.Security.BcryptCost)
//	token, user, err := authService.Login(ctx, email, password)
func NewAuthService(users UserFinder, tokens OwnerTokenIssuer, cost int) *AuthService {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &AuthService{users: users, tokens: tokens, cost: cost}
}

// Authenticate verifies owner credentials and returns the user on success.
//
// Returns:
//   - *models.User: User record if authentication succeeded
//   - error: ErrInvalidCredentials for an unknown email or wrong password, database error otherwise
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates an owner and issues a bearer token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.IssueOwnerToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// HashPassword generates a bcrypt hash of password. Used for owner passwords and signer
// identifications alike.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	return string(hash), err
}
