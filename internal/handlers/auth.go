package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthHandler handles owner login.
type AuthHandler struct {
	auth    *services.AuthService
	lockout *security.AccountLockout
	logger  zerolog.Logger
}

// NewAuthHandler creates a new instance of AuthHandler.
//
// Parameters:
//   - auth: Service verifying credentials and issuing bearer tokens
//   - lockout: Failed-login tracker keyed by email
//   - logger: Logger for security events
func NewAuthHandler(auth *services.AuthService, lockout *security.AccountLockout, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, lockout: lockout, logger: logger.With().Str("component", "auth").Logger()}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ownerResponse struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"companyId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
}

// Login authenticates owner credentials and returns a bearer token.
// Repeated failures lock the account for the configured duration.
//
// Route: POST /api/v1/auth/login
//
// Side Effects:
//   - Records failed attempts against the email; a success resets them
//   - Logs every attempt without the password
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}

	if h.lockout.IsLocked(email) {
		remaining := h.lockout.LockoutTimeRemaining(email)
		h.logger.Warn().Str("email", email).Str("ip", c.IP()).Dur("locked_for", remaining).Msg("login to locked account")
		c.Set(fiber.HeaderRetryAfter, retryAfter(remaining.Seconds()))
		return fiber.NewError(fiber.StatusTooManyRequests, "account is locked due to too many failed attempts")
	}

	token, user, err := h.auth.Login(c.UserContext(), email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		locked := h.lockout.RecordFailedAttempt(email)
		h.logger.Warn().Str("email", email).Str("ip", c.IP()).Bool("locked", locked).Msg("login failed")
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	}
	if err != nil {
		return err
	}

	h.lockout.ResetAttempts(email)
	h.logger.Info().Str("user_id", user.ID.String()).Str("role", user.Role).Str("ip", c.IP()).Msg("login succeeded")

	return respond(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user": ownerResponse{
			ID:        user.ID,
			CompanyID: user.CompanyID,
			Email:     user.Email,
			Name:      user.Name,
			Role:      user.Role,
		},
	})
}

func retryAfter(seconds float64) string {
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(int(seconds + 0.5))
}
