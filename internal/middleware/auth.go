// Package middleware provides HTTP middleware for authentication, authorization and
// request hygiene of the signing API.
package middleware

import (
	"strings"

	"github.com/avissapr/signflow/internal/auth"
	"github.com/avissapr/signflow/internal/services"
	"github.com/gofiber/fiber/v2"
)

const ownerLocal = "owner"

// OwnerTokenParser verifies owner bearer tokens. *auth.Service satisfies it.
type OwnerTokenParser interface {
	ParseOwnerToken(token string) (*auth.OwnerClaims, error)
}

// AuthRequired is a middleware that ensures the caller presents a valid owner bearer token.
// It stores the owner in the context for downstream handlers.
//
// Context Locals Set:
//   - owner: services.Owner built from the token claims
//
// Example:
//
//	owners := api.Group("/collections", middleware.AuthRequired(tokens))
func AuthRequired(tokens OwnerTokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := tokens.ParseOwnerToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer token")
		}

		c.Locals(ownerLocal, services.Owner{
			UserID:    claims.UserID,
			CompanyID: claims.CompanyID,
			Admin:     claims.IsAdmin(),
		})
		return c.Next()
	}
}

// AdminOnly rejects owners without the admin role with 403 Forbidden.
// It MUST be chained after AuthRequired.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner, ok := OwnerFrom(c)
		if !ok || !owner.Admin {
			return fiber.NewError(fiber.StatusForbidden, "admin only")
		}
		return c.Next()
	}
}

// OwnerFrom returns the owner stored by AuthRequired.
func OwnerFrom(c *fiber.Ctx) (services.Owner, bool) {
	owner, ok := c.Locals(ownerLocal).(services.Owner)
	return owner, ok
}
