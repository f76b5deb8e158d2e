package handlers

import (
	"context"
	"time"

	"github.com/avissapr/signflow/internal/middleware"
	"github.com/avissapr/signflow/internal/security"
	"github.com/gofiber/fiber/v2"
)

// Routes is everything Register mounts.
type Routes struct {
	Auth        *AuthHandler
	Signer      *SignerHandler
	Collections *CollectionHandler
	Company     *CompanyHandler

	Tokens   middleware.OwnerTokenParser
	Security *middleware.SecurityMiddleware

	LoginLimiter  *security.RateLimiter
	SignerLimiter *security.RateLimiter
	OwnerLimiter  *security.RateLimiter

	// Health reports whether the database answers.
	Health func(ctx context.Context) bool
}

// Register mounts the health check and the versioned API on app.
//
//	GET    /healthz
//	POST   /api/v1/auth/login
//	GET    /api/v1/sign/:token
//	POST   /api/v1/sign/:token/password
//	POST   /api/v1/sign/:token/code
//	PUT    /api/v1/sign/:token
//	POST   /api/v1/collections/:id/send
//	POST   /api/v1/collections/:id/reactivate
//	POST   /api/v1/collections/:id/cancel
//	DELETE /api/v1/collections/:id
//	GET    /api/v1/collections/:id/download
//	GET    /api/v1/collections/:id/audit
//	PUT    /api/v1/collections/:id/documents/:documentId/form
//	GET    /api/v1/company/config
//	PUT    /api/v1/company/config (admin)
func Register(app *fiber.App, r Routes) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if r.Health != nil && !r.Health(ctx) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "database": "down"})
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	api := app.Group("/api/v1")

	api.Post("/auth/login", r.Security.RateLimit(r.LoginLimiter, "login"), r.Auth.Login)

	// limited per link token
	signer := r.Security.RateLimit(r.SignerLimiter, "sign")
	api.Get("/sign/:token", signer, r.Signer.View)
	api.Post("/sign/:token/password", signer, r.Signer.Password)
	api.Post("/sign/:token/code", signer, r.Signer.Code)
	api.Put("/sign/:token", signer, r.Signer.Update)

	owners := api.Group("/collections",
		middleware.AuthRequired(r.Tokens),
		r.Security.RateLimit(r.OwnerLimiter, "collections"),
	)
	owners.Post("/:id/send", r.Collections.Send)
	owners.Post("/:id/reactivate", r.Collections.Reactivate)
	owners.Post("/:id/cancel", r.Collections.Cancel)
	owners.Delete("/:id", r.Collections.Delete)
	owners.Get("/:id/download", r.Collections.Download)
	owners.Get("/:id/audit", r.Collections.Audit)
	owners.Put("/:id/documents/:documentId/form", r.Collections.DefineForm)

	company := api.Group("/company",
		middleware.AuthRequired(r.Tokens),
		r.Security.RateLimit(r.OwnerLimiter, "company"),
	)
	company.Get("/config", r.Company.Get)
	company.Put("/config", middleware.AdminOnly(), r.Company.Update)
}
