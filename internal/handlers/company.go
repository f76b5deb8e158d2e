package handlers

import (
	"time"

	"github.com/avissapr/signflow/internal/middleware"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/services"
	"github.com/gofiber/fiber/v2"
)

// CompanyHandler serves the company settings of the authenticated owner.
type CompanyHandler struct {
	companies *services.CompanyService
}

func NewCompanyHandler(companies *services.CompanyService) *CompanyHandler {
	return &CompanyHandler{companies: companies}
}

type companyConfigBody struct {
	SendSignedDocument     bool `json:"sendSignedDocument"`
	DownloadLinkTTLSeconds int  `json:"downloadLinkTtlSeconds"`
}

// Get returns the company configuration.
//
// Route: GET /api/v1/company/config
func (h *CompanyHandler) Get(c *fiber.Ctx) error {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	cfg, err := h.companies.Configuration(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, configBody(cfg))
}

// Update replaces the company configuration. Admins only.
//
// Route: PUT /api/v1/company/config
func (h *CompanyHandler) Update(c *fiber.Ctx) error {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	var req companyConfigBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cfg, err := h.companies.UpdateConfiguration(c.UserContext(), owner, req.SendSignedDocument,
		time.Duration(req.DownloadLinkTTLSeconds)*time.Second)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, configBody(cfg))
}

func configBody(cfg *models.CompanyConfiguration) companyConfigBody {
	return companyConfigBody{
		SendSignedDocument:     cfg.ShouldSendSignedDocument,
		DownloadLinkTTLSeconds: int(cfg.DownloadLinkTTL / time.Second),
	}
}
