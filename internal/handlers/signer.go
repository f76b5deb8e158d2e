package handlers

import (
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/services"
	"github.com/gofiber/fiber/v2"
)

// SignerHandler serves the endpoints a signer reaches through their signing link.
// Every route carries the opaque link token as :token.
type SignerHandler struct {
	signing *services.SigningService
	otp     *services.OtpService
	update  *services.UpdateService
}

// NewSignerHandler creates a new instance of SignerHandler.
func NewSignerHandler(signing *services.SigningService, otp *services.OtpService, update *services.UpdateService) *SignerHandler {
	return &SignerHandler{signing: signing, otp: otp, update: update}
}

type passwordRequest struct {
	Password string `json:"password"`
	Strict   bool   `json:"strict"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type updateRequest struct {
	Operation     models.DocumentOperation   `json:"operation"`
	Collection    *models.DocumentCollection `json:"collection"`
	DeclineReason string                     `json:"declineReason"`
}

// View opens the signing link and returns the collection as the signer sees it.
//
// Route: GET /api/v1/sign/:token
func (h *SignerHandler) View(c *fiber.Ctx) error {
	view, err := h.signing.View(c.UserContext(), c.Params("token"), c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, view)
}

// Password checks the signer's password and, depending on the OTP mode, issues a one-time code.
// The response names the masked destination of the code, or is empty when no code was sent.
//
// Route: POST /api/v1/sign/:token/password
func (h *SignerHandler) Password(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sentTo, err := h.otp.ValidatePassword(c.UserContext(), c.Params("token"), req.Password, req.Strict)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"sentTo": sentTo})
}

// Code verifies a one-time code and authenticates the signing session.
//
// Route: POST /api/v1/sign/:token/code
func (h *SignerHandler) Code(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.otp.VerifyCode(c.UserContext(), c.Params("token"), req.Code); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"authenticated": true})
}

// Update submits the signer's fields to sign (operation "close") or declines the collection
// (operation "decline").
//
// Route: PUT /api/v1/sign/:token
func (h *SignerHandler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.update.Update(c.UserContext(), c.Params("token"), services.UpdateInput{
		Collection:        req.Collection,
		DeclineReason:     req.DeclineReason,
		IPAddress:         c.IP(),
		DeviceInformation: c.Get(fiber.HeaderUserAgent),
	}, req.Operation)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, result)
}
