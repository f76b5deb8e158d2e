package handlers

import (
	"time"

	"github.com/avissapr/signflow/internal/middleware"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/services"
	"github.com/avissapr/signflow/internal/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CollectionHandler serves the owner's collection operations. Routes are mounted behind
// middleware.AuthRequired; admins may act on every collection of their company.
type CollectionHandler struct {
	signing *services.SigningService
}

// NewCollectionHandler creates a new instance of CollectionHandler.
func NewCollectionHandler(signing *services.SigningService) *CollectionHandler {
	return &CollectionHandler{signing: signing}
}

// Send dispatches a created collection to its signers.
//
// Route: POST /api/v1/collections/:id/send
func (h *CollectionHandler) Send(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	links, err := h.signing.Send(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"links": links})
}

// Reactivate reopens a declined collection.
//
// Route: POST /api/v1/collections/:id/reactivate
func (h *CollectionHandler) Reactivate(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	links, err := h.signing.Reactivate(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"links": links})
}

// Cancel stops an active collection.
//
// Route: POST /api/v1/collections/:id/cancel
func (h *CollectionHandler) Cancel(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.signing.Cancel(c.UserContext(), owner, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Delete soft-deletes a collection.
//
// Route: DELETE /api/v1/collections/:id
func (h *CollectionHandler) Delete(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.signing.Delete(c.UserContext(), owner, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Download returns a short-lived link to the signed artifact.
//
// Route: GET /api/v1/collections/:id/download
func (h *CollectionHandler) Download(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	link, err := h.signing.Download(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"downloadLink": link})
}

type formRequest struct {
	Fields []models.PDFField `json:"fields"`
}

// DefineForm sets the fields of a document before the collection is sent.
//
// Route: PUT /api/v1/collections/:id/documents/:documentId/form
func (h *CollectionHandler) DefineForm(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	documentID, err := uuid.Parse(c.Params("documentId"))
	if err != nil {
		return types.ValidationFailure(types.DocumentNotBelongToDocumentCollection, "malformed document id %q", c.Params("documentId"))
	}
	var req formRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.signing.DefineForm(c.UserContext(), owner, id, documentID, req.Fields); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type auditEntry struct {
	ID        int64      `json:"id"`
	Action    string     `json:"action"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	SignerID  *uuid.UUID `json:"signerId,omitempty"`
	IPAddress string     `json:"ipAddress,omitempty"`
	Details   string     `json:"details,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Audit returns the collection's audit trail.
//
// Route: GET /api/v1/collections/:id/audit
func (h *CollectionHandler) Audit(c *fiber.Ctx) error {
	owner, id, err := target(c)
	if err != nil {
		return err
	}
	logs, err := h.signing.Audit(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	entries := make([]auditEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, auditEntry{
			ID:        l.ID,
			Action:    l.Action,
			ActorID:   l.ActorID,
			SignerID:  l.SignerID,
			IPAddress: l.IPAddress,
			Details:   l.Details,
			CreatedAt: l.CreatedAt,
		})
	}
	return respond(c, fiber.StatusOK, fiber.Map{"entries": entries})
}

func target(c *fiber.Ctx) (services.Owner, uuid.UUID, error) {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return services.Owner{}, uuid.Nil, fiber.ErrUnauthorized
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return services.Owner{}, uuid.Nil, types.ValidationFailure(types.InvalidDocumentCollectionId, "malformed collection id %q", c.Params("id"))
	}
	return owner, id, nil
}
