// Package handlers implements the HTTP API of the signing engine: signer endpoints keyed by
// link token and owner endpoints behind a bearer token.
package handlers

import (
	"errors"
	"time"

	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/services"
	"github.com/avissapr/signflow/internal/types"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Code      types.ResultCode `json:"code,omitempty"`
	Message   string           `json:"message"`
	OK        bool             `json:"ok"`
	Timestamp string           `json:"timestamp"`
	URL       string           `json:"url"`
}

// ErrorHandler renders every error returned by a handler as a JSON body. Expected failures keep
// their result code and message; anything unexpected is logged and hidden behind a generic message.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code, message := StatusOf(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Method()).
				Str("route", c.Route().Path).
				Int("status", status).
				Msg("request failed")
		}
		return c.Status(status).JSON(errorBody{
			Code:      code,
			Message:   message,
			OK:        false,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			URL:       c.OriginalURL(),
		})
	}
}

// StatusOf maps an error to its HTTP status, result code and client-facing message.
func StatusOf(err error) (int, types.ResultCode, string) {
	if f, ok := types.AsFailure(err); ok {
		return failureStatus(f), f.Code, f.Message
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, "", fe.Message
	}
	if errors.Is(err, modes.ErrDelivery) {
		return fiber.StatusBadGateway, "", modes.ErrDelivery.Error()
	}
	if errors.Is(err, services.ErrNotAdmin) {
		return fiber.StatusForbidden, "", services.ErrNotAdmin.Error()
	}
	return fiber.StatusInternalServerError, "", "internal server error"
}

func failureStatus(f *types.Failure) int {
	switch f.Code {
	case types.DocumentCollectionNotOwnedByUser:
		return fiber.StatusForbidden
	case types.InvalidDocumentCollectionId:
		return fiber.StatusNotFound
	case types.TooManyOtpRequests:
		return fiber.StatusTooManyRequests
	}

	switch f.Kind {
	case types.KindSession:
		return fiber.StatusUnauthorized
	case types.KindValidation:
		return fiber.StatusUnprocessableEntity
	case types.KindIntegrity:
		return fiber.StatusConflict
	case types.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respond writes a successful result.
func respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"ok":   true,
		"code": types.Success,
		"data": data,
	})
}
