package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/sharestate"
	"github.com/statchart/backend/pkg/logger"
)

// errorResponse maps an execution error onto an HTTP status and body. Fetch
// failures keep their classification flags so clients can explain them.
func errorResponse(err error) (int, fiber.Map) {
	body := fiber.Map{"error": err.Error()}

	if fe, ok := fetch.AsError(err); ok {
		body["url"] = fe.URL
		switch {
		case fe.IsCircuitOpen:
			body["isCircuitOpen"] = true
			return fiber.StatusServiceUnavailable, body
		case fe.IsTimeout:
			body["isTimeout"] = true
			return fiber.StatusGatewayTimeout, body
		case fe.IsRateLimited:
			body["isRateLimited"] = true
			return fiber.StatusTooManyRequests, body
		case fe.IsTruncated:
			body["isTruncated"] = true
			return fiber.StatusBadGateway, body
		case fe.IsCORSError:
			body["isCorsError"] = true
			return fiber.StatusBadGateway, body
		default:
			body["status"] = fe.StatusCode
			body["statusText"] = fe.StatusText
			return fiber.StatusBadGateway, body
		}
	}

	var pe *adapter.ParseError
	switch {
	case errors.As(err, &pe):
		body["source"] = pe.Source
		return fiber.StatusBadGateway, body
	case errors.Is(err, adapter.ErrUnknownSource):
		return fiber.StatusNotFound, body
	case errors.Is(err, adapter.ErrCapabilityNotSupported):
		return fiber.StatusNotImplemented, body
	case errors.Is(err, dataset.ErrInvalidQuery),
		errors.Is(err, adapter.ErrUnknownIndicator),
		errors.Is(err, adapter.ErrUnknownEntity),
		errors.Is(err, adapter.ErrUnsupportedQueryType),
		errors.Is(err, adapter.ErrSourceMismatch),
		errors.Is(err, sharestate.ErrInvalidState):
		return fiber.StatusBadRequest, body
	case errors.Is(err, context.DeadlineExceeded):
		body["isTimeout"] = true
		return fiber.StatusGatewayTimeout, body
	default:
		return fiber.StatusInternalServerError, fiber.Map{"error": "Internal server error"}
	}
}

func respondError(c *fiber.Ctx, msg string, err error) error {
	status, body := errorResponse(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug(msg, zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}
