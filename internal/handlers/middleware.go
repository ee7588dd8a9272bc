package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-live/internal/auth"
	"github.com/pelusa-v/pelusa-live/internal/media"
	"github.com/pelusa-v/pelusa-live/internal/messaging"
	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/relay"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 500 * time.Millisecond

// RequestLogger logs every request with timing. Slow requests are logged
// at WARN level, failures at ERROR.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		attrs := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			if err != nil {
				attrs = append(attrs, "error", err.Error())
			}
			logger.Error("request failed", attrs...)
		case duration > slowRequestThreshold:
			logger.Warn("slow request", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
		return err
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, messaging.ErrInvalidParticipant),
		errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrTextTooLong),
		errors.Is(err, messaging.ErrNoMediaStore),
		errors.Is(err, media.ErrUnsupportedType),
		errors.Is(err, media.ErrTooLarge),
		errors.Is(err, notification.ErrInvalidRequest),
		errors.Is(err, relay.ErrUnknownEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, messaging.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, auth.ErrMissingIdentity), errors.Is(err, auth.ErrInvalidToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, messaging.ErrMediaUpload):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders errors as {"error": "..."}. Internal failures are
// logged and hidden from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error("unhandled error", "path", c.Path(), "error", err)
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
