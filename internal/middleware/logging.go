package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/trustgate/backend/pkg/logger"
)

const requestIDKey = "requestID"

// RequestLogger tags every request with an id and logs its outcome.
// The incoming X-Request-ID is honored so callers can correlate.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals(requestIDKey, requestID)
		c.Set("X-Request-ID", requestID)

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		fields := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"ip":          c.IP(),
			"request_id":  requestID,
		}

		if err != nil || status >= fiber.StatusInternalServerError {
			logger.Error("request_failed", err, fields)
		} else {
			logger.Info("request_completed", fields)
		}

		return err
	}
}

// SecurityLogger records rejected authentication and authorization
// attempts on a dedicated event so they can be alerted on separately.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if status == fiber.StatusUnauthorized || status == fiber.StatusForbidden {
			logger.Warn("security_request_rejected", map[string]interface{}{
				"method":     c.Method(),
				"path":       c.Path(),
				"status":     status,
				"ip":         c.IP(),
				"request_id": GetRequestID(c),
			})
		}

		return err
	}
}

func GetRequestID(c *fiber.Ctx) string {
	value := c.Locals(requestIDKey)
	if value == nil {
		return ""
	}
	id, ok := value.(string)
	if !ok {
		return ""
	}
	return id
}
