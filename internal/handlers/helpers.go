package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/utils"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	return middleware.GetRequestID(c)
}

// serviceError maps the services package sentinels onto HTTP responses.
// Anything unrecognized is a 500 with a generic message so internals
// never leak to clients.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrExpired):
		return utils.Error(c, fiber.StatusGone, "expired")
	case errors.Is(err, services.ErrAlreadyResolved):
		return utils.Error(c, fiber.StatusConflict, "already resolved")
	case errors.Is(err, services.ErrAlreadyEnabled):
		return utils.Error(c, fiber.StatusConflict, "already enabled")
	case errors.Is(err, services.ErrNotInitialized):
		return utils.Error(c, fiber.StatusBadRequest, "setup not started")
	case errors.Is(err, services.ErrInvalidCode):
		return utils.Error(c, fiber.StatusBadRequest, "invalid code")
	case errors.Is(err, services.ErrPasswordRequired):
		return utils.Error(c, fiber.StatusBadRequest, "password confirmation is not available for this account")
	case errors.Is(err, services.ErrInvalidPassword):
		return utils.Error(c, fiber.StatusBadRequest, "invalid password")
	case errors.Is(err, services.ErrDuplicateInvite):
		return utils.Error(c, fiber.StatusConflict, "a pending invitation already exists for this email")
	case errors.Is(err, services.ErrDuplicateMember):
		return utils.Error(c, fiber.StatusConflict, "this email already belongs to a member")
	case errors.Is(err, services.ErrAccountDetailsRequired):
		return utils.Error(c, fiber.StatusBadRequest, "account details are required to accept this invitation")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
