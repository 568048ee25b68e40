package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/servicetoken"
	"github.com/trustgate/backend/pkg/utils"
)

type ServiceTokensHandler struct {
	Issuer *servicetoken.Issuer
	Audit  *services.AuditService
}

func NewServiceTokensHandler(issuer *servicetoken.Issuer, audit *services.AuditService) *ServiceTokensHandler {
	return &ServiceTokensHandler{Issuer: issuer, Audit: audit}
}

// Mint exchanges the caller's session for a short-lived service token that
// internal services verify offline. The second-factor flag is copied from
// the session, never re-derived, so a pre-MFA session cannot mint an
// elevated token.
func (h *ServiceTokensHandler) Mint(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	claims := middleware.GetSessionClaims(c)
	if user == nil || claims == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	token, err := h.Issuer.Mint(servicetoken.Claims{
		UserID:               user.ID,
		Email:                user.Email,
		Role:                 string(user.Role),
		OrganizationID:       user.OrganizationID,
		SecondFactorVerified: claims.SecondFactorVerified,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed minting service token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "service_token.minted",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"serviceToken": token,
		"expiresIn":    int(h.Issuer.TTL().Seconds()),
	})
}

// WhoAmI is the internal-side counterpart: it answers from the verified
// token alone, with no database access.
func (h *ServiceTokensHandler) WhoAmI(c *fiber.Ctx) error {
	claims := middleware.GetServiceClaims(c)
	if claims == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"userId":               claims.UserID,
		"email":                claims.Email,
		"role":                 claims.Role,
		"organizationId":       claims.OrganizationID,
		"secondFactorVerified": claims.SecondFactorVerified,
	})
}
