package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type InvitationsHandler struct {
	DB          *gorm.DB
	Invitations *services.InvitationService
	Webhooks    *services.WebhookService
	Audit       *services.AuditService
}

func NewInvitationsHandler(db *gorm.DB, invitations *services.InvitationService, webhooks *services.WebhookService, audit *services.AuditService) *InvitationsHandler {
	return &InvitationsHandler{DB: db, Invitations: invitations, Webhooks: webhooks, Audit: audit}
}

type createInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *InvitationsHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	role := models.UserRole(req.Role)
	if !models.ValidInviteRole(role) {
		return utils.Error(c, fiber.StatusBadRequest, "role must be admin or member")
	}

	invitation, _, err := h.Invitations.Create(user.OrganizationID, req.Email, role, user.ID)
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "invitation.created",
		ResourceType: "invitation",
		ResourceID:   &invitation.ID,
		Details: map[string]interface{}{
			"invited_email": req.Email,
			"role":          string(role),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	go h.Webhooks.DeliverToOrganization(context.Background(), user.OrganizationID, "invitation.created", fiber.Map{
		"invitationId": invitation.ID,
		"email":        invitation.Email,
		"role":         invitation.Role,
		"expiresAt":    invitation.ExpiresAt,
	})

	// The plaintext token travels only in the invite email.
	return utils.Success(c, fiber.StatusCreated, invitation)
}

func (h *InvitationsHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params := utils.ParsePagination(c)

	query := h.DB.Model(&models.Invitation{}).
		Where("organization_id = ?", user.OrganizationID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to count invitations")
	}

	var invitations []models.Invitation
	if err := utils.ApplyPagination(query.Order("created_at DESC"), params).
		Find(&invitations).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list invitations")
	}

	return utils.Paginated(c, invitations, params.Page, params.Limit, total)
}

// Validate is public: the link recipient has no session yet. The response
// tells the client whether to collect account details.
func (h *InvitationsHandler) Validate(c *fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	details, err := h.Invitations.Validate(token)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, details)
}

type acceptInvitationRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (h *InvitationsHandler) Accept(c *fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	var req acceptInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var fields *services.NewAccountFields
	if req.FirstName != "" || req.Password != "" {
		fields = &services.NewAccountFields{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
		}
	}

	accountID, err := h.Invitations.Accept(token, fields)
	if err != nil {
		return serviceError(c, err)
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", accountID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load account")
	}

	sessionToken, err := utils.GenerateToken(&user, false)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "invitation.accepted",
		ResourceType: "invitation",
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	go h.Webhooks.DeliverToOrganization(context.Background(), user.OrganizationID, "invitation.accepted", fiber.Map{
		"userId": user.ID,
		"email":  user.Email,
		"role":   user.Role,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": sessionToken,
		"user":  user,
	})
}

func (h *InvitationsHandler) Cancel(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invitation id")
	}

	// Scope the cancel to the caller's organization before mutating.
	var invitation models.Invitation
	if err := h.DB.First(&invitation, "id = ? AND organization_id = ?", id, user.OrganizationID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	if err := h.Invitations.Cancel(id, user.ID); err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "invitation.cancelled",
		ResourceType: "invitation",
		ResourceID:   &id,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	go h.Webhooks.DeliverToOrganization(context.Background(), user.OrganizationID, "invitation.cancelled", fiber.Map{
		"invitationId": id,
		"email":        invitation.Email,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "invitation cancelled"})
}

func (h *InvitationsHandler) Resend(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invitation id")
	}

	var invitation models.Invitation
	if err := h.DB.First(&invitation, "id = ? AND organization_id = ?", id, user.OrganizationID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	refreshed, _, err := h.Invitations.Resend(id)
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "invitation.resent",
		ResourceType: "invitation",
		ResourceID:   &id,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, refreshed)
}
