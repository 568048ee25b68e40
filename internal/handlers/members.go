package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type MembersHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewMembersHandler(db *gorm.DB, audit *services.AuditService) *MembersHandler {
	return &MembersHandler{DB: db, Audit: audit}
}

func (h *MembersHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params := utils.ParsePagination(c)

	query := h.DB.Model(&models.User{}).Where("organization_id = ?", user.OrganizationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to count members")
	}

	var members []models.User
	if err := utils.ApplyPagination(query.Order("created_at ASC"), params).
		Find(&members).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list members")
	}

	return utils.Paginated(c, members, params.Page, params.Limit, total)
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

// UpdateRole moves a member between admin and member. The owner role is
// not assignable or removable here.
func (h *MembersHandler) UpdateRole(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var req updateMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	role := models.UserRole(req.Role)
	if !models.ValidInviteRole(role) {
		return utils.Error(c, fiber.StatusBadRequest, "role must be admin or member")
	}

	var member models.User
	if err := h.DB.First(&member, "id = ? AND organization_id = ?", id, user.OrganizationID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}
	if member.Role == models.UserRoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner role cannot be changed")
	}

	if err := h.DB.Model(&member).Update("role", role).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update member")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "member.role_updated",
		ResourceType: "user",
		ResourceID:   &member.ID,
		Details:      map[string]interface{}{"role": string(role)},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, member)
}

// Remove soft-deletes the member. A later invitation for the same email
// reactivates the account instead of creating a new one.
func (h *MembersHandler) Remove(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}
	if id == user.ID {
		return utils.Error(c, fiber.StatusBadRequest, "you cannot remove yourself")
	}

	var member models.User
	if err := h.DB.First(&member, "id = ? AND organization_id = ?", id, user.OrganizationID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}
	if member.Role == models.UserRoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner cannot be removed")
	}

	if err := h.DB.Delete(&member).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to remove member")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "member.removed",
		ResourceType: "user",
		ResourceID:   &member.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}
