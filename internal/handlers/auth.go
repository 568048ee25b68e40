package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewAuthHandler(db *gorm.DB, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{DB: db, Audit: audit}
}

type registerRequest struct {
	OrganizationName string `json:"organizationName"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
}

// Register creates an organization and its owner account in one step.
// Every other account joins through an invitation.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)

	if req.OrganizationName == "" || req.Email == "" || req.FirstName == "" {
		return utils.Error(c, fiber.StatusBadRequest, "organizationName, email and firstName are required")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	var existing models.User
	if err := h.DB.Unscoped().Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "email is already registered")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	var user models.User
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		org := models.Organization{Name: req.OrganizationName}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}

		user = models.User{
			Email:          req.Email,
			PasswordHash:   passwordHash,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			Role:           models.UserRoleOwner,
			OrganizationID: org.ID,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		logger.Error("register_failed", err, map[string]interface{}{
			"email": req.Email,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create account")
	}

	token, err := utils.GenerateToken(&user, false)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.register",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"token": token,
		"user":  user,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the password and either issues a session directly or, when
// TOTP is enabled, a short-lived challenge token the MFA verify endpoints
// exchange for the real session.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	var user models.User
	if err := h.DB.Preload("MFAConfig").Where("email = ?", req.Email).First(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if !user.HasPassword() {
		return utils.Error(c, fiber.StatusUnauthorized, "this account signs in with an identity provider")
	}
	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.Warn("login_failed", map[string]interface{}{
			"email": req.Email,
			"ip":    c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if user.MFAConfig != nil && user.MFAConfig.TOTPEnabled {
		mfaToken, err := utils.GenerateMFAToken(user.ID, user.Email)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
		}
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"mfaRequired": true,
			"mfaToken":    mfaToken,
		})
	}

	token, err := utils.GenerateToken(&user, false)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}
