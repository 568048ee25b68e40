package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type MFAHandler struct {
	DB     *gorm.DB
	TOTP   *services.TOTPService
	Backup *services.BackupCodeService
	Audit  *services.AuditService
}

func NewMFAHandler(db *gorm.DB, totpSvc *services.TOTPService, backup *services.BackupCodeService, audit *services.AuditService) *MFAHandler {
	return &MFAHandler{DB: db, TOTP: totpSvc, Backup: backup, Audit: audit}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	status, err := h.TOTP.Status(user.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled":          status.Enabled,
		"pendingSetup":         status.PendingSetup,
		"totpVerifiedAt":       status.VerifiedAt,
		"backupCodesRemaining": status.BackupCodesLeft,
	})
}

func (h *MFAHandler) TOTPSetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	setup, err := h.TOTP.Setup(user)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": setup.Secret,
		"qrUri":  setup.QRUri,
	})
}

type enableTOTPRequest struct {
	Code string `json:"code"`
}

// TOTPEnable finishes setup. The response carries the backup codes (shown
// exactly once) and a fresh session token, because the old session lacks
// the second-factor claim the account now requires.
func (h *MFAHandler) TOTPEnable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req enableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	backupCodes, err := h.TOTP.Enable(user.ID, req.Code)
	if err != nil {
		return serviceError(c, err)
	}

	token, err := utils.GenerateToken(user, true)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_enabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"backupCodes": backupCodes,
		"token":       token,
	})
}

type disableTOTPRequest struct {
	Password string `json:"password"`
}

func (h *MFAHandler) TOTPDisable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.TOTP.Disable(user.ID, req.Password); err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_disabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "TOTP disabled"})
}

type verifyMFARequest struct {
	MFAToken string `json:"mfaToken"`
	Code     string `json:"code"`
}

func (h *MFAHandler) resolveChallenge(c *fiber.Ctx, req *verifyMFARequest) (*models.User, string, error) {
	claims, err := utils.ValidateMFAToken(req.MFAToken)
	if err != nil {
		return nil, "", utils.Error(c, fiber.StatusUnauthorized, "invalid or expired MFA token")
	}
	if !utils.IsJTIValid(claims.JTI) {
		return nil, "", utils.Error(c, fiber.StatusUnauthorized, "MFA token already used")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return nil, "", utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}
	return &user, claims.JTI, nil
}

// VerifyTOTP exchanges a login challenge plus a valid authenticator code
// for a full session. The challenge is single use either way.
func (h *MFAHandler) VerifyTOTP(c *fiber.Ctx) error {
	var req verifyMFARequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.MFAToken == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken and code are required")
	}

	user, jti, errResp := h.resolveChallenge(c, &req)
	if user == nil {
		return errResp
	}

	if err := h.TOTP.VerifySecondFactor(user.ID, req.Code); err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid code")
	}

	utils.ConsumeJTI(jti)

	token, err := utils.GenerateToken(user, true)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"method": "totp"},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

// VerifyBackup is the recovery path: one backup code buys one session and
// is gone afterwards, whether or not anything else succeeds later.
func (h *MFAHandler) VerifyBackup(c *fiber.Ctx) error {
	var req verifyMFARequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.MFAToken == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken and code are required")
	}

	user, jti, errResp := h.resolveChallenge(c, &req)
	if user == nil {
		return errResp
	}

	result, err := h.Backup.VerifyAndConsume(user.ID, req.Code)
	if err != nil {
		return serviceError(c, err)
	}
	if !result.Valid {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid backup code")
	}

	utils.ConsumeJTI(jti)

	token, err := utils.GenerateToken(user, true)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	if result.RemainingCount <= 2 {
		logger.Warn("backup_codes_low", map[string]interface{}{
			"user_id":   user.ID.String(),
			"remaining": result.RemainingCount,
		})
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"method":    "backup_code",
			"remaining": result.RemainingCount,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token":                token,
		"user":                 user,
		"backupCodesRemaining": result.RemainingCount,
	})
}

type regenerateBackupRequest struct {
	Password string `json:"password"`
}

func (h *MFAHandler) RegenerateBackup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req regenerateBackupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	codes, err := h.Backup.Regenerate(user.ID, req.Password)
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.backup_regenerated",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"backupCodes": codes})
}
