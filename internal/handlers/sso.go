package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type SSOHandler struct {
	DB    *gorm.DB
	Cfg   *config.Config
	SSO   *services.SSOService
	Audit *services.AuditService
}

func NewSSOHandler(db *gorm.DB, cfg *config.Config, sso *services.SSOService, audit *services.AuditService) *SSOHandler {
	return &SSOHandler{DB: db, Cfg: cfg, SSO: sso, Audit: audit}
}

func (h *SSOHandler) GetLoginRedirect(c *fiber.Ctx) error {
	provider := c.Params("provider")

	oauthCfg, err := h.SSO.GetOAuthConfig(provider)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	state, err := utils.RandomToken(16)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate state")
	}

	c.Cookie(&fiber.Cookie{
		Name:     "oauth_state",
		Value:    state,
		MaxAge:   600,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url": oauthCfg.AuthCodeURL(state),
	})
}

func (h *SSOHandler) HandleOAuthCallback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	code := c.Query("code")
	state := c.Query("state")

	frontendURL := h.Cfg.Server.FrontendURL

	if code == "" {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("authorization code is required"))
	}
	if state == "" || state != c.Cookies("oauth_state") {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("state mismatch"))
	}

	oauthToken, err := h.SSO.ExchangeCode(c.Context(), provider, code)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	profile, err := h.SSO.GetUserInfo(c.Context(), provider, oauthToken)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	user, err := h.SSO.FindOrCreateUser(profile)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("no account or invitation for this identity"))
	}

	var mfaCfg models.MFAConfig
	if h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error == nil && mfaCfg.TOTPEnabled {
		mfaToken, err := utils.GenerateMFAToken(user.ID, user.Email)
		if err != nil {
			return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("failed to generate MFA token"))
		}
		return c.Redirect(frontendURL + "/auth/callback?mfa_required=true&mfa_token=" + url.QueryEscape(mfaToken))
	}

	token, err := utils.GenerateToken(user, false)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("failed to generate token"))
	}

	logger.Info("sso_login_success", map[string]interface{}{
		"user_id":  user.ID.String(),
		"provider": provider,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.sso_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"provider": provider},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return c.Redirect(frontendURL + "/auth/callback?token=" + url.QueryEscape(token))
}

func (h *SSOHandler) ListProviders(c *fiber.Ctx) error {
	providers := []fiber.Map{}
	if h.Cfg.SSO.Google.Enabled {
		providers = append(providers, fiber.Map{"name": "google", "type": "oauth"})
	}
	if h.Cfg.SSO.GitHub.Enabled {
		providers = append(providers, fiber.Map{"name": "github", "type": "oauth"})
	}
	return utils.Success(c, fiber.StatusOK, providers)
}
