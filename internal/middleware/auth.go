package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/servicetoken"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	currentUserKey   = "currentUser"
	sessionClaimsKey = "sessionClaims"
	serviceClaimsKey = "serviceClaims"
)

type AuthMiddleware struct {
	DB *gorm.DB
}

func NewAuthMiddleware(db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{DB: db}
}

func CORS(frontendURL string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: frontendURL,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader {
		return ""
	}
	return tokenString
}

// RequireAuth validates the session token and loads the account. A session
// minted before the second factor was passed cannot reach protected routes
// while TOTP is enabled for the account.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	tokenString := bearerToken(c)
	if tokenString == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing or malformed authorization header")
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.Preload("MFAConfig").First(&user, "id = ?", claims.UserID).Error; err != nil {
		logger.Warn("jwt_user_not_found", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID,
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	if user.MFAConfig != nil && user.MFAConfig.TOTPEnabled && !claims.SecondFactorVerified {
		logger.Warn("jwt_second_factor_missing", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID,
		})
		return utils.Error(c, fiber.StatusUnauthorized, "second factor verification required")
	}

	c.Locals(currentUserKey, &user)
	c.Locals(sessionClaimsKey, claims)
	return c.Next()
}

func GetSessionClaims(c *fiber.Ctx) *utils.Claims {
	value := c.Locals(sessionClaimsKey)
	if value == nil {
		return nil
	}
	claims, ok := value.(*utils.Claims)
	if !ok {
		return nil
	}
	return claims
}

func AdminOnly(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleOwner && user.Role != models.UserRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

type ServiceTokenMiddleware struct {
	Issuer *servicetoken.Issuer
}

func NewServiceTokenMiddleware(issuer *servicetoken.Issuer) *ServiceTokenMiddleware {
	return &ServiceTokenMiddleware{Issuer: issuer}
}

// RequireServiceToken guards internal service-to-service routes. No
// database lookup happens here; the token is the whole identity.
func (m *ServiceTokenMiddleware) RequireServiceToken(c *fiber.Ctx) error {
	tokenString := bearerToken(c)
	if tokenString == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "missing or malformed authorization header")
	}

	claims, err := m.Issuer.Verify(tokenString)
	if err != nil {
		logger.Warn("service_token_rejected", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired service token")
	}

	c.Locals(serviceClaimsKey, claims)
	return c.Next()
}

func GetServiceClaims(c *fiber.Ctx) *servicetoken.Claims {
	value := c.Locals(serviceClaimsKey)
	if value == nil {
		return nil
	}
	claims, ok := value.(*servicetoken.Claims)
	if !ok {
		return nil
	}
	return claims
}
