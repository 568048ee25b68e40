package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/servicetoken"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app         *fiber.App
	db          *gorm.DB
	invitations *services.InvitationService
	totp        *services.TOTPService
	backup      *services.BackupCodeService
	webhooks    *services.WebhookService
	issuer      *servicetoken.Issuer
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.MFAConfig{},
		&models.Invitation{},
		&models.WebhookEndpoint{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:3001",
		},
	}

	issuer := servicetoken.NewIssuer("test-service-secret", time.Hour)
	auditService := services.NewAuditService(db, nil)
	backupService := services.NewBackupCodeService(db, services.BcryptHasher{})
	totpService := services.NewTOTPService(db, backupService, services.BcryptHasher{})
	invitationService := services.NewInvitationService(db, services.LogMailer{}, cfg.Server.FrontendURL, 7*24*time.Hour)
	webhookService := services.NewWebhookService(db, 5*time.Second)
	ssoService := services.NewSSOService(db, cfg)

	authHandler := NewAuthHandler(db, auditService)
	mfaHandler := NewMFAHandler(db, totpService, backupService, auditService)
	invitationsHandler := NewInvitationsHandler(db, invitationService, webhookService, auditService)
	webhooksHandler := NewWebhooksHandler(db, webhookService, auditService)
	serviceTokensHandler := NewServiceTokensHandler(issuer, auditService)
	ssoHandler := NewSSOHandler(db, cfg, ssoService, auditService)
	membersHandler := NewMembersHandler(db, auditService)

	authMiddleware := middleware.NewAuthMiddleware(db)
	serviceTokenMiddleware := middleware.NewServiceTokenMiddleware(issuer)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	ssoRoutes := api.Group("/auth/sso")
	ssoRoutes.Get("/providers", ssoHandler.ListProviders)
	ssoRoutes.Get("/:provider", ssoHandler.GetLoginRedirect)
	ssoRoutes.Get("/:provider/callback", ssoHandler.HandleOAuthCallback)

	mfaRoutes := api.Group("/mfa")
	mfaRoutes.Post("/verify/totp", mfaHandler.VerifyTOTP)
	mfaRoutes.Post("/verify/backup", mfaHandler.VerifyBackup)
	mfaRoutes.Get("/status", authMiddleware.RequireAuth, mfaHandler.Status)
	mfaRoutes.Post("/totp/setup", authMiddleware.RequireAuth, mfaHandler.TOTPSetup)
	mfaRoutes.Post("/totp/enable", authMiddleware.RequireAuth, mfaHandler.TOTPEnable)
	mfaRoutes.Post("/totp/disable", authMiddleware.RequireAuth, mfaHandler.TOTPDisable)
	mfaRoutes.Post("/backup/regenerate", authMiddleware.RequireAuth, mfaHandler.RegenerateBackup)

	api.Get("/invitations/:token", invitationsHandler.Validate)
	api.Post("/invitations/:token/accept", invitationsHandler.Accept)

	invitationRoutes := api.Group("/org/invitations", authMiddleware.RequireAuth, middleware.AdminOnly)
	invitationRoutes.Post("/", invitationsHandler.Create)
	invitationRoutes.Get("/", invitationsHandler.List)
	invitationRoutes.Delete("/:id", invitationsHandler.Cancel)
	invitationRoutes.Post("/:id/resend", invitationsHandler.Resend)

	memberRoutes := api.Group("/org/members", authMiddleware.RequireAuth)
	memberRoutes.Get("/", membersHandler.List)
	memberRoutes.Put("/:id", middleware.AdminOnly, membersHandler.UpdateRole)
	memberRoutes.Delete("/:id", middleware.AdminOnly, membersHandler.Remove)

	webhookRoutes := api.Group("/org/webhooks", authMiddleware.RequireAuth, middleware.AdminOnly)
	webhookRoutes.Post("/", webhooksHandler.Create)
	webhookRoutes.Get("/", webhooksHandler.List)
	webhookRoutes.Patch("/:id", webhooksHandler.Update)
	webhookRoutes.Delete("/:id", webhooksHandler.Delete)
	webhookRoutes.Post("/:id/test", webhooksHandler.Test)

	api.Post("/service-tokens", authMiddleware.RequireAuth, serviceTokensHandler.Mint)

	internalRoutes := api.Group("/internal", serviceTokenMiddleware.RequireServiceToken)
	internalRoutes.Get("/whoami", serviceTokensHandler.WhoAmI)

	return &testEnv{
		app:         app,
		db:          db,
		invitations: invitationService,
		totp:        totpService,
		backup:      backupService,
		webhooks:    webhookService,
		issuer:      issuer,
	}
}

func createTestOrg(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{Name: name}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed creating test organization: %v", err)
	}
	return org
}

func createTestUser(t *testing.T, db *gorm.DB, org *models.Organization, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:          email,
		PasswordHash:   hash,
		FirstName:      "Test",
		LastName:       "User",
		Role:           role,
		OrganizationID: org.ID,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user, false)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
