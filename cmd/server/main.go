package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/internal/database"
	"github.com/trustgate/backend/internal/handlers"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/internal/storage"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/servicetoken"
	"github.com/trustgate/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			utils.CleanupExpiredJTIs()
		}
	}()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.Email.Enabled {
		sesMailer, err := services.NewSESMailer(context.Background(), cfg.Email)
		if err != nil {
			log.Fatalf("ses initialization failed: %v", err)
		}
		mailer = sesMailer
	}

	issuer := servicetoken.NewIssuer(cfg.ServiceToken.Secret, cfg.ServiceToken.TTL)

	auditService := services.NewAuditService(db, storageClient)
	auditService.StartExporter(cfg.Audit.ExportInterval)

	backupService := services.NewBackupCodeService(db, services.BcryptHasher{})
	totpService := services.NewTOTPService(db, backupService, services.BcryptHasher{})
	invitationService := services.NewInvitationService(db, mailer, cfg.Server.FrontendURL, cfg.Invite.TTL)
	webhookService := services.NewWebhookService(db, cfg.Webhook.DeliveryTimeout)
	ssoService := services.NewSSOService(db, cfg)

	authHandler := handlers.NewAuthHandler(db, auditService)
	mfaHandler := handlers.NewMFAHandler(db, totpService, backupService, auditService)
	invitationsHandler := handlers.NewInvitationsHandler(db, invitationService, webhookService, auditService)
	webhooksHandler := handlers.NewWebhooksHandler(db, webhookService, auditService)
	serviceTokensHandler := handlers.NewServiceTokensHandler(issuer, auditService)
	ssoHandler := handlers.NewSSOHandler(db, cfg, ssoService, auditService)
	membersHandler := handlers.NewMembersHandler(db, auditService)

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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
