package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/trustgate/backend/internal/middleware"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/internal/services"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

type WebhooksHandler struct {
	DB       *gorm.DB
	Webhooks *services.WebhookService
	Audit    *services.AuditService
}

func NewWebhooksHandler(db *gorm.DB, webhooks *services.WebhookService, audit *services.AuditService) *WebhooksHandler {
	return &WebhooksHandler{DB: db, Webhooks: webhooks, Audit: audit}
}

type createWebhookRequest struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Create returns the signing secret exactly once. Every later read shows
// only the prefix.
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.URL = strings.TrimSpace(req.URL)
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return utils.Error(c, fiber.StatusBadRequest, "url must be an http or https endpoint")
	}

	endpoint, secret, err := h.Webhooks.Create(user.OrganizationID, req.URL, req.Description)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create webhook endpoint")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "webhook.created",
		ResourceType: "webhook_endpoint",
		ResourceID:   &endpoint.ID,
		Details:      map[string]interface{}{"url": endpoint.URL},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"endpoint":      endpoint,
		"signingSecret": secret,
	})
}

func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	endpoints, err := h.Webhooks.List(user.OrganizationID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list webhook endpoints")
	}

	items := make([]fiber.Map, 0, len(endpoints))
	for i := range endpoints {
		e := &endpoints[i]
		items = append(items, fiber.Map{
			"id":           e.ID,
			"url":          e.URL,
			"description":  e.Description,
			"secretPrefix": e.SecretPrefix,
			"status":       e.Status(),
			"failureCount": e.FailureCount,
			"createdAt":    e.CreatedAt,
		})
	}

	return utils.Success(c, fiber.StatusOK, items)
}

func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid endpoint id")
	}

	if err := h.Webhooks.Delete(user.OrganizationID, id); err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "webhook.deleted",
		ResourceType: "webhook_endpoint",
		ResourceID:   &id,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "webhook endpoint deleted"})
}

type updateWebhookRequest struct {
	Disabled *bool `json:"disabled"`
}

func (h *WebhooksHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid endpoint id")
	}

	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil || req.Disabled == nil {
		return utils.Error(c, fiber.StatusBadRequest, "disabled flag is required")
	}

	if err := h.Webhooks.SetDisabled(user.OrganizationID, id, *req.Disabled); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "webhook endpoint updated"})
}

// Test delivers a synchronous ping so the caller sees the result in the
// response instead of digging through logs.
func (h *WebhooksHandler) Test(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid endpoint id")
	}

	var endpoint models.WebhookEndpoint
	if err := h.DB.First(&endpoint, "id = ? AND organization_id = ?", id, user.OrganizationID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}
	if endpoint.Status() != models.WebhookActive {
		return utils.Error(c, fiber.StatusConflict, "endpoint is not active")
	}

	deliverErr := h.Webhooks.Deliver(c.Context(), &endpoint, "webhook.test", fiber.Map{
		"endpointId": endpoint.ID,
	})
	if deliverErr != nil {
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"delivered": false,
			"error":     deliverErr.Error(),
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"delivered": true})
}
