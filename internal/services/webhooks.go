package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	webhookSecretBytes  = 24
	webhookSecretPrefix = "whsec_"
)

// WebhookService issues signing secrets and delivers signed events.
//
// The signing secret is generated exactly once at endpoint creation and
// returned in that response alone. At rest it is encrypted; no read path
// decrypts it except outbound signature computation.
type WebhookService struct {
	DB     *gorm.DB
	client *http.Client
	now    func() time.Time
}

func NewWebhookService(db *gorm.DB, deliveryTimeout time.Duration) *WebhookService {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &WebhookService{
		DB:     db,
		client: &http.Client{Timeout: deliveryTimeout},
		now:    time.Now,
	}
}

// Create returns the endpoint and the plaintext secret. Callers must show
// the secret now; it is not retrievable afterwards.
func (s *WebhookService) Create(orgID uuid.UUID, url, description string) (*models.WebhookEndpoint, string, error) {
	token, err := utils.RandomToken(webhookSecretBytes)
	if err != nil {
		return nil, "", err
	}
	secret := webhookSecretPrefix + token

	encrypted, err := utils.EncryptAESGCM(secret)
	if err != nil {
		return nil, "", fmt.Errorf("encrypting signing secret: %w", err)
	}

	endpoint := models.WebhookEndpoint{
		OrganizationID: orgID,
		URL:            url,
		Description:    description,
		SigningSecret:  encrypted,
		SecretPrefix:   secret[:len(webhookSecretPrefix)+6],
	}

	if err := s.DB.Create(&endpoint).Error; err != nil {
		return nil, "", fmt.Errorf("creating webhook endpoint: %w", err)
	}

	logger.Info("webhook_endpoint_created", map[string]interface{}{
		"endpoint_id":     endpoint.ID.String(),
		"organization_id": orgID.String(),
	})

	return &endpoint, secret, nil
}

func (s *WebhookService) List(orgID uuid.UUID) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	if err := s.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("listing webhook endpoints: %w", err)
	}
	return endpoints, nil
}

func (s *WebhookService) Delete(orgID, id uuid.UUID) error {
	res := s.DB.Where("id = ? AND organization_id = ?", id, orgID).
		Delete(&models.WebhookEndpoint{})
	if res.Error != nil {
		return fmt.Errorf("deleting webhook endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *WebhookService) SetDisabled(orgID, id uuid.UUID, disabled bool) error {
	res := s.DB.Model(&models.WebhookEndpoint{}).
		Where("id = ? AND organization_id = ?", id, orgID).
		Update("disabled", disabled)
	if res.Error != nil {
		return fmt.Errorf("updating webhook endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Signature computes the hex HMAC-SHA256 of body under secret, the value
// receivers compare against the X-TrustGate-Signature header.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookPayload struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Deliver posts a signed event. A failed delivery bumps failure_count; a
// success resets it, so the failed status reflects consecutive failures.
// Delivery failures never propagate to the operation that triggered the
// event.
func (s *WebhookService) Deliver(ctx context.Context, endpoint *models.WebhookEndpoint, event string, data interface{}) error {
	if endpoint.Status() != models.WebhookActive {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Timestamp: s.now().Unix(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	secret := utils.DecryptOrPlaintext(endpoint.SigningSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TrustGate-Event", event)
	req.Header.Set("X-TrustGate-Signature", "sha256="+Signature(secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		s.recordFailure(endpoint, event, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook delivery returned status %d", resp.StatusCode)
		s.recordFailure(endpoint, event, err)
		return err
	}

	if endpoint.FailureCount > 0 {
		if err := s.DB.Model(endpoint).Update("failure_count", 0).Error; err != nil {
			logger.Error("webhook_failure_reset_failed", err, map[string]interface{}{
				"endpoint_id": endpoint.ID.String(),
			})
		}
	}
	return nil
}

// DeliverToOrganization fans an event out to every endpoint of the
// organization. Failures are logged per endpoint and swallowed.
func (s *WebhookService) DeliverToOrganization(ctx context.Context, orgID uuid.UUID, event string, data interface{}) {
	endpoints, err := s.List(orgID)
	if err != nil {
		logger.Error("webhook_fanout_failed", err, map[string]interface{}{
			"organization_id": orgID.String(),
		})
		return
	}

	for i := range endpoints {
		_ = s.Deliver(ctx, &endpoints[i], event, data)
	}
}

func (s *WebhookService) recordFailure(endpoint *models.WebhookEndpoint, event string, cause error) {
	if err := s.DB.Model(endpoint).
		Update("failure_count", gorm.Expr("failure_count + 1")).Error; err != nil {
		logger.Error("webhook_failure_increment_failed", err, map[string]interface{}{
			"endpoint_id": endpoint.ID.String(),
		})
		return
	}

	logger.Warn("webhook_delivery_failed", map[string]interface{}{
		"endpoint_id": endpoint.ID.String(),
		"event":       event,
		"cause":       cause.Error(),
	})
}
