package models

import "github.com/google/uuid"

type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookInactive WebhookStatus = "inactive"
	WebhookFailed   WebhookStatus = "failed"
)

// An endpoint is marked failed once this many consecutive deliveries fail.
const WebhookFailureThreshold = 10

// WebhookEndpoint holds a signing secret generated once at creation time.
// The plaintext secret appears only in the creation response; at rest it is
// AES-GCM encrypted and no read path re-exposes it. SecretPrefix is the
// short identifying prefix shown in listings.
type WebhookEndpoint struct {
	BaseModel
	OrganizationID uuid.UUID `json:"organizationID" gorm:"type:uuid;not null;index"`
	URL            string    `json:"url" gorm:"type:text;not null"`
	Description    string    `json:"description" gorm:"type:varchar(255)"`
	SigningSecret  string    `json:"-" gorm:"type:text;not null"`
	SecretPrefix   string    `json:"secretPrefix" gorm:"type:varchar(16);not null"`
	FailureCount   int       `json:"failureCount" gorm:"not null;default:0"`
	Disabled       bool      `json:"disabled" gorm:"not null;default:false"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID"`
}

// Status is derived; nothing stores it.
func (w *WebhookEndpoint) Status() WebhookStatus {
	switch {
	case w.FailureCount >= WebhookFailureThreshold:
		return WebhookFailed
	case w.Disabled:
		return WebhookInactive
	default:
		return WebhookActive
	}
}
