package models

import (
	"time"

	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Invitation grants one-time onboarding access to an email address.
//
// Expiry is derived, never stored: a row can read "pending" long after
// ExpiresAt, so every read path must call IsExpired before trusting it.
// Only the SHA-256 hash of the invite token is persisted; the plaintext
// exists in the creation (and resend) response alone.
type Invitation struct {
	BaseModel
	TokenHash      string           `json:"-" gorm:"type:text;not null;uniqueIndex"`
	Email          string           `json:"email" gorm:"type:varchar(255);not null;index"`
	Role           UserRole         `json:"role" gorm:"type:varchar(20);not null"`
	OrganizationID uuid.UUID        `json:"organizationID" gorm:"type:uuid;not null;index"`
	InvitedByID    uuid.UUID        `json:"invitedByID" gorm:"type:uuid;not null"`
	Status         InvitationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ExpiresAt      time.Time        `json:"expiresAt" gorm:"not null;index"`
	AcceptedAt     *time.Time       `json:"acceptedAt,omitempty"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID"`
	InvitedBy    User         `json:"-" gorm:"foreignKey:InvitedByID"`
}

func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
