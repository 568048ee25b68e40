package models

import (
	"time"

	"github.com/google/uuid"
)

// MFAConfig holds a user's TOTP credential and backup codes.
//
// A row with a secret but TOTPEnabled=false is the pending-setup sub-state:
// the secret becomes trusted only once the user presents a correct code.
// Invariant: TOTPEnabled implies TOTPSecret is non-empty.
type MFAConfig struct {
	BaseModel
	UserID         uuid.UUID  `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	TOTPEnabled    bool       `json:"totpEnabled" gorm:"default:false"`
	TOTPSecret     string     `json:"-" gorm:"type:text"` // AES-GCM encrypted at rest
	TOTPVerifiedAt *time.Time `json:"totpVerifiedAt,omitempty"`
	BackupCodes    string     `json:"-" gorm:"type:text"` // JSON array of bcrypt hashes
	BackupCount    int        `json:"backupCodesRemaining" gorm:"default:0"`
	User           User       `json:"-" gorm:"foreignKey:UserID"`
}
