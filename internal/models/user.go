package models

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleOwner  UserRole = "owner"
	UserRoleAdmin  UserRole = "admin"
	UserRoleMember UserRole = "member"
)

func ValidInviteRole(r UserRole) bool {
	switch r {
	case UserRoleAdmin, UserRoleMember:
		return true
	default:
		return false
	}
}

type User struct {
	BaseModel
	Email           string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash    string    `json:"-" gorm:"type:text"` // empty for OAuth-only accounts
	FirstName       string    `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName        string    `json:"lastName" gorm:"type:varchar(100)"`
	Role            UserRole  `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	OrganizationID  uuid.UUID `json:"organizationID" gorm:"type:uuid;not null;index"`
	IsEmailVerified bool      `json:"isEmailVerified" gorm:"default:false"`
	AuthProvider    *string   `json:"authProvider,omitempty" gorm:"type:varchar(20)"`
	ExternalID      *string   `json:"-" gorm:"type:varchar(255)"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID"`
	MFAConfig    *MFAConfig   `json:"-" gorm:"foreignKey:UserID"`
}

// HasPassword reports whether the account can be asked for a password.
// OAuth-only accounts have none, which blocks password-gated operations
// (TOTP disable, backup-code regeneration) with PasswordRequired.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
