package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

const inviteTokenBytes = 32

// ErrAccountDetailsRequired is returned by Accept when the invited email has
// no account yet and no account fields were supplied.
var ErrAccountDetailsRequired = fmt.Errorf("account details required")

type InvitationDetails struct {
	Email            string          `json:"email"`
	Role             models.UserRole `json:"role"`
	OrganizationID   uuid.UUID       `json:"organizationID"`
	OrganizationName string          `json:"organizationName"`
	InviterName      string          `json:"inviterName"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	ExistingUser     bool            `json:"existingUser"`
}

type NewAccountFields struct {
	FirstName string
	LastName  string
	Password  string
}

// InvitationService drives the pending → accepted/cancelled state machine.
// Expiry is computed on every read; nothing sweeps expired rows. Tokens are
// stored as SHA-256 hashes and looked up by hash.
type InvitationService struct {
	DB          *gorm.DB
	Mailer      Mailer
	FrontendURL string
	TTL         time.Duration
	emailWait   time.Duration
	now         func() time.Time
}

func NewInvitationService(db *gorm.DB, mailer Mailer, frontendURL string, ttl time.Duration) *InvitationService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InvitationService{
		DB:          db,
		Mailer:      mailer,
		FrontendURL: frontendURL,
		TTL:         ttl,
		emailWait:   10 * time.Second,
		now:         time.Now,
	}
}

// WithClock overrides the expiry time source. Test hook.
func (s *InvitationService) WithClock(now func() time.Time) *InvitationService {
	s.now = now
	return s
}

func hashInviteToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create issues a pending invitation and returns the plaintext token. The
// one-pending-invite-per-email rule is a read check, not a mutation: an
// expired pending row does not block a new invitation.
func (s *InvitationService) Create(orgID uuid.UUID, email string, role models.UserRole, invitedBy uuid.UUID) (*models.Invitation, string, error) {
	now := s.now()

	var member models.User
	err := s.DB.First(&member, "email = ? AND organization_id = ?", email, orgID).Error
	if err == nil {
		return nil, "", ErrDuplicateMember
	}
	if err != gorm.ErrRecordNotFound {
		return nil, "", fmt.Errorf("checking existing member: %w", err)
	}

	var pending models.Invitation
	err = s.DB.First(&pending,
		"organization_id = ? AND email = ? AND status = ? AND expires_at > ?",
		orgID, email, models.InvitationPending, now,
	).Error
	if err == nil {
		return nil, "", ErrDuplicateInvite
	}
	if err != gorm.ErrRecordNotFound {
		return nil, "", fmt.Errorf("checking pending invitation: %w", err)
	}

	token, err := utils.RandomToken(inviteTokenBytes)
	if err != nil {
		return nil, "", err
	}

	invitation := models.Invitation{
		TokenHash:      hashInviteToken(token),
		Email:          email,
		Role:           role,
		OrganizationID: orgID,
		InvitedByID:    invitedBy,
		Status:         models.InvitationPending,
		ExpiresAt:      now.Add(s.TTL),
	}

	if err := s.DB.Create(&invitation).Error; err != nil {
		return nil, "", fmt.Errorf("creating invitation: %w", err)
	}

	s.sendInviteEmail(&invitation, token, "invitation_created")

	return &invitation, token, nil
}

// Validate resolves a plaintext token to display metadata. Expiry is
// checked here regardless of the stored status.
func (s *InvitationService) Validate(token string) (*InvitationDetails, error) {
	var invitation models.Invitation
	err := s.DB.Preload("Organization").Preload("InvitedBy").
		First(&invitation, "token_hash = ?", hashInviteToken(token)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading invitation: %w", err)
	}

	if invitation.Status != models.InvitationPending {
		return nil, ErrAlreadyResolved
	}
	if invitation.IsExpired(s.now()) {
		return nil, ErrExpired
	}

	existingUser := false
	var user models.User
	if err := s.DB.Unscoped().First(&user, "email = ?", invitation.Email).Error; err == nil {
		existingUser = true
	}

	return &InvitationDetails{
		Email:            invitation.Email,
		Role:             invitation.Role,
		OrganizationID:   invitation.OrganizationID,
		OrganizationName: invitation.Organization.Name,
		InviterName:      invitation.InvitedBy.FirstName,
		ExpiresAt:        invitation.ExpiresAt,
		ExistingUser:     existingUser,
	}, nil
}

// Accept re-validates inside a transaction — a Validate done earlier by the
// caller is not trusted — and flips the status with a conditional update so
// two racing accepts produce exactly one success. The account mutation and
// the status flip commit or roll back together.
func (s *InvitationService) Accept(token string, fields *NewAccountFields) (uuid.UUID, error) {
	var accountID uuid.UUID

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var invitation models.Invitation
		if err := tx.First(&invitation, "token_hash = ?", hashInviteToken(token)).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("loading invitation: %w", err)
		}

		if invitation.Status != models.InvitationPending {
			return ErrAlreadyResolved
		}
		now := s.now()
		if invitation.IsExpired(now) {
			return ErrExpired
		}

		var user models.User
		err := tx.Unscoped().First(&user, "email = ?", invitation.Email).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if fields == nil || fields.FirstName == "" || len(fields.Password) < 8 {
				return ErrAccountDetailsRequired
			}
			passwordHash, hashErr := utils.HashPassword(fields.Password)
			if hashErr != nil {
				return fmt.Errorf("hashing password: %w", hashErr)
			}
			// Trust is inherited from holding the invitation link, so the
			// account starts email-verified.
			user = models.User{
				Email:           invitation.Email,
				PasswordHash:    passwordHash,
				FirstName:       fields.FirstName,
				LastName:        fields.LastName,
				Role:            invitation.Role,
				OrganizationID:  invitation.OrganizationID,
				IsEmailVerified: true,
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("creating account: %w", err)
			}
		case err == nil:
			updates := map[string]interface{}{
				"organization_id": invitation.OrganizationID,
				"role":            invitation.Role,
				"deleted_at":      nil,
			}
			if err := tx.Unscoped().Model(&user).Updates(updates).Error; err != nil {
				return fmt.Errorf("reassigning account: %w", err)
			}
		default:
			return fmt.Errorf("loading account: %w", err)
		}

		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Updates(map[string]interface{}{
				"status":      models.InvitationAccepted,
				"accepted_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("resolving invitation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent accept; roll back the account
			// mutation with the transaction.
			return ErrAlreadyResolved
		}

		accountID = user.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	logger.Info("invitation_accepted", map[string]interface{}{
		"account_id": accountID.String(),
	})

	return accountID, nil
}

// Cancel is only valid from pending; anything else reads as NotFound so the
// caller cannot distinguish resolved from missing.
func (s *InvitationService) Cancel(id uuid.UUID, requestedBy uuid.UUID) error {
	res := s.DB.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", id, models.InvitationPending).
		Update("status", models.InvitationCancelled)
	if res.Error != nil {
		return fmt.Errorf("cancelling invitation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	logger.InfoWithUser(requestedBy.String(), "invitation_cancelled", map[string]interface{}{
		"invitation_id": id.String(),
	})
	return nil
}

// Resend rotates token and expiry on the same row. The conditional update
// means the old token stops validating the instant the new hash commits.
func (s *InvitationService) Resend(id uuid.UUID) (*models.Invitation, string, error) {
	var invitation models.Invitation
	if err := s.DB.First(&invitation, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("loading invitation: %w", err)
	}
	if invitation.Status != models.InvitationPending {
		return nil, "", ErrAlreadyResolved
	}

	token, err := utils.RandomToken(inviteTokenBytes)
	if err != nil {
		return nil, "", err
	}
	newExpiry := s.now().Add(s.TTL)

	res := s.DB.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", id, models.InvitationPending).
		Updates(map[string]interface{}{
			"token_hash": hashInviteToken(token),
			"expires_at": newExpiry,
		})
	if res.Error != nil {
		return nil, "", fmt.Errorf("rotating invitation token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, "", ErrAlreadyResolved
	}

	invitation.ExpiresAt = newExpiry
	s.sendInviteEmail(&invitation, token, "invitation_resent")

	return &invitation, token, nil
}

// sendInviteEmail is fire-and-forget: a delivery failure is logged and never
// rolls back the already-committed invitation state.
func (s *InvitationService) sendInviteEmail(invitation *models.Invitation, token, template string) {
	if s.Mailer == nil {
		return
	}

	inviteURL := fmt.Sprintf("%s/invitations/%s", s.FrontendURL, token)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.emailWait)
		defer cancel()

		err := s.Mailer.Send(ctx, template, invitation.Email, map[string]interface{}{
			"inviteURL": inviteURL,
			"role":      string(invitation.Role),
			"expiresAt": invitation.ExpiresAt.Format(time.RFC1123),
		})
		if err != nil {
			logger.Warn("invitation_email_failed", map[string]interface{}{
				"invitation_id": invitation.ID.String(),
				"template":      template,
				"error":         err.Error(),
			})
		}
	}()
}
