package services

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	totpIssuer      = "TrustGate"
	totpSecretBytes = 20
	totpPeriod      = 30
	// One step of tolerance either side covers device clock skew without
	// widening the replay window much past a minute.
	totpSkewSteps = 1
)

type TOTPSetup struct {
	Secret string
	QRUri  string
}

type TOTPStatus struct {
	Enabled         bool
	PendingSetup    bool
	VerifiedAt      *time.Time
	BackupCodesLeft int
}

// TOTPService owns the TOTP credential lifecycle: pending setup, enablement
// after a verified code, verification during login, and password-gated
// disable.
type TOTPService struct {
	DB     *gorm.DB
	Backup *BackupCodeService
	Hasher Hasher
	now    func() time.Time
}

func NewTOTPService(db *gorm.DB, backup *BackupCodeService, hasher Hasher) *TOTPService {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &TOTPService{DB: db, Backup: backup, Hasher: hasher, now: time.Now}
}

// WithClock overrides the verification time source. Test hook.
func (s *TOTPService) WithClock(now func() time.Time) *TOTPService {
	s.now = now
	return s
}

// Setup generates a fresh secret and stores it encrypted in the
// pending-setup state. The secret is not trusted until Enable sees a
// correct code. Re-running setup before enablement rotates the pending
// secret.
func (s *TOTPService) Setup(user *models.User) (*TOTPSetup, error) {
	var existing models.MFAConfig
	err := s.DB.First(&existing, "user_id = ?", user.ID).Error
	if err == nil && existing.TOTPEnabled {
		return nil, ErrAlreadyEnabled
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("loading mfa config: %w", err)
	}

	secret, err := utils.RandomSecret(totpSecretBytes)
	if err != nil {
		return nil, err
	}
	rawSecret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decoding generated secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: user.Email,
		Secret:      rawSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("building otpauth key: %w", err)
	}

	encryptedSecret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("encrypting totp secret: %w", err)
	}

	if existing.ID != uuid.Nil {
		err = s.DB.Model(&existing).Updates(map[string]interface{}{
			"totp_secret":      encryptedSecret,
			"totp_enabled":     false,
			"totp_verified_at": nil,
		}).Error
	} else {
		err = s.DB.Create(&models.MFAConfig{
			UserID:     user.ID,
			TOTPSecret: encryptedSecret,
		}).Error
	}
	if err != nil {
		return nil, fmt.Errorf("storing totp secret: %w", err)
	}

	return &TOTPSetup{Secret: key.Secret(), QRUri: key.URL()}, nil
}

// VerifyCode checks a code against the current step with ±totpSkewSteps
// tolerance. Never panics; malformed codes simply fail. The underlying
// comparison is constant-time.
func (s *TOTPService) VerifyCode(code, secret string) bool {
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// Enable flips the pending secret to enabled after a real verification —
// never on code shape alone — and issues the backup-code batch. The
// plaintext codes are returned exactly once.
func (s *TOTPService) Enable(userID uuid.UUID, submittedCode string) ([]string, error) {
	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("loading mfa config: %w", err)
	}
	if cfg.TOTPEnabled {
		return nil, ErrAlreadyEnabled
	}
	if cfg.TOTPSecret == "" {
		return nil, ErrNotInitialized
	}

	secret := utils.DecryptOrPlaintext(cfg.TOTPSecret)
	if !s.VerifyCode(submittedCode, secret) {
		return nil, ErrInvalidCode
	}

	codes, err := s.Backup.Generate(BackupCodeBatchSize)
	if err != nil {
		return nil, err
	}
	hashes, err := s.Backup.HashAll(codes)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return nil, fmt.Errorf("encoding backup codes: %w", err)
	}

	now := s.now()
	if err := s.DB.Model(&cfg).Updates(map[string]interface{}{
		"totp_enabled":     true,
		"totp_verified_at": now,
		"backup_codes":     string(encoded),
		"backup_count":     len(hashes),
	}).Error; err != nil {
		return nil, fmt.Errorf("enabling totp: %w", err)
	}

	logger.InfoWithUser(userID.String(), "totp_enabled", map[string]interface{}{
		"backup_codes_issued": len(codes),
	})

	return codes, nil
}

// Disable requires the account password so a stolen session alone cannot
// turn off the second factor. Clears the secret and every backup code.
func (s *TOTPService) Disable(userID uuid.UUID, password string) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return ErrNotFound
	}

	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		return ErrNotInitialized
	}
	if !cfg.TOTPEnabled {
		return ErrNotInitialized
	}

	if !user.HasPassword() {
		return ErrPasswordRequired
	}
	if !s.Hasher.Verify(password, user.PasswordHash) {
		return ErrInvalidPassword
	}

	if err := s.DB.Model(&cfg).Updates(map[string]interface{}{
		"totp_enabled":     false,
		"totp_secret":      "",
		"totp_verified_at": nil,
		"backup_codes":     "",
		"backup_count":     0,
	}).Error; err != nil {
		return fmt.Errorf("disabling totp: %w", err)
	}

	logger.InfoWithUser(userID.String(), "totp_disabled", nil)
	return nil
}

// VerifySecondFactor checks a login-time TOTP code for an enabled config.
// The error is deliberately the same whether the config, secret, or code
// was wrong: callers surface one generic "invalid code".
func (s *TOTPService) VerifySecondFactor(userID uuid.UUID, code string) error {
	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		return ErrInvalidCode
	}
	if !cfg.TOTPEnabled || cfg.TOTPSecret == "" {
		return ErrInvalidCode
	}
	if !s.VerifyCode(code, utils.DecryptOrPlaintext(cfg.TOTPSecret)) {
		return ErrInvalidCode
	}
	return nil
}

func (s *TOTPService) Status(userID uuid.UUID) (*TOTPStatus, error) {
	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &TOTPStatus{}, nil
		}
		return nil, fmt.Errorf("loading mfa config: %w", err)
	}

	return &TOTPStatus{
		Enabled:         cfg.TOTPEnabled,
		PendingSetup:    !cfg.TOTPEnabled && cfg.TOTPSecret != "",
		VerifiedAt:      cfg.TOTPVerifiedAt,
		BackupCodesLeft: cfg.BackupCount,
	}, nil
}
