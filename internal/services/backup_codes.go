package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

// Charset excludes 0/O, 1/I/L so a code read off paper can't be
// mistranscribed.
const backupCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	BackupCodeBatchSize = 8
	backupCodeGroupLen  = 4
)

// Hasher is the adaptive password-hashing collaborator. Tests substitute a
// fast fake; production uses bcrypt.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

type BcryptHasher struct{}

func (BcryptHasher) Hash(plaintext string) (string, error) { return utils.HashPassword(plaintext) }
func (BcryptHasher) Verify(plaintext, digest string) bool {
	return utils.CheckPassword(plaintext, digest)
}

// BackupCodeService issues and consumes one-time recovery codes. Only
// hashes are stored; a code transitions from unconsumed to absent exactly
// once. Consumption is serialized per user so concurrent attempts cannot
// double-spend.
type BackupCodeService struct {
	DB     *gorm.DB
	Hasher Hasher

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewBackupCodeService(db *gorm.DB, hasher Hasher) *BackupCodeService {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &BackupCodeService{
		DB:     db,
		Hasher: hasher,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *BackupCodeService) userLock(userID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// Generate returns a fresh batch of plaintext codes in XXXX-XXXX form.
// Persistence is the caller's job; the plaintext is shown once and gone.
func (s *BackupCodeService) Generate(count int) ([]string, error) {
	if count <= 0 {
		count = BackupCodeBatchSize
	}

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := utils.RandomCode(backupCodeCharset, backupCodeGroupLen*2)
		if err != nil {
			return nil, fmt.Errorf("generating backup code: %w", err)
		}
		codes = append(codes, raw[:backupCodeGroupLen]+"-"+raw[backupCodeGroupLen:])
	}
	return codes, nil
}

func (s *BackupCodeService) HashAll(codes []string) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hash, err := s.Hasher.Hash(normalizeBackupCode(code))
		if err != nil {
			return nil, fmt.Errorf("hashing backup code: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

type ConsumeResult struct {
	Valid          bool
	RemainingCount int
}

// VerifyAndConsume checks the submitted code against every stored hash and
// removes the first match. The per-user lock plus a conditional update on
// backup_count guarantees a code is spent at most once even when another
// process races on the same row.
func (s *BackupCodeService) VerifyAndConsume(userID uuid.UUID, submitted string) (ConsumeResult, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ConsumeResult{Valid: false, RemainingCount: 0}, nil
		}
		return ConsumeResult{}, fmt.Errorf("loading mfa config: %w", err)
	}

	hashes, err := decodeHashes(cfg.BackupCodes)
	if err != nil {
		return ConsumeResult{}, err
	}
	if len(hashes) == 0 {
		return ConsumeResult{Valid: false, RemainingCount: 0}, nil
	}

	normalized := normalizeBackupCode(submitted)

	matchIndex := -1
	for i, hash := range hashes {
		if s.Hasher.Verify(normalized, hash) {
			matchIndex = i
			break
		}
	}
	if matchIndex == -1 {
		return ConsumeResult{Valid: false, RemainingCount: len(hashes)}, nil
	}

	remaining := append(hashes[:matchIndex], hashes[matchIndex+1:]...)
	encoded, err := json.Marshal(remaining)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("encoding backup codes: %w", err)
	}

	res := s.DB.Model(&models.MFAConfig{}).
		Where("user_id = ? AND backup_count = ?", userID, len(hashes)).
		Updates(map[string]interface{}{
			"backup_codes": string(encoded),
			"backup_count": len(remaining),
		})
	if res.Error != nil {
		return ConsumeResult{}, fmt.Errorf("consuming backup code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another process consumed a code between our read and write.
		// Treat the attempt as invalid rather than risk a double spend.
		logger.Warn("backup_code_consume_conflict", map[string]interface{}{
			"user_id": userID.String(),
		})
		return ConsumeResult{Valid: false, RemainingCount: len(hashes)}, nil
	}

	return ConsumeResult{Valid: true, RemainingCount: len(remaining)}, nil
}

// Regenerate replaces the stored set unconditionally. Password re-check is
// the same rule as TOTP disable: OAuth-only accounts have no password and
// cannot pass it.
func (s *BackupCodeService) Regenerate(userID uuid.UUID, password string) ([]string, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, ErrNotFound
	}
	if !user.HasPassword() {
		return nil, ErrPasswordRequired
	}
	if !s.Hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidPassword
	}

	var cfg models.MFAConfig
	if err := s.DB.First(&cfg, "user_id = ?", userID).Error; err != nil {
		return nil, ErrNotInitialized
	}
	if !cfg.TOTPEnabled {
		return nil, ErrNotInitialized
	}

	codes, err := s.Generate(BackupCodeBatchSize)
	if err != nil {
		return nil, err
	}
	hashes, err := s.HashAll(codes)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return nil, fmt.Errorf("encoding backup codes: %w", err)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.DB.Model(&cfg).Updates(map[string]interface{}{
		"backup_codes": string(encoded),
		"backup_count": len(hashes),
	}).Error; err != nil {
		return nil, fmt.Errorf("storing backup codes: %w", err)
	}

	logger.InfoWithUser(userID.String(), "backup_codes_regenerated", map[string]interface{}{
		"count": len(codes),
	})

	return codes, nil
}

func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

func decodeHashes(stored string) ([]string, error) {
	if stored == "" {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(stored), &hashes); err != nil {
		return nil, fmt.Errorf("decoding backup codes: %w", err)
	}
	return hashes, nil
}
