package services

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/trustgate/backend/internal/models"
	"gorm.io/gorm"
)

// plainHasher keeps backup code tests fast; bcrypt behavior is covered by
// the package utils tests.
type plainHasher struct{}

func (plainHasher) Hash(plaintext string) (string, error) { return "h:" + plaintext, nil }
func (plainHasher) Verify(plaintext, digest string) bool  { return digest == "h:"+plaintext }

func seedBackupCodes(t *testing.T, db *gorm.DB, svc *BackupCodeService, user *models.User) []string {
	t.Helper()

	codes, err := svc.Generate(BackupCodeBatchSize)
	if err != nil {
		t.Fatalf("failed generating codes: %v", err)
	}
	hashes, err := svc.HashAll(codes)
	if err != nil {
		t.Fatalf("failed hashing codes: %v", err)
	}
	encoded, _ := json.Marshal(hashes)

	cfg := models.MFAConfig{
		UserID:      user.ID,
		TOTPEnabled: true,
		TOTPSecret:  "irrelevant",
		BackupCodes: string(encoded),
		BackupCount: len(hashes),
	}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("failed creating mfa config: %v", err)
	}
	return codes
}

func TestBackupCodeGenerate_Format(t *testing.T) {
	svc := NewBackupCodeService(nil, plainHasher{})

	codes, err := svc.Generate(BackupCodeBatchSize)
	if err != nil {
		t.Fatalf("failed generating codes: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(codes))
	}

	seen := map[string]bool{}
	for _, code := range codes {
		parts := strings.Split(code, "-")
		if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 4 {
			t.Fatalf("unexpected code format: %q", code)
		}
		for _, r := range parts[0] + parts[1] {
			if !strings.ContainsRune(backupCodeCharset, r) {
				t.Fatalf("code %q contains rune outside the charset", code)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate code in batch: %q", code)
		}
		seen[code] = true
	}
}

func TestBackupCodeVerifyAndConsume(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	user := createServiceTestUser(t, db, org, "codes@test.com", "password123", models.UserRoleMember)

	svc := NewBackupCodeService(db, plainHasher{})
	codes := seedBackupCodes(t, db, svc, user)

	// Case and separators are cosmetic.
	submitted := strings.ToLower(strings.ReplaceAll(codes[0], "-", " "))
	result, err := svc.VerifyAndConsume(user.ID, submitted)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !result.Valid || result.RemainingCount != 7 {
		t.Fatalf("expected valid with 7 remaining, got %+v", result)
	}

	// Spent codes stay spent.
	result, err = svc.VerifyAndConsume(user.ID, codes[0])
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected a spent code to be invalid")
	}
	if result.RemainingCount != 7 {
		t.Fatalf("expected 7 remaining, got %d", result.RemainingCount)
	}

	result, err = svc.VerifyAndConsume(user.ID, "ZZZZ-ZZZZ")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected an unknown code to be invalid")
	}
}

func TestBackupCodeVerifyAndConsume_EmptySet(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	user := createServiceTestUser(t, db, org, "empty@test.com", "password123", models.UserRoleMember)

	svc := NewBackupCodeService(db, plainHasher{})

	result, err := svc.VerifyAndConsume(user.ID, "AAAA-BBBB")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if result.Valid || result.RemainingCount != 0 {
		t.Fatalf("expected invalid with 0 remaining, got %+v", result)
	}
}

func TestBackupCodeVerifyAndConsume_ConcurrentSingleSpend(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	user := createServiceTestUser(t, db, org, "race@test.com", "password123", models.UserRoleMember)

	svc := NewBackupCodeService(db, plainHasher{})
	codes := seedBackupCodes(t, db, svc, user)

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.VerifyAndConsume(user.ID, codes[0])
			if err != nil {
				t.Errorf("consume failed: %v", err)
				return
			}
			successes <- result.Valid
		}()
	}
	wg.Wait()
	close(successes)

	valid := 0
	for ok := range successes {
		if ok {
			valid++
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one successful spend, got %d", valid)
	}

	var cfg models.MFAConfig
	if err := db.First(&cfg, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("failed loading mfa config: %v", err)
	}
	if cfg.BackupCount != 7 {
		t.Fatalf("expected 7 codes remaining, got %d", cfg.BackupCount)
	}
}

func TestBackupCodeRegenerate(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	user := createServiceTestUser(t, db, org, "regen@test.com", "password123", models.UserRoleMember)

	svc := NewBackupCodeService(db, BcryptHasher{})
	seedBackupCodes(t, db, svc, user)

	if _, err := svc.Regenerate(user.ID, "wrong"); err != ErrInvalidPassword {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	codes, err := svc.Regenerate(user.ID, "password123")
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if len(codes) != BackupCodeBatchSize {
		t.Fatalf("expected %d codes, got %d", BackupCodeBatchSize, len(codes))
	}

	result, err := svc.VerifyAndConsume(user.ID, codes[0])
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected a freshly regenerated code to verify")
	}
}

func TestBackupCodeRegenerate_PasswordlessAccount(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	user := createServiceTestUser(t, db, org, "sso@test.com", "", models.UserRoleMember)

	svc := NewBackupCodeService(db, plainHasher{})
	seedBackupCodes(t, db, svc, user)

	if _, err := svc.Regenerate(user.ID, "anything"); err != ErrPasswordRequired {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}
