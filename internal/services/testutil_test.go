package services

import (
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/gorm"
)

var serviceTestOnce sync.Once

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	serviceTestOnce.Do(func() {
		logger.Init()
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.MFAConfig{},
		&models.Invitation{},
		&models.WebhookEndpoint{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createServiceTestOrg(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{Name: name}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed creating organization: %v", err)
	}
	return org
}

func createServiceTestUser(t *testing.T, db *gorm.DB, org *models.Organization, email, password string, role models.UserRole) *models.User {
	t.Helper()

	hash := ""
	if password != "" {
		var err error
		hash, err = utils.HashPassword(password)
		if err != nil {
			t.Fatalf("failed hashing password: %v", err)
		}
	}

	user := &models.User{
		Email:          email,
		PasswordHash:   hash,
		FirstName:      "Test",
		LastName:       "User",
		Role:           role,
		OrganizationID: org.ID,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	return user
}
