package database

import (
	"fmt"

	"github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedOwner(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.MFAConfig{},
		&models.Invitation{},
		&models.WebhookEndpoint{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
}

// seedOwner bootstraps a first organization and owner so a fresh deploy is
// reachable. The password is meant to be rotated immediately.
func seedOwner(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("changeme123")
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		org := models.Organization{Name: "TrustGate"}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}

		owner := models.User{
			Email:          "owner@trustgate.local",
			PasswordHash:   hash,
			FirstName:      "System",
			LastName:       "Owner",
			Role:           models.UserRoleOwner,
			OrganizationID: org.ID,
		}
		return tx.Create(&owner).Error
	})
}
