package services

import (
	"testing"
	"time"

	"github.com/trustgate/backend/internal/models"
	"gorm.io/gorm"
)

func newTestInvitationService(db *gorm.DB) *InvitationService {
	return NewInvitationService(db, nil, "https://app.test", 7*24*time.Hour)
}

func TestInvitationExpiry_Boundary(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	svc := newTestInvitationService(db)

	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return issued })

	inv, token, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// One nanosecond before the deadline the token still validates.
	svc.WithClock(func() time.Time { return inv.ExpiresAt.Add(-time.Nanosecond) })
	if _, err := svc.Validate(token); err != nil {
		t.Fatalf("expected a still-live token, got %v", err)
	}

	// At the deadline itself it does not.
	svc.WithClock(func() time.Time { return inv.ExpiresAt })
	if _, err := svc.Validate(token); err != ErrExpired {
		t.Fatalf("expected ErrExpired at the deadline, got %v", err)
	}
	if _, err := svc.Accept(token, nil); err != ErrExpired {
		t.Fatalf("expected Accept to report ErrExpired, got %v", err)
	}
}

func TestInvitationCreate_ExpiredPendingDoesNotBlock(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	svc := newTestInvitationService(db)

	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return issued })

	if _, _, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID); err != ErrDuplicateInvite {
		t.Fatalf("expected ErrDuplicateInvite while pending, got %v", err)
	}

	// Once the pending row has lapsed a fresh invitation goes through.
	svc.WithClock(func() time.Time { return issued.Add(8 * 24 * time.Hour) })
	if _, _, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID); err != nil {
		t.Fatalf("expected a new invitation after expiry, got %v", err)
	}
}

func TestInvitationResend_RotatesToken(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	svc := newTestInvitationService(db)

	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return issued })

	inv, oldToken, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	svc.WithClock(func() time.Time { return issued.Add(3 * 24 * time.Hour) })
	rotated, newToken, err := svc.Resend(inv.ID)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if newToken == oldToken {
		t.Fatal("expected resend to mint a different token")
	}
	if !rotated.ExpiresAt.After(inv.ExpiresAt) {
		t.Fatalf("expected the deadline to move forward, got %v -> %v", inv.ExpiresAt, rotated.ExpiresAt)
	}

	if _, err := svc.Validate(oldToken); err != ErrNotFound {
		t.Fatalf("expected the old token to stop resolving, got %v", err)
	}
	if _, err := svc.Validate(newToken); err != nil {
		t.Fatalf("expected the new token to validate, got %v", err)
	}
}

func TestInvitationAccept_ReactivatesRemovedUser(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	former := createServiceTestUser(t, db, org, "former@test.com", "password123", models.UserRoleMember)
	if err := db.Delete(former).Error; err != nil {
		t.Fatalf("failed removing user: %v", err)
	}

	svc := newTestInvitationService(db)
	_, token, err := svc.Create(org.ID, "former@test.com", models.UserRoleAdmin, inviter.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	details, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !details.ExistingUser {
		t.Fatal("expected the removed account to count as existing")
	}

	// An existing account needs no fields; the soft delete is undone and
	// the invited role applied.
	accountID, err := svc.Accept(token, nil)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accountID != former.ID {
		t.Fatalf("expected the original account to be reused, got %s", accountID)
	}

	var restored models.User
	if err := db.First(&restored, "id = ?", former.ID).Error; err != nil {
		t.Fatalf("expected the account back in scope: %v", err)
	}
	if restored.Role != models.UserRoleAdmin {
		t.Fatalf("expected the invited role, got %s", restored.Role)
	}
}

func TestInvitationAccept_RejectsWeakAccountFields(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	svc := newTestInvitationService(db)

	_, token, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fields := &NewAccountFields{FirstName: "Nina", Password: "short"}
	if _, err := svc.Accept(token, fields); err != ErrAccountDetailsRequired {
		t.Fatalf("expected ErrAccountDetailsRequired for a short password, got %v", err)
	}

	// The failed attempt must not have consumed the invitation.
	if _, err := svc.Validate(token); err != nil {
		t.Fatalf("expected the invitation to survive the failed accept, got %v", err)
	}
}

func TestInvitationCancel_OnlyPending(t *testing.T) {
	db := setupServiceTestDB(t)
	org := createServiceTestOrg(t, db, "Acme")
	inviter := createServiceTestUser(t, db, org, "owner@test.com", "password123", models.UserRoleOwner)
	svc := newTestInvitationService(db)

	inv, token, err := svc.Create(org.ID, "new@test.com", models.UserRoleMember, inviter.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	fields := &NewAccountFields{FirstName: "Nina", LastName: "Reyes", Password: "password123"}
	if _, err := svc.Accept(token, fields); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	if err := svc.Cancel(inv.ID, inviter.ID); err != ErrNotFound {
		t.Fatalf("expected cancel of an accepted invitation to read as ErrNotFound, got %v", err)
	}
	if _, _, err := svc.Resend(inv.ID); err != ErrAlreadyResolved {
		t.Fatalf("expected resend of an accepted invitation to fail, got %v", err)
	}
}
