package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/trustgate/backend/internal/models"
)

func TestSessionToken_Roundtrip(t *testing.T) {
	ConfigureJWT("jwt-test-secret", 24)

	user := &models.User{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		Email:          "user@test.com",
		Role:           models.UserRoleAdmin,
		OrganizationID: uuid.New(),
	}

	token, err := GenerateToken(user, true)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("failed validating token: %v", err)
	}
	if claims.UserID != user.ID || claims.OrganizationID != user.OrganizationID {
		t.Fatalf("identity did not round-trip: %+v", claims)
	}
	if claims.Role != models.UserRoleAdmin || !claims.SecondFactorVerified {
		t.Fatalf("claims did not round-trip: %+v", claims)
	}

	if _, err := ValidateToken(token + "x"); err == nil {
		t.Fatal("expected a corrupted token to be rejected")
	}
}

func TestMFAToken_RoundtripAndJTI(t *testing.T) {
	ConfigureJWT("jwt-test-secret", 24)

	userID := uuid.New()
	token, err := GenerateMFAToken(userID, "user@test.com")
	if err != nil {
		t.Fatalf("failed generating challenge: %v", err)
	}

	claims, err := ValidateMFAToken(token)
	if err != nil {
		t.Fatalf("failed validating challenge: %v", err)
	}
	if claims.UserID != userID || claims.Email != "user@test.com" {
		t.Fatalf("identity did not round-trip: %+v", claims)
	}
	if claims.TokenType != "mfa_challenge" || claims.JTI == "" {
		t.Fatalf("unexpected challenge claims: %+v", claims)
	}

	if !IsJTIValid(claims.JTI) {
		t.Fatal("expected a fresh challenge id to be unspent")
	}
	ConsumeJTI(claims.JTI)
	if IsJTIValid(claims.JTI) {
		t.Fatal("expected a consumed challenge id to be rejected")
	}
}

func TestMFAToken_RejectsSessionToken(t *testing.T) {
	ConfigureJWT("jwt-test-secret", 24)

	user := &models.User{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		Email:          "user@test.com",
		Role:           models.UserRoleMember,
		OrganizationID: uuid.New(),
	}
	token, err := GenerateToken(user, false)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}

	// A full session token must not pass as a second-factor challenge.
	if _, err := ValidateMFAToken(token); err == nil {
		t.Fatal("expected a session token to be rejected as a challenge")
	}
}
