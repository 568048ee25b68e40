package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/servicetoken"
)

func TestServiceTokenMintAndWhoAmI(t *testing.T) {
	env := setupTestEnv(t)
	org := createTestOrg(t, env.db, "Acme")
	user, token := createTestUser(t, env.db, org, "svc@acme.com", "password123", models.UserRoleAdmin)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/service-tokens", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]interface{})
	serviceToken := data["serviceToken"].(string)
	if serviceToken == "" {
		t.Fatal("expected a service token")
	}
	if got := int(data["expiresIn"].(float64)); got != 3600 {
		t.Fatalf("expected 3600s ttl, got %d", got)
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/internal/whoami", nil, authHeaders(serviceToken))
	assertStatus(t, resp, http.StatusOK)
	data = decodeJSONMap(t, resp)["data"].(map[string]interface{})
	if data["userId"].(string) != user.ID.String() {
		t.Fatalf("expected user id %s, got %v", user.ID, data["userId"])
	}
	if data["organizationId"].(string) != org.ID.String() {
		t.Fatalf("expected organization id %s, got %v", org.ID, data["organizationId"])
	}
	if data["secondFactorVerified"].(bool) {
		t.Fatal("expected secondFactorVerified to be false for a password-only session")
	}
}

func TestServiceToken_SessionTokenRejectedOnInternalRoutes(t *testing.T) {
	env := setupTestEnv(t)
	org := createTestOrg(t, env.db, "Acme")
	_, token := createTestUser(t, env.db, org, "svc@acme.com", "password123", models.UserRoleAdmin)

	// A session JWT is signed with a different secret and must not pass.
	resp := performRequest(t, env.app, http.MethodGet, "/api/internal/whoami", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestServiceToken_ExpiredRejected(t *testing.T) {
	env := setupTestEnv(t)
	org := createTestOrg(t, env.db, "Acme")
	user, _ := createTestUser(t, env.db, org, "svc@acme.com", "password123", models.UserRoleAdmin)

	past := time.Now().Add(-2 * time.Hour)
	staleIssuer := servicetoken.NewIssuer("test-service-secret", time.Hour).
		WithClock(func() time.Time { return past })
	stale, err := staleIssuer.Mint(servicetoken.Claims{
		UserID:         user.ID,
		Email:          user.Email,
		Role:           string(user.Role),
		OrganizationID: org.ID,
	})
	if err != nil {
		t.Fatalf("failed minting stale token: %v", err)
	}

	resp := performRequest(t, env.app, http.MethodGet, "/api/internal/whoami", nil, authHeaders(stale))
	assertStatus(t, resp, http.StatusUnauthorized)
}
