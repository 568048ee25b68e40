package utils

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
	"testing"
)

func TestRandomSecret(t *testing.T) {
	secret, err := RandomSecret(20)
	if err != nil {
		t.Fatalf("failed generating secret: %v", err)
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("secret is not unpadded base32: %v", err)
	}
	if len(decoded) != 20 {
		t.Fatalf("expected 20 bytes of entropy, got %d", len(decoded))
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("expected no padding, got %q", secret)
	}

	other, _ := RandomSecret(20)
	if other == secret {
		t.Fatal("two draws returned the same secret")
	}
}

func TestRandomToken(t *testing.T) {
	token, err := RandomToken(32)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}
}

func TestRandomCode(t *testing.T) {
	const charset = "ABC123"

	code, err := RandomCode(charset, 16)
	if err != nil {
		t.Fatalf("failed generating code: %v", err)
	}
	if len(code) != 16 {
		t.Fatalf("expected 16 characters, got %d", len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune(charset, r) {
			t.Fatalf("code %q contains rune outside the charset", code)
		}
	}

	if _, err := RandomCode("", 8); err == nil {
		t.Fatal("expected an empty charset to be rejected")
	}
	if _, err := RandomCode(charset, 0); err == nil {
		t.Fatal("expected a zero length to be rejected")
	}
}
