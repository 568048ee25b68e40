package utils

import "testing"

func TestEncryptDecryptAESGCM(t *testing.T) {
	ConfigureEncryption("crypto-test-secret")

	encrypted, err := EncryptAESGCM("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if encrypted == "JBSWY3DPEHPK3PXP" {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := DecryptAESGCM(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}

	// Fresh nonce per call.
	again, _ := EncryptAESGCM("JBSWY3DPEHPK3PXP")
	if again == encrypted {
		t.Fatal("two encryptions of the same value are identical")
	}
}

func TestDecryptOrPlaintext(t *testing.T) {
	ConfigureEncryption("crypto-test-secret")

	encrypted, err := EncryptAESGCM("whsec_abc123")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if got := DecryptOrPlaintext(encrypted); got != "whsec_abc123" {
		t.Fatalf("expected decryption, got %q", got)
	}

	// Rows written before encryption was turned on come back verbatim.
	if got := DecryptOrPlaintext("legacy-plaintext-secret"); got != "legacy-plaintext-secret" {
		t.Fatalf("expected plaintext passthrough, got %q", got)
	}
	if got := DecryptOrPlaintext(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}
