package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math/big"
)

// All generation below draws from crypto/rand. An entropy failure is
// returned as an error and must abort the caller's operation; there is no
// fallback to a weaker source.

// RandomSecret returns byteLength random bytes encoded as unpadded base32,
// the encoding authenticator apps expect for TOTP secrets.
func RandomSecret(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// RandomToken returns byteLength random bytes hex-encoded. Used for
// invitation tokens and webhook signing secrets.
func RandomToken(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomCode returns length characters drawn uniformly from charset.
// rand.Int avoids the modulo bias a naive byte-mod-len draw would have.
func RandomCode(charset string, length int) (string, error) {
	if charset == "" || length <= 0 {
		return "", fmt.Errorf("invalid code parameters")
	}

	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random index: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
