package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/khanghh/koidc/params"
)

func GenerateSecret(n int) (string, error) {
	// each 3 bytes → 4 Base64 chars
	rawSize := (n*3 + 3) / 4
	raw := make([]byte, rawSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	return secret[:n], nil
}

// FingerprintToken returns the hex encoded SHA-256 digest of a bearer value.
// Tokens are persisted and looked up by fingerprint only.
func FingerprintToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MaskSecret keeps a short prefix of a secret for log correlation.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= params.MaskedSecretPrefixLength*2 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:params.MaskedSecretPrefixLength] + "****"
}
