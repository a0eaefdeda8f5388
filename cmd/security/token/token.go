package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the key-hashing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "MCADMIN_TOKEN_HMAC_KEY"
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed snapshot-key secret, requiring at least
// minBytes bytes. A blank value is ErrHMACKeyMissing; a short one wraps
// ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrHMACKeyTooShort, len(b), minBytes)
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// It does not enforce a minimum length. Use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// Hasher derives storage keys from client IDs.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A nil or empty key selects plain SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from MCADMIN_TOKEN_HMAC_KEY (SHA-256 when unset).
func HasherFromEnv() Hasher {
	return NewHasher([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey))))
}

// HMAC reports whether the hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// ClientKey returns the stable 64-char storage key for a client ID.
func (h Hasher) ClientKey(clientID string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(clientID)
	}
	return HashHMACSHA256Hex(clientID, h.key)
}
