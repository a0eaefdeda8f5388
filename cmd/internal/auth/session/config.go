package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for client sessions.
//
// It controls the client cookie, the PASETO v4.local key that encrypts it,
// snapshot lifetime, and how long idle stores stay in memory.
type Config struct {
	// CookieName is the name of the client identification cookie.
	CookieName string

	// CookieKeyHex is the hex-encoded 32-byte PASETO v4.local key.
	// Empty means a random key per process (cookies do not survive restarts).
	CookieKeyHex string

	// ClientTTL bounds both the cookie and persisted snapshots.
	ClientTTL time.Duration

	// IdleTTL is how long an untouched Store stays in the registry.
	IdleTTL time.Duration

	// SnapshotTimeout bounds each snapshot store call made from a listener.
	SnapshotTimeout time.Duration
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:      "mcadmin_client",
		ClientTTL:       14 * 24 * time.Hour,
		IdleTTL:         time.Hour,
		SnapshotTimeout: 3 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - MCADMIN_CLIENT_COOKIE_NAME
//   - MCADMIN_CLIENT_COOKIE_KEY_HEX
//   - MCADMIN_CLIENT_TTL
//   - MCADMIN_CLIENT_IDLE_TTL
//   - MCADMIN_SNAPSHOT_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MCADMIN_CLIENT_COOKIE_NAME")); v != "" {
		if strings.ContainsAny(v, " ;,=\t") {
			return Config{}, ErrConfig
		}
		cfg.CookieName = v
	}

	cfg.CookieKeyHex = strings.TrimSpace(os.Getenv("MCADMIN_CLIENT_COOKIE_KEY_HEX"))
	if cfg.CookieKeyHex != "" && len(cfg.CookieKeyHex) != 64 {
		return Config{}, ErrConfig
	}

	var err error
	if cfg.ClientTTL, err = envPositiveDuration("MCADMIN_CLIENT_TTL", cfg.ClientTTL); err != nil {
		return Config{}, err
	}
	if cfg.IdleTTL, err = envPositiveDuration("MCADMIN_CLIENT_IDLE_TTL", cfg.IdleTTL); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotTimeout, err = envPositiveDuration("MCADMIN_SNAPSHOT_TIMEOUT", cfg.SnapshotTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envPositiveDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
