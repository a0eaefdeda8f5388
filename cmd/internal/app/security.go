package app

import (
	"errors"
	"fmt"

	"mcadmin/cmd/security/seal"
	"mcadmin/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast: a configured but unusable secret is an error, never a silent
// downgrade.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireTokenHMAC {
		// Minimum 32 bytes for the HMAC-SHA256 secret, measured as raw bytes.
		if _, err := token.HMACKeyFromEnv(32); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return errors.New("security policy: MCADMIN_REQUIRE_TOKEN_HMAC=true but MCADMIN_TOKEN_HMAC_KEY is missing")
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("security policy: MCADMIN_REQUIRE_TOKEN_HMAC=true but %w", err)
			default:
				return err
			}
		}
		if !token.HMACEnabled() {
			return errors.New("security policy: MCADMIN_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
		}
	}

	if (cfg.SealPassphrase == "") != (cfg.SealSalt == "") {
		return errors.New("security policy: MCADMIN_SEAL_PASSPHRASE and MCADMIN_SEAL_SALT must be set together")
	}
	return nil
}

// NewSealer returns the sealer for persisted auth tokens. Without a
// passphrase tokens are stored as-is; sealed=false reports that.
func NewSealer(cfg Config) (s seal.Sealer, sealed bool, err error) {
	if cfg.SealPassphrase == "" {
		return seal.Plain{}, false, nil
	}

	scfg, err := seal.FromEnv()
	if err != nil {
		return nil, false, fmt.Errorf("seal config: %w", err)
	}
	box, err := seal.NewBox(scfg, cfg.SealPassphrase, cfg.SealSalt)
	if err != nil {
		return nil, false, fmt.Errorf("seal key: %w", err)
	}
	return box, true, nil
}
