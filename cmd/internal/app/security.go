package app

import (
	"errors"

	"vidtube/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// When RequireTokenHMAC is set, refresh digests must be keyed: a deployment
// that silently falls back to plain SHA-256 hashing must not start.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes, so the minimum is measured in bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: VIDTUBE_REQUIRE_TOKEN_HMAC=true but VIDTUBE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: VIDTUBE_REQUIRE_TOKEN_HMAC=true but VIDTUBE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: VIDTUBE_REQUIRE_TOKEN_HMAC=true but digest hashing is not in HMAC mode")
	}

	return nil
}
