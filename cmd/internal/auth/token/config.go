package token

import (
	"fmt"
	"os"
	"time"
)

// minSecretBytes is the smallest accepted HMAC secret. HS256 secrets shorter
// than the hash output weaken the MAC.
const minSecretBytes = 32

// Config defines all runtime configuration for token issuance.
//
// Access and refresh tokens are signed with independent secrets and carry
// independent lifetimes. The struct is explicit and environment-driven so
// deployments can tune lifetimes without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of every token.
	Issuer string

	// AccessSecret signs access tokens (HS256).
	AccessSecret []byte

	// RefreshSecret signs refresh tokens (HS256). Must differ from AccessSecret.
	RefreshSecret []byte

	// AccessTTL defines the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL defines the lifetime of refresh tokens.
	RefreshTTL time.Duration

	// ClockSkew is the allowed time skew during verification.
	ClockSkew time.Duration
}

// DefaultConfig returns defaults suitable for development. Secrets are empty
// and must be supplied before NewIssuer will accept the config.
func DefaultConfig() Config {
	return Config{
		Issuer:     "vidtube",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 10 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - VIDTUBE_JWT_ACCESS_SECRET
//   - VIDTUBE_JWT_REFRESH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - VIDTUBE_JWT_ISSUER
//   - VIDTUBE_JWT_ACCESS_TTL
//   - VIDTUBE_JWT_REFRESH_TTL
//   - VIDTUBE_JWT_CLOCK_SKEW
//
// Returns ErrConfig if configuration is missing or invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.AccessSecret = []byte(os.Getenv("VIDTUBE_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("VIDTUBE_JWT_REFRESH_SECRET"))

	if v := os.Getenv("VIDTUBE_JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("VIDTUBE_JWT_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: VIDTUBE_JWT_ACCESS_TTL", ErrConfig)
		}
		cfg.AccessTTL = d
	}

	if v := os.Getenv("VIDTUBE_JWT_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: VIDTUBE_JWT_REFRESH_TTL", ErrConfig)
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("VIDTUBE_JWT_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: VIDTUBE_JWT_CLOCK_SKEW", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if len(c.AccessSecret) < minSecretBytes {
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, minSecretBytes)
	}
	if len(c.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, minSecretBytes)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: TTLs must be positive", ErrConfig)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("%w: refresh TTL must exceed access TTL", ErrConfig)
	}
	return nil
}
