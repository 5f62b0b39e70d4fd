package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls API transport behavior and cookie security defaults.
type Config struct {
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// MaxMultipartBytes caps multipart (image upload) request bodies.
	MaxMultipartBytes int64

	// CookieTransport enables the HttpOnly refresh cookie + CSRF cookie pair
	// for browser clients. When disabled, tokens travel only in JSON bodies.
	CookieTransport bool

	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite

	AccessCookieName  string
	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults. Invalid values fall back to the default rather than failing:
// transport tuning must not keep the service from starting.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes:      envInt64("VIDTUBE_API_MAX_BODY_BYTES", 1<<20),
		MaxMultipartBytes: envInt64("VIDTUBE_API_MAX_MULTIPART_BYTES", 32<<20),
		CookieTransport:   envBool("VIDTUBE_API_COOKIE_TRANSPORT", true),
		CookieDomain:      strings.TrimSpace(os.Getenv("VIDTUBE_API_COOKIE_DOMAIN")),
		CookiePath:        "/",
		CookieSecure:      envBool("VIDTUBE_API_COOKIE_SECURE", true),
		CookieSameSite:    envSameSite("VIDTUBE_API_COOKIE_SAMESITE", http.SameSiteLaxMode),
		AccessCookieName:  envName("VIDTUBE_API_ACCESS_COOKIE", "vidtube_access"),
		RefreshCookieName: envName("VIDTUBE_API_REFRESH_COOKIE", "vidtube_refresh"),
		CSRFCookieName:    envName("VIDTUBE_API_CSRF_COOKIE", "vidtube_csrf"),
		CSRFHeaderName:    envName("VIDTUBE_API_CSRF_HEADER", "X-CSRF-Token"),
	}

	if v := strings.TrimSpace(os.Getenv("VIDTUBE_API_COOKIE_PATH")); v != "" {
		cfg.CookiePath = v
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envName(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envSameSite(key string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return def
	}
}
