package authapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"vidtube/cmd/identity"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// IdentityFromContext returns the authenticated identity record placed by
// RequireIdentity. ok is false for unauthenticated requests.
func IdentityFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(identityKey).(identity.User)
	return u, ok
}

// RequireIdentity verifies the access token, resolves the identity record it
// names, and injects it into the request context. Unauthenticated requests get
// a generic 401 so the failure mode reveals nothing about why verification
// failed; tokens for identities that no longer exist get the same answer.
func (h *Handler) RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := h.accessToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		claims, err := h.tokens.VerifyAccess(raw, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		u, err := h.store.FindByID(r.Context(), claims.UserID)
		if err != nil {
			if identity.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			h.writeDomainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, u)
		next(w, r.WithContext(ctx))
	}
}

// accessToken extracts the raw access token: Authorization bearer first, then
// the access cookie for browser clients.
func (h *Handler) accessToken(r *http.Request) (string, bool) {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if tok := strings.TrimSpace(rest); tok != "" {
				return tok, true
			}
		}
		return "", false
	}

	if h.cfg.CookieTransport {
		if c, err := r.Cookie(h.cfg.AccessCookieName); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
