package authapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"vidtube/cmd/identity"
	"vidtube/cmd/internal/auth/session"
	"vidtube/cmd/internal/auth/token"
	"vidtube/cmd/internal/media"
	"vidtube/cmd/security/password"
)

func testEnv(t *testing.T, cookieTransport bool) (*http.ServeMux, *identity.MemoryStore) {
	t.Helper()

	store := identity.NewMemoryStore()
	issuer, err := token.NewIssuer(func() token.Config {
		cfg := token.DefaultConfig()
		cfg.AccessSecret = []byte(strings.Repeat("a", 32))
		cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
		return cfg
	}())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	passwords := password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: password.Policy{MinLength: 8, MaxLength: 256},
	}

	sessions, err := session.NewService(store, passwords, issuer, nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := LoadConfigFromEnv()
	cfg.CookieTransport = cookieTransport
	cfg.CookieSecure = false

	uploads := media.NewMemoryUploader(media.Config{PublicBaseURL: "https://cdn.test"})

	h, err := NewHandler(nil, cfg, sessions, store, issuer, uploads)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return mux, store
}

type filePart struct {
	field       string
	filename    string
	contentType string
	content     string
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files []filePart) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		hdr.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := part.Write([]byte(f.content)); err != nil {
			t.Fatalf("part write: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func registerVia(t *testing.T, mux *http.ServeMux) {
	t.Helper()

	req := multipartRequest(t, http.MethodPost, "/api/v1/users/register",
		map[string]string{
			"username": "maria",
			"email":    "maria@example.com",
			"fullName": "Maria K",
			"password": "correct horse battery",
		},
		[]filePart{{field: "avatar", filename: "a.png", contentType: "image/png", content: "png"}},
	)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body)
	}
}

func loginVia(t *testing.T, mux *http.ServeMux) tokenResponse {
	t.Helper()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "maria", "password": "correct horse battery"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body)
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Tokens
}

func TestRegisterCreatesUserWithAvatar(t *testing.T) {
	mux, store := testEnv(t, false)
	registerVia(t, mux)

	u, err := store.FindByIdentifier(t.Context(), "maria")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if !strings.HasPrefix(u.AvatarURL, "https://cdn.test/avatars/maria/") {
		t.Fatalf("avatar url = %q", u.AvatarURL)
	}
	if u.CoverImageURL != "" {
		t.Fatalf("cover url must be empty, got %q", u.CoverImageURL)
	}
}

func TestRegisterRequiresAvatar(t *testing.T) {
	mux, _ := testEnv(t, false)

	req := multipartRequest(t, http.MethodPost, "/api/v1/users/register",
		map[string]string{
			"username": "maria",
			"email":    "maria@example.com",
			"password": "correct horse battery",
		}, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)

	req := multipartRequest(t, http.MethodPost, "/api/v1/users/register",
		map[string]string{
			"username": "MARIA",
			"email":    "other@example.com",
			"password": "correct horse battery",
		},
		[]filePart{{field: "avatar", filename: "a.png", contentType: "image/png", content: "png"}},
	)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409; body %s", rec.Code, rec.Body)
	}
}

func TestLoginReturnsTokens(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)

	tokens := loginVia(t, mux)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", tokens)
	}
}

func TestLoginBadPasswordIsGeneric401(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "maria", "password": "wrong password!"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_credentials") {
		t.Fatalf("body %s", rec.Body)
	}
}

func TestLoginCorruptedStoredHashIsServerError(t *testing.T) {
	mux, store := testEnv(t, false)
	registerVia(t, mux)

	u, err := store.FindByIdentifier(t.Context(), "maria")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if err := store.SetPasswordHash(t.Context(), u.ID, "not-a-phc-string"); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "maria", "password": "correct horse battery"}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500; body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "server_error") {
		t.Fatalf("body %s", rec.Body)
	}
}

func TestMeRequiresBearer(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: status %d body %s", rec.Code, rec.Body)
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.Username != "maria" {
		t.Fatalf("user = %+v", resp.User)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token",
		map[string]string{"refreshToken": tokens.RefreshToken}))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body)
	}

	var rotated tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == tokens.RefreshToken {
		t.Fatal("refresh must return a new refresh token")
	}

	// Replaying the original token is reuse.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token",
		map[string]string{"refreshToken": tokens.RefreshToken}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reuse: status %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refresh_reuse_detected") {
		t.Fatalf("body %s", rec.Body)
	}
}

func TestCookieTransportRefreshRequiresCSRF(t *testing.T) {
	mux, _ := testEnv(t, true)
	registerVia(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "maria", "password": "correct horse battery"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body)
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tokens.RefreshToken != "" {
		t.Fatal("cookie transport must not return the refresh token in the body")
	}

	var refreshCookie, csrfCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case "vidtube_refresh":
			refreshCookie = c
		case "vidtube_csrf":
			csrfCookie = c
		}
	}
	if refreshCookie == nil || csrfCookie == nil {
		t.Fatal("login must set refresh and csrf cookies")
	}
	if !refreshCookie.HttpOnly {
		t.Fatal("refresh cookie must be HttpOnly")
	}
	if csrfCookie.HttpOnly {
		t.Fatal("csrf cookie must be readable by the client")
	}

	// Cookie without CSRF header: rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(refreshCookie)
	req.AddCookie(csrfCookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no csrf header: status %d, want 403", rec.Code)
	}

	// Cookie plus matching header: accepted.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(refreshCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", csrfCookie.Value)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with csrf header: status %d body %s", rec.Code, rec.Body)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token",
		map[string]string{"refreshToken": tokens.RefreshToken}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status %d, want 401", rec.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	req := jsonRequest(t, http.MethodPost, "/api/v1/users/change-password",
		map[string]string{"oldPassword": "correct horse battery", "newPassword": "an even better pass"})
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("change-password: status %d body %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "maria", "password": "an even better pass"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d", rec.Code)
	}
}

func TestUpdateAccountAndAvatar(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	req := jsonRequest(t, http.MethodPatch, "/api/v1/users/account",
		map[string]string{"fullName": "Maria Khan", "email": "maria.k@example.com"})
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("account: status %d body %s", rec.Code, rec.Body)
	}
	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.FullName != "Maria Khan" || resp.User.Email != "maria.k@example.com" {
		t.Fatalf("user = %+v", resp.User)
	}

	avatarReq := multipartRequest(t, http.MethodPatch, "/api/v1/users/avatar", nil,
		[]filePart{{field: "avatar", filename: "new.jpg", contentType: "image/jpeg", content: "jpg"}})
	avatarReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, avatarReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("avatar: status %d body %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(resp.User.AvatarURL, ".jpg") {
		t.Fatalf("avatar url = %q", resp.User.AvatarURL)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	mux, _ := testEnv(t, false)
	registerVia(t, mux)
	tokens := loginVia(t, mux)

	req := multipartRequest(t, http.MethodPatch, "/api/v1/users/avatar", nil,
		[]filePart{{field: "avatar", filename: "x.exe", contentType: "application/octet-stream", content: "MZ"}})
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", rec.Code, rec.Body)
	}
}
