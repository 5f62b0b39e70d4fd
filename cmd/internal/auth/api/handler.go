package authapi

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"vidtube/cmd/identity"
	"vidtube/cmd/internal/auth/session"
	"vidtube/cmd/internal/auth/token"
	"vidtube/cmd/internal/media"
	"vidtube/cmd/security/password"
)

// Handler wires the HTTP user endpoints to the session service, identity
// store, and media uploader.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	store    identity.Store
	tokens   *token.Issuer
	uploads  media.Uploader
}

// NewHandler constructs the user API handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, store identity.Store, tokens *token.Issuer, uploads media.Uploader) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil || store == nil || tokens == nil || uploads == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		tokens:   tokens,
		uploads:  uploads,
	}, nil
}

// Register wires user routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/v1/users/register", h.handleRegister)
	mux.HandleFunc("/api/v1/users/login", h.handleLogin)
	mux.HandleFunc("/api/v1/users/refresh-token", h.handleRefresh)
	mux.HandleFunc("/api/v1/users/logout", h.RequireIdentity(h.handleLogout))
	mux.HandleFunc("/api/v1/users/change-password", h.RequireIdentity(h.handleChangePassword))
	mux.HandleFunc("/api/v1/users/me", h.RequireIdentity(h.handleMe))
	mux.HandleFunc("/api/v1/users/account", h.RequireIdentity(h.handleUpdateAccount))
	mux.HandleFunc("/api/v1/users/avatar", h.RequireIdentity(h.handleUpdateAvatar))
	mux.HandleFunc("/api/v1/users/cover-image", h.RequireIdentity(h.handleUpdateCover))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxMultipartBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxMultipartBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart form required")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	email := strings.TrimSpace(r.FormValue("email"))
	fullName := strings.TrimSpace(r.FormValue("fullName"))
	plaintext := r.FormValue("password")
	if username == "" || email == "" || plaintext == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username, email and password are required")
		return
	}

	ctx := r.Context()

	// Assets are keyed by the normalized username; the identity id does not
	// exist until Create succeeds.
	owner := identity.NormalizeUsername(username)

	avatar, err := h.uploadFormFile(r, "avatar", media.KindAvatar, owner)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid_request", "avatar image is required")
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	coverURL := ""
	if cover, err := h.uploadFormFile(r, "coverImage", media.KindCover, owner); err == nil {
		coverURL = cover.URL
	} else if !errors.Is(err, http.ErrMissingFile) {
		h.writeDomainError(w, r, err)
		return
	}

	u, err := h.sessions.Register(ctx, session.RegisterInput{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		Password:      plaintext,
		AvatarURL:     avatar.URL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.identifier() == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username/email and password are required")
		return
	}

	now := time.Now().UTC()
	u, pair, err := h.sessions.Login(r.Context(), now, req.identifier(), req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	tokens := toTokenResponse(pair)
	if h.cfg.CookieTransport {
		if _, err := h.setSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
			h.log.Error("auth.login.cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
		tokens.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(u), Tokens: tokens})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if cookieToken, ok := h.refreshTokenFromCookie(r); ok && refreshToken == "" {
		refreshToken = cookieToken
		fromCookie = true
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	now := time.Now().UTC()
	pair, err := h.sessions.Refresh(r.Context(), now, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrTokenReuseDetected) {
			h.clearSessionCookies(w)
		}
		h.writeDomainError(w, r, err)
		return
	}

	tokens := toTokenResponse(pair)
	if h.cfg.CookieTransport {
		if _, err := h.setSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
			h.log.Error("auth.refresh.cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
		tokens.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := IdentityFromContext(r.Context())
	if err := h.sessions.Logout(r.Context(), u.ID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "oldPassword and newPassword are required")
		return
	}

	u, _ := IdentityFromContext(r.Context())
	if err := h.sessions.ChangePassword(r.Context(), u.ID, req.OldPassword, req.NewPassword); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, registerResponse{User: toUserResponse(u)})
}

func (h *Handler) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req updateAccountRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	caller, _ := IdentityFromContext(r.Context())
	u, err := h.store.UpdateAccount(r.Context(), caller.ID, req.FullName, req.Email)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{User: toUserResponse(u)})
}

func (h *Handler) handleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "avatar", media.KindAvatar, h.store.SetAvatarURL)
}

func (h *Handler) handleUpdateCover(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "coverImage", media.KindCover, h.store.SetCoverImageURL)
}

func (h *Handler) handleImageUpdate(
	w http.ResponseWriter,
	r *http.Request,
	field, kind string,
	apply func(ctx context.Context, id, url string) (identity.User, error),
) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxMultipartBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxMultipartBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart form required")
		return
	}

	caller, _ := IdentityFromContext(r.Context())

	asset, err := h.uploadFormFile(r, field, kind, caller.ID)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid_request", field+" image is required")
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	u, err := apply(r.Context(), caller.ID, asset.URL)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{User: toUserResponse(u)})
}

// uploadFormFile reads one multipart file field and stores it via the media
// uploader. Returns http.ErrMissingFile when the field is absent.
func (h *Handler) uploadFormFile(r *http.Request, field, kind, owner string) (media.Asset, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return media.Asset{}, err
	}
	defer func() { _ = file.Close() }()

	return h.uploads.Upload(r.Context(), media.UploadInput{
		Kind:        kind,
		OwnerID:     owner,
		ContentType: contentTypeOf(header),
		Size:        header.Size,
		Body:        file,
	})
}

func contentTypeOf(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// writeDomainError is the single translation point from domain errors to
// HTTP responses. Authentication failures stay deliberately generic.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, session.ErrTokenReuseDetected):
		writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
	case errors.Is(err, session.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token")
	case errors.Is(err, password.ErrPasswordTooShort), errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "weak_password", "password does not meet policy")
	case errors.Is(err, media.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "unsupported_media_type", "unsupported image type")
	case errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "media_too_large", "image exceeds size limit")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "already_exists", "username or email already in use")
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	default:
		h.log.Error("api.request.fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
