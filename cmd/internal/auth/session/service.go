package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vidtube/cmd/identity"
	"vidtube/cmd/internal/auth/token"
	"vidtube/cmd/security/password"
	sectoken "vidtube/cmd/security/token"
)

// Metrics receives auth lifecycle outcomes. The app layer backs it with
// Prometheus counters; a nil Metrics disables observation.
type Metrics interface {
	LoginAttempt(result string)
	RefreshRotation(result string)
	ReuseDetected()
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string)    {}
func (nopMetrics) RefreshRotation(string) {}
func (nopMetrics) ReuseDetected()         {}

// Service implements the high-level credential and session operations.
//
// It owns no token state: access and refresh tokens are self-describing, and
// the only server-side session fact is the refresh digest slot on the identity
// record.
type Service struct {
	store     identity.Store
	passwords password.Config
	tokens    *token.Issuer
	log       *slog.Logger
	metrics   Metrics

	// dummyHash absorbs password verification work for unknown identifiers
	// so login latency does not reveal whether an account exists.
	dummyHash string
}

// TokenPair is the result of a successful login or refresh rotation.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterInput describes a registration request with plaintext password.
type RegisterInput struct {
	Username      string
	Email         string
	FullName      string
	Password      string
	AvatarURL     string
	CoverImageURL string
}

// NewService constructs a Service. log may be nil, in which case the default
// slog logger is used; metrics may be nil to disable observation.
func NewService(store identity.Store, passwords password.Config, tokens *token.Issuer, log *slog.Logger, metrics Metrics) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	dummy, err := passwords.Hash("vidtube-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("session: precompute dummy hash: %w", err)
	}

	return &Service{
		store:     store,
		passwords: passwords,
		tokens:    tokens,
		log:       log,
		metrics:   metrics,
		dummyHash: dummy,
	}, nil
}

// Register validates the password against policy, hashes it, and creates the
// identity record. The new identity starts with no trusted session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.User, error) {
	if err := s.passwords.Validate(in.Password); err != nil {
		return identity.User{}, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return identity.User{}, err
	}

	u, err := s.store.Create(ctx, identity.CreateUserInput{
		Username:      in.Username,
		Email:         in.Email,
		FullName:      in.FullName,
		PasswordHash:  hash,
		AvatarURL:     in.AvatarURL,
		CoverImageURL: in.CoverImageURL,
	})
	if err != nil {
		return identity.User{}, err
	}

	s.log.InfoContext(ctx, "auth.register.ok", "user_id", u.ID, "username", u.UsernameNorm)
	return u, nil
}

// Login authenticates identifier+password and establishes a new session.
//
// A successful login unconditionally overwrites the refresh slot: a new login
// displaces whatever session was trusted before.
func (s *Service) Login(ctx context.Context, now time.Time, identifier, plaintext string) (identity.User, TokenPair, error) {
	identifier = strings.TrimSpace(identifier)

	u, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Burn comparable work before answering.
			_, _ = s.passwords.Verify(s.dummyHash, plaintext)
			s.log.InfoContext(ctx, "auth.login.fail", "reason", "unknown_identifier")
			s.metrics.LoginAttempt("unknown_identifier")
			return identity.User{}, TokenPair{}, ErrInvalidCredentials
		}
		return identity.User{}, TokenPair{}, err
	}

	ok, err := s.passwords.Verify(u.PasswordHash, plaintext)
	if err != nil {
		// The stored hash could not be processed. That is data corruption,
		// not a wrong password.
		s.log.ErrorContext(ctx, "auth.login.fail", "reason", "hash_unreadable", "user_id", u.ID, "err", err)
		s.metrics.LoginAttempt("hash_unreadable")
		return identity.User{}, TokenPair{}, fmt.Errorf("session: verify stored hash for %s: %w", u.ID, err)
	}
	if !ok {
		s.log.InfoContext(ctx, "auth.login.fail", "reason", "bad_password", "user_id", u.ID)
		s.metrics.LoginAttempt("bad_password")
		return identity.User{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, refreshDigest, err := s.issuePair(u, now)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	if err := s.store.SetRefreshToken(ctx, u.ID, refreshDigest); err != nil {
		return identity.User{}, TokenPair{}, err
	}

	s.log.InfoContext(ctx, "auth.login.ok", "user_id", u.ID)
	s.metrics.LoginAttempt("ok")
	return u, pair, nil
}

// Refresh rotates a refresh token: verify, then atomically swap the stored
// digest from the presented token's digest to the replacement's.
//
// If the compare-and-set loses, the presented token was already rotated away.
// That is a replay, so the slot is revoked outright and ErrTokenReuseDetected
// is returned; every outstanding refresh token for the user is now useless.
func (s *Service) Refresh(ctx context.Context, now time.Time, presented string) (TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(presented, now)
	if err != nil {
		s.log.InfoContext(ctx, "auth.refresh.fail", "reason", "verify")
		s.metrics.RefreshRotation("invalid_token")
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	u, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}
	if u.RefreshTokenHash == "" {
		// Logged out since issuance.
		s.log.InfoContext(ctx, "auth.refresh.fail", "reason", "no_session", "user_id", u.ID)
		s.metrics.RefreshRotation("no_session")
		return TokenPair{}, ErrInvalidRefreshToken
	}

	pair, newDigest, err := s.issuePair(u, now)
	if err != nil {
		return TokenPair{}, err
	}

	swapped, err := s.store.CompareAndSetRefreshToken(ctx, u.ID, sectoken.HashRefreshTokenHex(presented), newDigest)
	if err != nil {
		return TokenPair{}, err
	}
	if !swapped {
		// The token verified but is no longer the trusted one: replay.
		// Revoke the slot so the winner of the race is cut off too.
		if clearErr := s.store.ClearRefreshToken(ctx, u.ID); clearErr != nil && !identity.IsNotFound(clearErr) {
			s.log.ErrorContext(ctx, "auth.refresh.revoke_fail", "user_id", u.ID, "err", clearErr)
		}
		s.log.WarnContext(ctx, "auth.refresh.reuse_detected", "user_id", u.ID)
		s.metrics.RefreshRotation("reuse_detected")
		s.metrics.ReuseDetected()
		return TokenPair{}, ErrTokenReuseDetected
	}

	s.log.InfoContext(ctx, "auth.refresh.ok", "user_id", u.ID)
	s.metrics.RefreshRotation("ok")
	return pair, nil
}

// Logout clears the refresh slot. It is idempotent: logging out an identity
// with no trusted session, or one that no longer exists, succeeds.
func (s *Service) Logout(ctx context.Context, userID string) error {
	err := s.store.ClearRefreshToken(ctx, userID)
	if err != nil && !identity.IsNotFound(err) {
		return err
	}
	s.log.InfoContext(ctx, "auth.logout.ok", "user_id", userID)
	return nil
}

// ChangePassword verifies the current password and replaces the stored hash.
//
// Outstanding tokens stay valid for their remaining lifetime; only the
// credential changes.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.passwords.Verify(u.PasswordHash, current)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.change_password.fail", "reason", "hash_unreadable", "user_id", userID, "err", err)
		return fmt.Errorf("session: verify stored hash for %s: %w", userID, err)
	}
	if !ok {
		s.log.InfoContext(ctx, "auth.change_password.fail", "user_id", userID)
		return ErrInvalidCredentials
	}

	if err := s.passwords.Validate(next); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "auth.change_password.ok", "user_id", userID)
	return nil
}

// issuePair mints an access+refresh pair for u and returns the refresh digest
// to be stored server-side. The plaintext refresh token leaves the server only
// in the response.
func (s *Service) issuePair(u identity.User, now time.Time) (TokenPair, string, error) {
	access, accessExp, err := s.tokens.IssueAccess(token.Identity{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
	}, now)
	if err != nil {
		return TokenPair{}, "", err
	}

	refresh, refreshExp, err := s.tokens.IssueRefresh(u.ID, now)
	if err != nil {
		return TokenPair{}, "", err
	}

	pair := TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}
	return pair, sectoken.HashRefreshTokenHex(refresh), nil
}
