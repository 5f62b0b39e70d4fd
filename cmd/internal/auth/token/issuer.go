package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the "tkn" claim. The kind is checked on verify so a
// refresh token can never authenticate a request and vice versa.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Identity is the public identity snapshot embedded in access tokens.
type Identity struct {
	UserID   string
	Username string
	Email    string
	FullName string
}

// AccessClaims is the verified payload of an access token.
type AccessClaims struct {
	Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// RefreshClaims is the verified payload of a refresh token. It deliberately
// carries nothing beyond the subject id.
type RefreshClaims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

type accessJWT struct {
	Kind     string `json:"tkn"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

type refreshJWT struct {
	Kind string `json:"tkn"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies both token kinds. It is stateless: safe for
// concurrent use, and verification needs no storage round-trip.
type Issuer struct {
	cfg Config
}

// NewIssuer validates cfg and returns a ready Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg}, nil
}

// IssueAccess mints an access token for id, valid from now for the configured
// access TTL.
func (i *Issuer) IssueAccess(id Identity, now time.Time) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}

	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}

	exp := now.Add(i.cfg.AccessTTL)
	claims := accessJWT{
		Kind:     KindAccess,
		Username: id.Username,
		Email:    id.Email,
		FullName: id.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.cfg.Issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh mints a refresh token for userID, valid from now for the
// configured refresh TTL.
func (i *Issuer) IssueRefresh(userID string, now time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}

	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}

	exp := now.Add(i.cfg.RefreshTTL)
	claims := refreshJWT{
		Kind: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess checks raw against the access secret and returns its claims.
func (i *Issuer) VerifyAccess(raw string, now time.Time) (AccessClaims, error) {
	var claims accessJWT
	if err := i.verify(raw, &claims, i.cfg.AccessSecret, now); err != nil {
		return AccessClaims{}, err
	}
	if claims.Kind != KindAccess {
		return AccessClaims{}, ErrTokenKind
	}
	if claims.Subject == "" {
		return AccessClaims{}, ErrTokenMalformed
	}

	return AccessClaims{
		Identity: Identity{
			UserID:   claims.Subject,
			Username: claims.Username,
			Email:    claims.Email,
			FullName: claims.FullName,
		},
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Issuer:    claims.RegisteredClaims.Issuer,
	}, nil
}

// VerifyRefresh checks raw against the refresh secret and returns its claims.
func (i *Issuer) VerifyRefresh(raw string, now time.Time) (RefreshClaims, error) {
	var claims refreshJWT
	if err := i.verify(raw, &claims, i.cfg.RefreshSecret, now); err != nil {
		return RefreshClaims{}, err
	}
	if claims.Kind != KindRefresh {
		return RefreshClaims{}, ErrTokenKind
	}
	if claims.Subject == "" {
		return RefreshClaims{}, ErrTokenMalformed
	}

	return RefreshClaims{
		UserID:    claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Issuer:    claims.RegisteredClaims.Issuer,
	}, nil
}

func (i *Issuer) verify(raw string, claims jwt.Claims, secret []byte, now time.Time) error {
	if raw == "" {
		return ErrTokenMissing
	}

	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// newJTI gives every token a distinct "jti" so two tokens minted within the
// same second still differ. Refresh rotation relies on this: the stored digest
// must identify exactly one token.
func newJTI() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// classify maps parser failures onto the package sentinels so callers never
// depend on the JWT library's error surface.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}
