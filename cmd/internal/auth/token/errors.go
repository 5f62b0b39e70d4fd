package token

import "errors"

var (
	// ErrTokenMissing is returned when an empty token string is presented.
	ErrTokenMissing = errors.New("token missing")

	// ErrTokenMalformed is returned when the token cannot be parsed at all.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenSignature is returned when the signature does not verify under
	// the secret for the expected kind.
	ErrTokenSignature = errors.New("token signature invalid")

	// ErrTokenExpired is returned when the token is outside its validity
	// window (expired or not yet valid, beyond the allowed clock skew).
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenKind is returned when a structurally valid token of the wrong
	// kind is presented, e.g. a refresh token offered as an access token.
	ErrTokenKind = errors.New("wrong token kind")

	// ErrConfig is returned for invalid issuer configuration.
	ErrConfig = errors.New("invalid token config")
)
