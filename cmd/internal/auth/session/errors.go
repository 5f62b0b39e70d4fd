package session

import "errors"

var (
	// ErrInvalidCredentials is returned when the identifier or password does
	// not match. Callers must not reveal which of the two failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken is returned when a presented refresh token fails
	// verification or no longer corresponds to a trusted session.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrTokenReuseDetected is returned when a verified refresh token loses
	// the rotation compare-and-set: the token was already rotated away, so
	// someone is replaying it. The session slot is revoked as a side effect.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
)
