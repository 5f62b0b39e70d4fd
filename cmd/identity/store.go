package identity

import (
	"context"
	"time"
)

// User is the canonical identity record: one per registered user.
//
// RefreshTokenHash holds the digest of the single refresh token the identity
// currently trusts for rotation, or "" when no session is trusted. The plain
// refresh token is never stored server-side.
type User struct {
	ID string

	Username     string
	UsernameNorm string
	Email        string
	EmailNorm    string
	FullName     string

	AvatarURL     string
	CoverImageURL string

	PasswordHash     string
	RefreshTokenHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sanitized returns a copy with credential fields stripped, safe to hand to
// transport layers.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.RefreshTokenHash = ""
	return u
}

// CreateUserInput describes a registration request. PasswordHash must already
// be a one-way digest; stores never see plaintext secrets.
type CreateUserInput struct {
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL string
	Now           time.Time
}

// Store is the identity persistence boundary.
//
// Rotation contract:
//   - CompareAndSetRefreshToken must be atomic: the stored slot mutates only
//     if it equals expectedCurrent at the instant of the operation. For a given
//     stored value, at most one concurrent caller can transition it; all others
//     observe false and no mutation. A read-then-write sequence is not an
//     acceptable implementation.
type Store interface {
	// FindByIdentifier resolves a user by normalized username or email.
	FindByIdentifier(ctx context.Context, identifier string) (User, error)

	// FindByID resolves a user by its immutable id.
	FindByID(ctx context.Context, id string) (User, error)

	// Create inserts a new identity record; ConflictError on username/email reuse.
	Create(ctx context.Context, in CreateUserInput) (User, error)

	// SetPasswordHash replaces the stored password digest.
	SetPasswordHash(ctx context.Context, id, newHash string) error

	// SetRefreshToken unconditionally overwrites the trusted refresh slot
	// (login path; a new login displaces any prior session).
	SetRefreshToken(ctx context.Context, id, value string) error

	// CompareAndSetRefreshToken atomically replaces the slot iff it currently
	// equals expectedCurrent. Returns false (no mutation) otherwise.
	CompareAndSetRefreshToken(ctx context.Context, id, expectedCurrent, newValue string) (bool, error)

	// ClearRefreshToken unconditionally empties the slot (logout path).
	ClearRefreshToken(ctx context.Context, id string) error

	// UpdateAccount replaces mutable profile fields.
	UpdateAccount(ctx context.Context, id, fullName, email string) (User, error)

	// SetAvatarURL replaces the avatar asset URL.
	SetAvatarURL(ctx context.Context, id, url string) (User, error)

	// SetCoverImageURL replaces the cover image asset URL.
	SetCoverImageURL(ctx context.Context, id, url string) (User, error)
}
