package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback used when no database is configured.
//
// All mutations happen under one mutex, so CompareAndSetRefreshToken has the
// same at-most-one-winner guarantee as the Postgres implementation.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]User // id -> record
}

// NewMemoryStore constructs an empty in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

// Create inserts a new identity record.
func (s *MemoryStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" || email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username and email are required"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	u := User{
		Username:      username,
		UsernameNorm:  NormalizeUsername(username),
		Email:         email,
		EmailNorm:     NormalizeEmail(email),
		FullName:      strings.TrimSpace(in.FullName),
		AvatarURL:     strings.TrimSpace(in.AvatarURL),
		CoverImageURL: strings.TrimSpace(in.CoverImageURL),
		PasswordHash:  in.PasswordHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}
	u.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.UsernameNorm == u.UsernameNorm {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		if existing.EmailNorm == u.EmailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	s.users[u.ID] = u
	return u, nil
}

// FindByIdentifier resolves a user by normalized username or email.
func (s *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	const op = "identity.FindByIdentifier"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	norm := NormalizeUsername(identifier)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "identifier is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.UsernameNorm == norm || u.EmailNorm == norm {
			return u, nil
		}
	}
	return User{}, NotFoundError{Op: op, Resource: "user"}
}

// FindByID resolves a user by id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

// SetPasswordHash replaces the stored password digest.
func (s *MemoryStore) SetPasswordHash(ctx context.Context, id, newHash string) error {
	return s.mutate(ctx, "identity.SetPasswordHash", id, func(u *User) {
		u.PasswordHash = newHash
	})
}

// SetRefreshToken unconditionally overwrites the trusted refresh slot.
func (s *MemoryStore) SetRefreshToken(ctx context.Context, id, value string) error {
	return s.mutate(ctx, "identity.SetRefreshToken", id, func(u *User) {
		u.RefreshTokenHash = value
	})
}

// CompareAndSetRefreshToken atomically replaces the slot iff it currently
// equals expectedCurrent.
func (s *MemoryStore) CompareAndSetRefreshToken(ctx context.Context, id, expectedCurrent, newValue string) (bool, error) {
	const op = "identity.CompareAndSetRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	if u.RefreshTokenHash != expectedCurrent {
		return false, nil
	}

	u.RefreshTokenHash = newValue
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return true, nil
}

// ClearRefreshToken unconditionally empties the slot.
func (s *MemoryStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.mutate(ctx, "identity.ClearRefreshToken", id, func(u *User) {
		u.RefreshTokenHash = ""
	})
}

// UpdateAccount replaces mutable profile fields.
func (s *MemoryStore) UpdateAccount(ctx context.Context, id, fullName, email string) (User, error) {
	const op = "identity.UpdateAccount"

	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" || email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "full name and email are required"}
	}

	emailNorm := NormalizeEmail(email)

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	for otherID, other := range s.users {
		if otherID != id && other.EmailNorm == emailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	u.FullName = fullName
	u.Email = email
	u.EmailNorm = emailNorm
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

// SetAvatarURL replaces the avatar asset URL.
func (s *MemoryStore) SetAvatarURL(ctx context.Context, id, url string) (User, error) {
	err := s.mutate(ctx, "identity.SetAvatarURL", id, func(u *User) {
		u.AvatarURL = strings.TrimSpace(url)
	})
	if err != nil {
		return User{}, err
	}
	return s.FindByID(ctx, id)
}

// SetCoverImageURL replaces the cover image asset URL.
func (s *MemoryStore) SetCoverImageURL(ctx context.Context, id, url string) (User, error) {
	err := s.mutate(ctx, "identity.SetCoverImageURL", id, func(u *User) {
		u.CoverImageURL = strings.TrimSpace(url)
	})
	if err != nil {
		return User{}, err
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) mutate(ctx context.Context, op, id string, fn func(*User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}

	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}
