package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - CompareAndSetRefreshToken is a single conditional UPDATE; the database row
//   lock serializes concurrent rotations, so exactly one caller can win.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "vidtube").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "vidtube",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, username, username_norm, email, email_norm, full_name,
       avatar_url, cover_image_url, password_hash, refresh_token_hash,
       created_at, updated_at`

// Create inserts a new identity record.
func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || email == "" {
		return User{}, pgInvalid(op, "username and email are required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, pgInvalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:            userID,
		Username:      username,
		UsernameNorm:  NormalizeUsername(username),
		Email:         email,
		EmailNorm:     NormalizeEmail(email),
		FullName:      fullName,
		AvatarURL:     strings.TrimSpace(in.AvatarURL),
		CoverImageURL: strings.TrimSpace(in.CoverImageURL),
		PasswordHash:  in.PasswordHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, username, username_norm, email, email_norm, full_name,
		     avatar_url, cover_image_url, password_hash, refresh_token_hash,
		     created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $10)`,
		u.ID,
		u.Username,
		u.UsernameNorm,
		u.Email,
		u.EmailNorm,
		u.FullName,
		u.AvatarURL,
		u.CoverImageURL,
		u.PasswordHash,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return u, nil
}

// FindByIdentifier resolves a user by normalized username or email.
func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	const op = "identity.FindByIdentifier"

	norm := NormalizeUsername(identifier)
	if norm == "" {
		return User{}, pgInvalid(op, "identifier is required")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		   FROM `+users+`
		  WHERE username_norm = $1 OR email_norm = $1`,
		norm,
	)
	return scanUser(op, row)
}

// FindByID resolves a user by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	if strings.TrimSpace(id) == "" {
		return User{}, pgInvalid(op, "id is required")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		   FROM `+users+`
		  WHERE id = $1`,
		id,
	)
	return scanUser(op, row)
}

// SetPasswordHash replaces the stored password digest.
func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, newHash string) error {
	const op = "identity.SetPasswordHash"

	if strings.TrimSpace(id) == "" || strings.TrimSpace(newHash) == "" {
		return pgInvalid(op, "id and hash are required")
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, newHash, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// SetRefreshToken unconditionally overwrites the trusted refresh slot.
func (s *PostgresStore) SetRefreshToken(ctx context.Context, id, value string) error {
	const op = "identity.SetRefreshToken"

	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "id is required")
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1`,
		id, value, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// CompareAndSetRefreshToken atomically replaces the slot iff it currently
// equals expectedCurrent.
//
// The condition and the write are one statement; Postgres row locking
// guarantees that for a given stored value at most one concurrent caller
// observes a match.
func (s *PostgresStore) CompareAndSetRefreshToken(ctx context.Context, id, expectedCurrent, newValue string) (bool, error) {
	const op = "identity.CompareAndSetRefreshToken"

	if strings.TrimSpace(id) == "" {
		return false, pgInvalid(op, "id is required")
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_token_hash = $3, updated_at = $4
		  WHERE id = $1 AND refresh_token_hash = $2`,
		id, expectedCurrent, newValue, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClearRefreshToken unconditionally empties the slot.
func (s *PostgresStore) ClearRefreshToken(ctx context.Context, id string) error {
	const op = "identity.ClearRefreshToken"

	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "id is required")
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET refresh_token_hash = '', updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// UpdateAccount replaces mutable profile fields.
func (s *PostgresStore) UpdateAccount(ctx context.Context, id, fullName, email string) (User, error) {
	const op = "identity.UpdateAccount"

	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if strings.TrimSpace(id) == "" || fullName == "" || email == "" {
		return User{}, pgInvalid(op, "id, full name and email are required")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET full_name = $2, email = $3, email_norm = $4, updated_at = $5
		  WHERE id = $1
		RETURNING `+userColumns,
		id, fullName, email, NormalizeEmail(email), time.Now().UTC(),
	)
	u, err := scanUser(op, row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// SetAvatarURL replaces the avatar asset URL.
func (s *PostgresStore) SetAvatarURL(ctx context.Context, id, url string) (User, error) {
	return s.setAssetURL(ctx, "identity.SetAvatarURL", "avatar_url", id, url)
}

// SetCoverImageURL replaces the cover image asset URL.
func (s *PostgresStore) SetCoverImageURL(ctx context.Context, id, url string) (User, error) {
	return s.setAssetURL(ctx, "identity.SetCoverImageURL", "cover_image_url", id, url)
}

func (s *PostgresStore) setAssetURL(ctx context.Context, op, column, id, url string) (User, error) {
	url = strings.TrimSpace(url)
	if strings.TrimSpace(id) == "" || url == "" {
		return User{}, pgInvalid(op, "id and url are required")
	}

	users := pgIdent(s.schema, "users")
	// column is a compile-time constant from the two callers above.
	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET `+column+` = $2, updated_at = $3
		  WHERE id = $1
		RETURNING `+userColumns,
		id, url, time.Now().UTC(),
	)
	return scanUser(op, row)
}

// ---- helpers ----

func scanUser(op string, row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.UsernameNorm,
		&u.Email,
		&u.EmailNorm,
		&u.FullName,
		&u.AvatarURL,
		&u.CoverImageURL,
		&u.PasswordHash,
		&u.RefreshTokenHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_users_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
