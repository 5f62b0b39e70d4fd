package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vidtube/cmd/identity"
	"vidtube/cmd/internal/auth/token"
	"vidtube/cmd/security/password"
	sectoken "vidtube/cmd/security/token"
)

// testPasswordConfig keeps hashing cheap; the session tests exercise the
// lifecycle, not Argon2id cost.
func testPasswordConfig() password.Config {
	return password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: password.Policy{MinLength: 8, MaxLength: 256},
	}
}

func testTokenConfig() token.Config {
	cfg := token.DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	return cfg
}

func newTestService(t *testing.T) (*Service, *identity.MemoryStore, *token.Issuer) {
	t.Helper()

	store := identity.NewMemoryStore()
	issuer, err := token.NewIssuer(testTokenConfig())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc, err := NewService(store, testPasswordConfig(), issuer, nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, issuer
}

func registerTestUser(t *testing.T, svc *Service) identity.User {
	t.Helper()

	u, err := svc.Register(context.Background(), RegisterInput{
		Username: "maria",
		Email:    "maria@example.com",
		FullName: "Maria K",
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "maria",
		Email:    "maria@example.com",
		Password: "short",
	})
	if !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("want ErrPasswordTooShort, got %v", err)
	}
}

func TestLoginIssuesVerifiableTokensAndStoresDigest(t *testing.T) {
	ctx := context.Background()
	svc, store, issuer := newTestService(t)
	u := registerTestUser(t, svc)
	now := time.Now().UTC()

	got, pair, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("login user id = %q, want %q", got.ID, u.ID)
	}

	access, err := issuer.VerifyAccess(pair.AccessToken, now)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if access.UserID != u.ID || access.Username != "maria" {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	if _, err := issuer.VerifyRefresh(pair.RefreshToken, now); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}

	stored, err := store.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.RefreshTokenHash != sectoken.HashRefreshTokenHex(pair.RefreshToken) {
		t.Fatal("stored slot must hold the digest of the issued refresh token")
	}
	if stored.RefreshTokenHash == pair.RefreshToken {
		t.Fatal("plaintext refresh token must never be stored")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)
	now := time.Now().UTC()

	if _, _, err := svc.Login(ctx, now, "maria", "wrong password!!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password: want ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, now, "nobody", "whatever password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown identifier: want ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginSurfacesUnreadableStoredHash(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	u := registerTestUser(t, svc)
	now := time.Now().UTC()

	// A corrupted stored hash is an internal failure, not a wrong password:
	// it must never masquerade as a credential mismatch.
	if err := store.SetPasswordHash(ctx, u.ID, "not-a-phc-string"); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}

	_, _, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err == nil {
		t.Fatal("login over a corrupted hash must fail")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("corrupted hash must not map to ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, password.ErrInvalidHash) {
		t.Fatalf("want wrapped ErrInvalidHash, got %v", err)
	}
}

func TestChangePasswordSurfacesUnreadableStoredHash(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	u := registerTestUser(t, svc)

	if err := store.SetPasswordHash(ctx, u.ID, "not-a-phc-string"); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}

	err := svc.ChangePassword(ctx, u.ID, "correct horse battery", "brand new password")
	if err == nil {
		t.Fatal("change over a corrupted hash must fail")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("corrupted hash must not map to ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, password.ErrInvalidHash) {
		t.Fatalf("want wrapped ErrInvalidHash, got %v", err)
	}
}

func TestLoginDisplacesPreviousSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)
	now := time.Now().UTC()

	_, first, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("first Login: %v", err)
	}
	_, _, err = svc.Login(ctx, now.Add(time.Second), "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	// The first session's refresh token verified fine but is no longer the
	// trusted one.
	_, err = svc.Refresh(ctx, now.Add(2*time.Second), first.RefreshToken)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("displaced token: want ErrTokenReuseDetected, got %v", err)
	}
}

func TestRefreshRotationChainAndReuse(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	u := registerTestUser(t, svc)
	now := time.Now().UTC()

	_, login, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r0 := login.RefreshToken

	p1, err := svc.Refresh(ctx, now.Add(time.Second), r0)
	if err != nil {
		t.Fatalf("Refresh r0: %v", err)
	}
	p2, err := svc.Refresh(ctx, now.Add(2*time.Second), p1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh r1: %v", err)
	}

	// Replaying the first token is reuse and revokes the slot entirely.
	if _, err := svc.Refresh(ctx, now.Add(3*time.Second), r0); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("replay of r0: want ErrTokenReuseDetected, got %v", err)
	}

	stored, err := store.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.RefreshTokenHash != "" {
		t.Fatal("reuse detection must clear the refresh slot")
	}

	// Even the latest legitimate token is now cut off.
	if _, err := svc.Refresh(ctx, now.Add(4*time.Second), p2.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("post-revocation refresh: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)
	now := time.Now().UTC()

	_, pair, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	late := now.Add(10*24*time.Hour + time.Hour)
	_, err = svc.Refresh(ctx, late, pair.RefreshToken)
	if !errors.Is(err, ErrInvalidRefreshToken) || !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("expired refresh: got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)
	now := time.Now().UTC()

	_, pair, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Refresh(ctx, now, pair.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token offered for refresh: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)
	now := time.Now().UTC()

	_, pair, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, now.Add(time.Second), pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenReuseDetected):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent refresh may win, got %d", wins)
	}
}

func TestLogoutClearsSlotAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	u := registerTestUser(t, svc)
	now := time.Now().UTC()

	_, pair, err := svc.Login(ctx, now, "maria", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.Logout(ctx, u.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, now.Add(time.Second), pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("refresh after logout: want ErrInvalidRefreshToken, got %v", err)
	}

	if err := svc.Logout(ctx, u.ID); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := svc.Logout(ctx, "gone"); err != nil {
		t.Fatalf("Logout for unknown id: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	u := registerTestUser(t, svc)
	now := time.Now().UTC()

	if err := svc.ChangePassword(ctx, u.ID, "not the password", "brand new password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "correct horse battery", "tiny"); !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("weak next password: want ErrPasswordTooShort, got %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, "correct horse battery", "brand new password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, _, err := svc.Login(ctx, now, "maria", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password after change: want ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, now, "maria", "brand new password"); err != nil {
		t.Fatalf("new password after change: %v", err)
	}
}
