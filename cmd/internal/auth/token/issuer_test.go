package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	return cfg
}

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(testConfig())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestAccessRoundTrip(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	id := Identity{UserID: "u1", Username: "maria", Email: "m@example.com", FullName: "Maria K"}
	raw, exp, err := iss.IssueAccess(id, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("exp = %v, want now+15m", exp)
	}

	claims, err := iss.VerifyAccess(raw, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Identity != id {
		t.Fatalf("claims identity = %+v, want %+v", claims.Identity, id)
	}
	if claims.Issuer != "vidtube" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestRefreshRoundTripCarriesOnlySubject(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	raw, _, err := iss.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	claims, err := iss.VerifyRefresh(raw, now)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("user id = %q", claims.UserID)
	}
	// A refresh token must never contain the profile snapshot.
	if strings.Contains(raw, "username") {
		t.Fatal("refresh token leaked profile claims")
	}
}

func TestTokensMintedAtSameInstantDiffer(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	a, _, err := iss.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	b, _, err := iss.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if a == b {
		t.Fatal("two refresh tokens for the same subject and instant must differ")
	}
}

func TestKindsDoNotCross(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	access, _, err := iss.IssueAccess(Identity{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	refresh, _, err := iss.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	if _, err := iss.VerifyAccess(refresh, now); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("refresh as access: want signature error, got %v", err)
	}
	if _, err := iss.VerifyRefresh(access, now); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("access as refresh: want signature error, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	raw, _, err := iss.IssueAccess(Identity{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	// Within skew of the deadline: still accepted.
	at := now.Add(15*time.Minute + 10*time.Second)
	if _, err := iss.VerifyAccess(raw, at); err != nil {
		t.Fatalf("within skew: %v", err)
	}

	at = now.Add(15*time.Minute + time.Minute)
	if _, err := iss.VerifyAccess(raw, at); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("past skew: want ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	raw, _, err := iss.IssueAccess(Identity{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	flipped := []byte(raw)
	last := len(flipped) - 1
	if flipped[last] == 'A' {
		flipped[last] = 'B'
	} else {
		flipped[last] = 'A'
	}

	if _, err := iss.VerifyAccess(string(flipped), now); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("tampered signature: want ErrTokenSignature, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	iss := testIssuer(t)
	now := time.Now().UTC()

	if _, err := iss.VerifyAccess("", now); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("empty: want ErrTokenMissing, got %v", err)
	}
	if _, err := iss.VerifyAccess("not.a.jwt", now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("garbage: want ErrTokenMalformed, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	now := time.Now().UTC()

	theirCfg := testConfig()
	theirCfg.Issuer = "someone-else"
	theirs, err := NewIssuer(theirCfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	raw, _, err := theirs.IssueAccess(Identity{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	ours := testIssuer(t)
	if _, err := ours.VerifyAccess(raw, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("foreign issuer: want ErrTokenMalformed, got %v", err)
	}
}
