package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *testClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
		Issuer:        "authcore-test",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueAccessRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	token, err := m.IssueAccess("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	claims, err := m.Verify(token, []byte(strings.Repeat("a", 32)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Type != TypeAccess {
		t.Fatalf("expected access typ, got %q", claims.Type)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	token, err := m.IssueAccess("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := m.VerifyAccess(tampered); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	token, err := m.IssueAccess("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Verify(token, []byte(strings.Repeat("x", 32))); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyAfterTTLExpired(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	token, err := m.IssueAccess("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	clock.now = clock.now.Add(24*time.Hour + time.Second)
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	for _, token := range []string{"", "abc", "a.b.c", "..."} {
		if _, err := m.VerifyAccess(token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", token, err)
		}
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	refresh, err := m.IssueRefresh("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := m.VerifyAccess(refresh); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected refresh token to fail access verification, got %v", err)
	}
	claims, err := m.VerifyRefresh(refresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.Type != TypeRefresh {
		t.Fatalf("expected refresh typ, got %q", claims.Type)
	}

	clock.now = clock.now.Add(7*24*time.Hour + time.Second)
	if _, err := m.VerifyRefresh(refresh); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected refresh expiry, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	claims := Claims{UserID: "u1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "authcore-test",
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString([]byte(strings.Repeat("a", 32)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}
}

func TestNewManagerRejectsSharedSecret(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))
	_, err := NewManager(Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    2 * time.Hour,
		AccessSecret:  secret,
		RefreshSecret: secret,
	})
	if err == nil {
		t.Fatal("expected shared secrets to be rejected")
	}
}

func FuzzVerifyAccess(f *testing.F) {
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, _ := m.IssueAccess("u1", "a@b.c")
	f.Add(valid)
	f.Add("")
	f.Add("eyJhbGciOiJIUzI1NiJ9..")

	f.Fuzz(func(t *testing.T, token string) {
		claims, err := m.VerifyAccess(token)
		if err == nil && claims == nil {
			t.Fatal("nil claims without error")
		}
		if err != nil && !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrExpired) && !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("unclassified error %v", err)
		}
	})
}
