package authcore_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
)

func TestSignupNormalizesEmailAndAutoLogsIn(t *testing.T) {
	h := newHarness(t)

	s := h.signup(t, "  Ada@Example.COM ")
	if s.AccessToken == "" || s.RefreshToken == "" {
		t.Fatal("expected both tokens on signup")
	}
	if s.Profile.Email != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", s.Profile.Email)
	}
	if !s.Profile.HasPassword || s.Profile.LoginCount != 1 {
		t.Fatalf("unexpected profile: %+v", s.Profile)
	}

	u := h.user(t, "ada@example.com")
	if u.PasswordHash == testPassword || !strings.HasPrefix(u.PasswordHash, "$2") {
		t.Fatal("password must be stored as a bcrypt digest")
	}
	if u.RefreshTokenHash == "" || u.RefreshTokenHash == s.RefreshToken {
		t.Fatal("refresh token must be stored hashed")
	}
	if u.LastLoginIP != "203.0.113.7" {
		t.Fatalf("expected last login ip, got %q", u.LastLoginIP)
	}
}

func TestSignupDuplicateEmailDifferingInCase(t *testing.T) {
	h := newHarness(t)

	h.signup(t, "alice@example.com")
	_, err := h.engine.Signup(h.ctx(), authcore.SignupRequest{
		FirstName: "Alice",
		Email:     "ALICE@Example.com",
		Password:  testPassword,
	})
	expectErr(t, err, authcore.ErrDuplicateIdentity)

	if h.store.Len() != 1 {
		t.Fatalf("expected one account, got %d", h.store.Len())
	}
	if got := h.engine.MetricsSnapshot().Counters[authcore.MetricSignupDuplicate]; got != 1 {
		t.Fatalf("expected duplicate metric 1, got %d", got)
	}
}

func TestConcurrentSignupsSameEmailOneWins(t *testing.T) {
	h := newHarness(t)

	emails := []string{"race@example.com", "RACE@example.com", "Race@Example.com", "race@EXAMPLE.com"}
	errs := make([]error, len(emails))
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			_, errs[i] = h.engine.Signup(h.ctx(), authcore.SignupRequest{
				FirstName: "R",
				Email:     email,
				Password:  testPassword,
			})
		}(i, email)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, authcore.ErrDuplicateIdentity):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one signup to succeed, got %d", ok)
	}
}

func TestSignupValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  authcore.SignupRequest
		want error
	}{
		{"missing email", authcore.SignupRequest{FirstName: "A", Password: testPassword}, authcore.ErrValidation},
		{"bad email", authcore.SignupRequest{FirstName: "A", Email: "not-an-email", Password: testPassword}, authcore.ErrValidation},
		{"display name email", authcore.SignupRequest{FirstName: "A", Email: "Bob <bob@example.com>", Password: testPassword}, authcore.ErrValidation},
		{"missing first name", authcore.SignupRequest{Email: "a@example.com", Password: testPassword}, authcore.ErrValidation},
		{"weak password", authcore.SignupRequest{FirstName: "A", Email: "a@example.com", Password: "password"}, authcore.ErrPasswordPolicy},
		{"short password", authcore.SignupRequest{FirstName: "A", Email: "a@example.com", Password: "Ab1"}, authcore.ErrPasswordPolicy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Signup(h.ctx(), tc.req)
			expectErr(t, err, tc.want)
		})
	}
}

func TestLoginSuccessAndGenericFailure(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com")

	s, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ADA@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.Profile.LoginCount != 2 {
		t.Fatalf("expected login count 2, got %d", s.Profile.LoginCount)
	}

	_, wrongPw := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: "Wrong1Password"})
	_, noUser := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ghost@example.com", Password: testPassword})
	expectErr(t, wrongPw, authcore.ErrInvalidCredentials)
	expectErr(t, noUser, authcore.ErrInvalidCredentials)
	if authcore.PublicMessage(wrongPw) != authcore.PublicMessage(noUser) {
		t.Fatal("unknown account and wrong password must be indistinguishable")
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com")

	for i := 1; i <= 5; i++ {
		_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: "Wrong1Password"})
		if i < 5 {
			expectErr(t, err, authcore.ErrInvalidCredentials)
		} else {
			expectErr(t, err, authcore.ErrAccountLocked)
		}
	}

	_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword})
	expectErr(t, err, authcore.ErrAccountLocked)

	u := h.user(t, "ada@example.com")
	if u.FailedLoginAttempts != 5 {
		t.Fatalf("locked account must not count further attempts, got %d", u.FailedLoginAttempts)
	}
	if authcore.HTTPStatus(err) != 423 {
		t.Fatalf("expected 423, got %d", authcore.HTTPStatus(err))
	}
}

func TestLockExpiresAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com")

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: "Wrong1Password"})
	}
	lockedAt := h.clock.Now()
	if got := h.user(t, "ada@example.com").LockUntil; !got.Equal(lockedAt.Add(30 * time.Minute)) {
		t.Fatalf("expected lock until T+30m, got %v", got)
	}

	h.clock.Advance(1799 * time.Second)
	_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword})
	expectErr(t, err, authcore.ErrAccountLocked)

	h.clock.Advance(2 * time.Second)
	if _, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after lock window: %v", err)
	}

	u := h.user(t, "ada@example.com")
	if u.FailedLoginAttempts != 0 || u.IsLocked || !u.LockUntil.IsZero() {
		t.Fatalf("lock state not cleared: attempts=%d locked=%v until=%v", u.FailedLoginAttempts, u.IsLocked, u.LockUntil)
	}
}

func TestLoginRateLimitedOnSixthAttempt(t *testing.T) {
	h := newHarness(t, withRateLimits())
	h.signup(t, "ada@example.com")

	for i := 0; i < 5; i++ {
		_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "nobody@example.com", Password: "x"})
		expectErr(t, err, authcore.ErrInvalidCredentials)
	}

	_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword})
	expectErr(t, err, authcore.ErrRateLimited)

	var rle *authcore.RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter <= 0 {
		t.Fatalf("expected retry-after, got %v", err)
	}

	other := authcore.WithClientIP(context.Background(), "198.51.100.1")
	if _, err := h.engine.Login(other, authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("other client must keep its own budget: %v", err)
	}

	h.mr.FastForward(15*time.Minute + time.Second)
	if _, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

func TestLoginWithoutClientIPIsStillRateLimited(t *testing.T) {
	h := newHarness(t, withRateLimits())
	h.signup(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "nobody@example.com", Password: "x"})
		expectErr(t, err, authcore.ErrInvalidCredentials)
	}
	_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "ada@example.com", Password: testPassword})
	expectErr(t, err, authcore.ErrRateLimited)

	if _, err := h.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("reset budget is separate from login: %v", err)
	}
	if _, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("identified client keeps its own budget: %v", err)
	}
}

func TestSlidingRateLimitUsesEngineClock(t *testing.T) {
	h := newHarness(t, withRateLimits(), func(cfg *authcore.Config) { cfg.RateLimit.Sliding = true })
	h.signup(t, "ada@example.com")

	for i := 0; i < 5; i++ {
		_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "nobody@example.com", Password: "x"})
		expectErr(t, err, authcore.ErrInvalidCredentials)
	}
	_, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword})
	expectErr(t, err, authcore.ErrRateLimited)

	h.clock.Advance(15*time.Minute + time.Second)
	if _, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after the trailing window: %v", err)
	}
}

func TestSignupPolicyMessageMatchesConfiguredClasses(t *testing.T) {
	h := newHarness(t, func(cfg *authcore.Config) { cfg.Password.RequireSymbol = true })

	_, err := h.engine.Signup(h.ctx(), authcore.SignupRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  testPassword,
	})
	expectErr(t, err, authcore.ErrPasswordPolicy)

	msg := authcore.PublicMessage(err)
	if !strings.Contains(msg, "a symbol") || strings.Contains(msg, "upper-case") {
		t.Fatalf("unexpected public message %q", msg)
	}
}

func TestLoginUpgradesHashCost(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com")

	u := h.user(t, "ada@example.com")
	old := u.PasswordHash
	// Store a digest made at a different cost than configured.
	u.PasswordHash = hashAtCost(t, testPassword, 5)
	if err := h.store.Save(context.Background(), u); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	got := h.user(t, "ada@example.com").PasswordHash
	if got == u.PasswordHash || got == old {
		t.Fatal("expected the digest to be re-hashed")
	}
	if h.engine.MetricsSnapshot().Counters[authcore.MetricPasswordHashUpgraded] != 1 {
		t.Fatal("expected upgrade metric")
	}
}

func TestAuthenticateAndRefreshRotation(t *testing.T) {
	h := newHarness(t)
	s := h.signup(t, "ada@example.com")

	res, err := h.engine.Authenticate(h.ctx(), s.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.Email != "ada@example.com" || res.UserID != s.Profile.ID {
		t.Fatalf("unexpected auth result: %+v", res)
	}

	_, err = h.engine.Authenticate(h.ctx(), s.RefreshToken)
	expectErr(t, err, authcore.ErrUnauthorized)

	h.clock.Advance(time.Second)
	next, err := h.engine.Refresh(h.ctx(), s.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == s.RefreshToken {
		t.Fatal("refresh token must rotate")
	}

	_, err = h.engine.Refresh(h.ctx(), s.RefreshToken)
	expectErr(t, err, authcore.ErrRefreshInvalid)

	_, err = h.engine.Refresh(h.ctx(), s.AccessToken)
	expectErr(t, err, authcore.ErrRefreshInvalid)

	if _, err := h.engine.Refresh(h.ctx(), next.RefreshToken); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
	if got := h.user(t, "ada@example.com").LoginCount; got != 1 {
		t.Fatalf("refresh must not count as a login, got %d", got)
	}
}

func TestAuthenticateErrors(t *testing.T) {
	h := newHarness(t)
	s := h.signup(t, "ada@example.com")

	_, err := h.engine.Authenticate(h.ctx(), "")
	expectErr(t, err, authcore.ErrMissingToken)

	_, err = h.engine.Authenticate(h.ctx(), "not.a.jwt")
	expectErr(t, err, authcore.ErrTokenMalformed)

	tampered := s.AccessToken[:len(s.AccessToken)-2] + "xx"
	_, err = h.engine.Authenticate(h.ctx(), tampered)
	if !errors.Is(err, authcore.ErrTokenVerificationFailed) && !errors.Is(err, authcore.ErrTokenMalformed) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	h.clock.Advance(24*time.Hour + time.Minute)
	_, err = h.engine.Authenticate(h.ctx(), s.AccessToken)
	expectErr(t, err, authcore.ErrTokenExpired)
	if authcore.HTTPStatus(err) != 401 {
		t.Fatalf("expected 401, got %d", authcore.HTTPStatus(err))
	}
}

func TestLogoutRevokesRefreshAndClearsProviderTokens(t *testing.T) {
	h := newHarness(t)
	h.github.identity = githubIdentity("101", "ada@example.com", true)

	res, err := h.oauthLogin(t, authcore.ProviderGitHub, "")
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	userID := res.Session.Profile.ID

	begin, err := h.engine.BeginOAuth(h.ctx(), authcore.ProviderGoogle, authcore.BeginOAuthRequest{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if n := len(h.mr.Keys()); n != 1 {
		t.Fatalf("expected one pending state key, got %d", n)
	}

	if err := h.engine.LogoutOAuth(h.ctx(), userID, begin.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if n := len(h.mr.Keys()); n != 0 {
		t.Fatalf("expected session state removed, got %d keys", n)
	}

	u := h.user(t, "ada@example.com")
	if u.RefreshTokenHash != "" {
		t.Fatal("refresh token must be revoked")
	}
	if id := u.Identity(authcore.ProviderGitHub); id == nil || id.AccessToken != "" || id.RefreshToken != "" {
		t.Fatalf("provider tokens not cleared: %+v", id)
	}

	_, err = h.engine.Refresh(h.ctx(), res.Session.RefreshToken)
	expectErr(t, err, authcore.ErrRefreshInvalid)
}

func TestGetProfile(t *testing.T) {
	h := newHarness(t)
	s := h.signup(t, "ada@example.com")

	p, err := h.engine.GetProfile(h.ctx(), s.Profile.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.FirstName != "Ada" || len(p.LinkedProviders) != 0 {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_, err = h.engine.GetProfile(h.ctx(), "missing")
	expectErr(t, err, authcore.ErrAccountNotFound)
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com")
	_, _ = h.engine.Login(h.ctx(), authcore.LoginRequest{Email: "ada@example.com", Password: "Wrong1Password"})

	types := h.auditTypes()
	want := []string{"signup_success", "login_failure"}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	if _, err := authcore.New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	b := authcore.New().WithConfig(authcore.DefaultConfig())
	if _, err := b.Build(); err == nil {
		t.Fatal("expected config validation error without secrets")
	}
}

func hashAtCost(t *testing.T, plaintext string, cost int) string {
	t.Helper()
	h, err := password.NewBcrypt(password.Config{Cost: cost})
	if err != nil {
		t.Fatalf("new bcrypt: %v", err)
	}
	digest, err := h.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return digest
}
