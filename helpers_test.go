package authcore_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testPassword = "Correct1Horse"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []authcore.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg authcore.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// lastToken extracts the reset token from the most recent link.
func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	body := m.sent[len(m.sent)-1].Body
	idx := strings.Index(body, "/reset-password/")
	if idx < 0 {
		t.Fatalf("no reset link in body: %q", body)
	}
	rest := body[idx+len("/reset-password/"):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

type fakeExchanger struct {
	mu        sync.Mutex
	identity  oauth.Identity
	err       error
	exchanges int
	verifier  string
}

func (f *fakeExchanger) AuthCodeURL(state, verifier string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(oauthChallenge(verifier))
}

func (f *fakeExchanger) Exchange(_ context.Context, code, verifier string) (*oauth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	f.verifier = verifier
	if f.err != nil {
		return nil, f.err
	}
	id := f.identity
	return &id, nil
}

func (f *fakeExchanger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

func oauthChallenge(verifier string) string {
	// The fake never checks the challenge; it only needs to be stable.
	return "c-" + verifier[:8]
}

type harness struct {
	engine  *authcore.Engine
	store   *memory.Store
	mailer  *fakeMailer
	clock   *testClock
	mr      *miniredis.Miniredis
	github  *fakeExchanger
	google  *fakeExchanger
	audit   *authcore.ChannelSink
	logHook *test.Hook
	redis   *redis.Client
	cfg     authcore.Config
}

type harnessOption func(*authcore.Config)

func withRateLimits() harnessOption {
	return func(cfg *authcore.Config) { cfg.RateLimit.Enabled = true }
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.JWT.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.Password.BcryptCost = 4
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = true
	cfg.OAuth.Providers = map[authcore.ProviderID]authcore.OAuthProviderConfig{}
	return cfg
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		store:   memory.New(),
		mailer:  &fakeMailer{},
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		mr:      mr,
		github:  &fakeExchanger{},
		google:  &fakeExchanger{},
		audit:   authcore.NewChannelSink(256),
		logHook: hook,
		redis:   rdb,
		cfg:     cfg,
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(h.store).
		WithMailer(h.mailer).
		WithOAuthExchanger(authcore.ProviderGitHub, h.github).
		WithOAuthExchanger(authcore.ProviderGoogle, h.google).
		WithAuditSink(h.audit).
		WithLogger(logger).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

// ctx returns a context with a fixed client IP.
func (h *harness) ctx() context.Context {
	return authcore.WithClientIP(context.Background(), "203.0.113.7")
}

func (h *harness) signup(t *testing.T, email string) *authcore.Session {
	t.Helper()
	s, err := h.engine.Signup(h.ctx(), authcore.SignupRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return s
}

// oauthLogin runs a full BeginOAuth/CompleteOAuth round trip.
func (h *harness) oauthLogin(t *testing.T, provider authcore.ProviderID, linkUserID string) (*authcore.OAuthResult, error) {
	t.Helper()
	begin, err := h.engine.BeginOAuth(h.ctx(), provider, authcore.BeginOAuthRequest{LinkUserID: linkUserID})
	if err != nil {
		t.Fatalf("begin oauth: %v", err)
	}
	return h.engine.CompleteOAuth(h.ctx(), provider, authcore.CompleteOAuthRequest{
		SessionID: begin.SessionID,
		State:     stateFromURL(t, begin.RedirectURL),
		Code:      "code-123",
	})
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in %q", raw)
	}
	return state
}

func (h *harness) user(t *testing.T, email string) *authcore.User {
	t.Helper()
	u, err := h.store.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("load %s: %v", email, err)
	}
	return u
}

func (h *harness) auditTypes() []string {
	h.engine.Close()
	var out []string
	for {
		select {
		case ev := <-h.audit.Events():
			out = append(out, ev.EventType)
		default:
			return out
		}
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
