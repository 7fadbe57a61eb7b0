package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, failOpen bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(NewRedisCounter(rdb), Config{
		Policies: map[Class]Policy{
			ClassLogin:        {Limit: 5, Window: 15 * time.Minute},
			ClassResetRequest: {Limit: 3, Window: time.Hour},
		},
		FailOpen: failOpen,
	}), mr
}

func TestAllowWithinBudgetThenLimited(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, ClassLogin, "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
	}

	err := l.Allow(ctx, ClassLogin, "10.0.0.1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.RetryAfter <= 0 || le.RetryAfter > 15*time.Minute {
		t.Fatalf("expected retry-after within window, got %+v", le)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = l.Allow(ctx, ClassResetRequest, "10.0.0.1")
	}
	if err := l.Allow(ctx, ClassResetRequest, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected reset class to be limited, got %v", err)
	}
	if err := l.Allow(ctx, ClassResetRequest, "10.0.0.2"); err != nil {
		t.Fatalf("other IP must not share the budget: %v", err)
	}
	if err := l.Allow(ctx, ClassLogin, "10.0.0.1"); err != nil {
		t.Fatalf("other class must not share the budget: %v", err)
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = l.Allow(ctx, ClassResetRequest, "ip")
	}
	if err := l.Allow(ctx, ClassResetRequest, "ip"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}

	mr.FastForward(time.Hour + time.Second)
	if err := l.Allow(ctx, ClassResetRequest, "ip"); err != nil {
		t.Fatalf("expected fresh window, got %v", err)
	}
}

func TestFirstHitSetsTTL(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	if err := l.Allow(context.Background(), ClassLogin, "ip"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("rl:login:ip"); ttl != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %v", ttl)
	}
}

func TestClassWithoutPolicyPasses(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	for i := 0; i < 20; i++ {
		if err := l.Allow(context.Background(), ClassOAuthBegin, "ip"); err != nil {
			t.Fatalf("class without policy must pass: %v", err)
		}
	}
}

func TestEmptySubjectsShareUnknownBucket(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, ClassLogin, ""); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, ClassLogin, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected callers without an IP to be limited, got %v", err)
	}
	if !mr.Exists("rl:login:" + UnknownSubject) {
		t.Fatal("expected the unknown bucket key")
	}
	if err := l.Allow(ctx, ClassLogin, "10.0.0.1"); err != nil {
		t.Fatalf("identified clients keep their own budget: %v", err)
	}
}

func newSlidingLimiter(t *testing.T, now func() time.Time) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(NewSlidingRedisCounter(rdb, now), Config{
		Policies: map[Class]Policy{
			ClassLogin: {Limit: 5, Window: 15 * time.Minute},
		},
	}), mr
}

func TestSlidingWindowHoldsAcrossBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	l, _ := newSlidingLimiter(t, func() time.Time { return now })
	ctx := context.Background()

	if err := l.Allow(ctx, ClassLogin, "ip"); err != nil {
		t.Fatal(err)
	}
	now = start.Add(14 * time.Minute)
	for i := 0; i < 4; i++ {
		if err := l.Allow(ctx, ClassLogin, "ip"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+2, err)
		}
	}

	// Only the first hit has left the trailing window.
	now = start.Add(15*time.Minute + time.Second)
	if err := l.Allow(ctx, ClassLogin, "ip"); err != nil {
		t.Fatalf("expected one slot freed, got %v", err)
	}
	err := l.Allow(ctx, ClassLogin, "ip")
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected rolling window to reject, got %v", err)
	}
	if want := 13*time.Minute + 59*time.Second; le.RetryAfter != want {
		t.Fatalf("expected retry-after %v, got %v", want, le.RetryAfter)
	}

	now = start.Add(30 * time.Minute)
	if err := l.Allow(ctx, ClassLogin, "ip"); err != nil {
		t.Fatalf("expected window to drain, got %v", err)
	}
}

func TestSlidingCounterSetsExpiry(t *testing.T) {
	l, mr := newSlidingLimiter(t, nil)
	if err := l.Allow(context.Background(), ClassLogin, "ip"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("rl:login:ip:w"); ttl != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %v", ttl)
	}
}

func TestBackendFailureFailsClosedByDefault(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	mr.Close()
	err := l.Allow(context.Background(), ClassLogin, "ip")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestBackendFailureFailOpen(t *testing.T) {
	l, mr := newTestLimiter(t, true)
	mr.Close()
	if err := l.Allow(context.Background(), ClassLogin, "ip"); err != nil {
		t.Fatalf("expected fail-open to admit, got %v", err)
	}
}
