package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Class names an independently budgeted operation.
type Class string

const (
	ClassLogin        Class = "login"
	ClassResetRequest Class = "reset"
	ClassOAuthBegin   Class = "oauth"
)

// UnknownSubject is the shared bucket for callers without a client IP.
const UnknownSubject = "unknown"

// Policy is a window budget: at most Limit hits per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	Policies map[Class]Policy
	// FailOpen admits requests when the counter backend errors.
	FailOpen bool
}

// Counter is the keyed window counter the limiter consumes. Hit increments
// key and returns the post-increment count and the time remaining in the
// current window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// LimitError carries the retry hint for a rejected request.
type LimitError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Class, e.RetryAfter)
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Limiter enforces per-class budgets over a shared [Counter].
type Limiter struct {
	counter Counter
	config  Config
}

// New creates a [Limiter] over counter.
func New(counter Counter, cfg Config) *Limiter {
	return &Limiter{counter: counter, config: cfg}
}

// Allow records one hit for subject under class. It returns a *LimitError
// (matching [ErrRateLimited]) once the window budget is exceeded. Classes
// without a policy are not limited; an empty subject is charged to
// [UnknownSubject].
func (l *Limiter) Allow(ctx context.Context, class Class, subject string) error {
	policy, ok := l.config.Policies[class]
	if !ok || policy.Limit <= 0 {
		return nil
	}
	if subject == "" {
		subject = UnknownSubject
	}

	count, ttl, err := l.counter.Hit(ctx, key(class, subject), policy.Window)
	if err != nil {
		if l.config.FailOpen {
			return nil
		}
		return err
	}

	if count > int64(policy.Limit) {
		if ttl <= 0 {
			ttl = policy.Window
		}
		return &LimitError{Class: class, RetryAfter: ttl}
	}
	return nil
}

func key(class Class, subject string) string {
	return "rl:" + string(class) + ":" + subject
}

// RedisCounter implements [Counter] with INCR and a first-hit PEXPIRE.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter returns a counter backed by client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: client}
}

// Hit implements [Counter].
func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := c.redis.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return count, window, nil
	}

	ttl, err := c.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// A key left without expiry by a crashed first hit would never reset.
	if ttl < 0 {
		if err := c.redis.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// SlidingRedisCounter implements [Counter] over a sorted set of hit times,
// so the budget holds for every trailing window rather than per fixed slot.
// Rejected hits are recorded too.
type SlidingRedisCounter struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewSlidingRedisCounter returns a rolling-window counter. now defaults to
// time.Now.
func NewSlidingRedisCounter(client redis.UniversalClient, now func() time.Time) *SlidingRedisCounter {
	if now == nil {
		now = time.Now
	}
	return &SlidingRedisCounter{redis: client, now: now}
}

// Hit implements [Counter]. The returned duration is the time until the
// oldest hit leaves the window.
func (c *SlidingRedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	key += ":w"
	nowMs := c.now().UnixMilli()
	floor := nowMs - window.Milliseconds()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(floor, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString()})
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	retry := window
	if zs := oldest.Val(); len(zs) > 0 {
		retry = time.Duration(int64(zs[0].Score)+window.Milliseconds()-nowMs) * time.Millisecond
	}
	return card.Val(), retry, nil
}
