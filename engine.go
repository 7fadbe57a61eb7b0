package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxEmailLength = 254
	maxNameLength  = 100
)

// Engine is the authentication core. Build one with [New] and
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config     Config
	store      UserStore
	mailer     Mailer
	hasher     *password.Bcrypt
	policy     password.Policy
	dummyHash  string
	jwtManager *jwt.Manager
	limiter    *rate.Limiter
	states     *stores.OAuthStateStore
	providers  map[ProviderID]oauth.Exchanger
	lockout    lockoutPolicy
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID]HistogramSnapshot{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
SIGNUP / LOGIN
====================================
*/

// Signup creates a password account and signs it in.
//
// The email is lower-cased before the uniqueness check, so addresses that
// differ only in case collide with [ErrDuplicateIdentity].
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*Session, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if first == "" {
		return nil, fmt.Errorf("%w: first name is required", ErrValidation)
	}
	if len(first) > maxNameLength || len(last) > maxNameLength {
		return nil, fmt.Errorf("%w: name is too long", ErrValidation)
	}
	if err := e.checkPassword(req.Password); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	_, err = e.store.GetByEmail(sctx, email)
	cancel()
	switch {
	case err == nil:
		e.metricInc(MetricSignupDuplicate)
		e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", ErrDuplicateIdentity, nil)
		return nil, ErrDuplicateIdentity
	case !errors.Is(err, ErrUserNotFound):
		return nil, e.internal("lookup email", err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, e.internal("hash password", err)
	}

	now := e.now()
	u := &User{
		ID:           uuid.NewString(),
		FirstName:    first,
		LastName:     last,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel = e.storeContext(ctx)
	err = e.store.Create(sctx, u)
	cancel()
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			e.metricInc(MetricSignupDuplicate)
			e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", ErrDuplicateIdentity, nil)
			return nil, ErrDuplicateIdentity
		}
		return nil, e.internal("create user", err)
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, u.ID, "", nil, nil)

	return e.issueSession(ctx, u.ID, u, true, nil)
}

// Login authenticates with email and password.
//
// Unknown emails and wrong passwords both return [ErrInvalidCredentials]
// after a bcrypt comparison of equal cost. The lock is checked before the
// password is compared, so a locked account rejects correct credentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	if err := e.allow(ctx, rate.ClassLogin); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	sctx, cancel := e.storeContext(ctx)
	u, err := e.store.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, e.internal("lookup email", err)
		}
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if e.lockout.locked(u, e.now()) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, u.ID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	checkedHash := u.PasswordHash
	ok := false
	if checkedHash == "" {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
	} else if ok, err = e.hasher.Verify(req.Password, checkedHash); err != nil {
		e.logger.WithError(err).WithField("user_id", u.ID).Warn("stored password hash is unreadable")
		ok = false
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, u)
	}

	var upgraded string
	if e.config.Password.UpgradeOnLogin {
		if needs, err := e.hasher.NeedsUpgrade(checkedHash); err == nil && needs {
			if upgraded, err = e.hasher.Hash(req.Password); err != nil {
				e.logger.WithError(err).WithField("user_id", u.ID).Warn("password hash upgrade failed")
				upgraded = ""
			}
		}
	}

	session, err := e.issueSession(ctx, u.ID, u, true, func(cur *User, now time.Time) error {
		if e.lockout.locked(cur, now) {
			return ErrAccountLocked
		}
		if cur.PasswordHash != checkedHash {
			return ErrInvalidCredentials
		}
		e.lockout.recordSuccess(cur)
		if upgraded != "" {
			cur.PasswordHash = upgraded
		}
		return nil
	})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", err, nil)
		return nil, err
	}

	if upgraded != "" {
		e.metricInc(MetricPasswordHashUpgraded)
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, "", nil, nil)
	return session, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, u *User) error {
	var locked, alreadyLocked bool
	_, err := e.mutateUser(ctx, u.ID, u, func(cur *User, now time.Time) (bool, error) {
		if e.lockout.locked(cur, now) {
			alreadyLocked = true
			return false, nil
		}
		alreadyLocked = false
		locked = e.lockout.recordFailure(cur, now)
		return true, nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricLoginFailure)
	switch {
	case alreadyLocked:
		e.emitAudit(ctx, auditEventLoginLocked, false, u.ID, "", ErrAccountLocked, nil)
		return ErrAccountLocked
	case locked:
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, false, u.ID, "", ErrAccountLocked, nil)
		e.logger.WithField("user_id", u.ID).Warn("account locked after repeated login failures")
		return ErrAccountLocked
	default:
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
}

/*
====================================
TOKENS
====================================
*/

// Authenticate verifies an access token and resolves its user against the
// live store. Every failure wraps [ErrUnauthorized].
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	claims, err := e.jwtManager.VerifyAccess(accessToken)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrTokenVerificationFailed
		default:
			return nil, ErrTokenMalformed
		}
	}

	sctx, cancel := e.storeContext(ctx)
	u, err := e.store.GetByID(sctx, claims.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.internal("load user", err)
	}

	return &AuthResult{
		UserID:  u.ID,
		Email:   u.Email,
		Profile: ProfileOf(u),
	}, nil
}

// Refresh exchanges the active refresh token for a new token pair. The
// presented token must verify against the refresh secret and match the
// single stored refresh digest; the old token stops working.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	session, err := e.issueSession(ctx, claims.UserID, nil, false, func(cur *User, _ time.Time) error {
		if !internal.TokenMatches(cur.RefreshTokenHash, refreshToken) {
			return ErrRefreshInvalid
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			err = ErrRefreshInvalid
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UserID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, claims.UserID, "", nil, nil)
	return session, nil
}

// Logout revokes the refresh token of userID and destroys the OAuth
// records of the browser session.
func (e *Engine) Logout(ctx context.Context, userID, sessionID string) error {
	return e.logout(ctx, userID, sessionID, false)
}

// LogoutOAuth is [Engine.Logout] that also clears stored provider tokens.
func (e *Engine) LogoutOAuth(ctx context.Context, userID, sessionID string) error {
	return e.logout(ctx, userID, sessionID, true)
}

func (e *Engine) logout(ctx context.Context, userID, sessionID string, clearProviderTokens bool) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	if userID != "" {
		_, err := e.mutateUser(ctx, userID, nil, func(cur *User, _ time.Time) (bool, error) {
			cur.RefreshTokenHash = ""
			if clearProviderTokens {
				for _, id := range cur.Identities {
					if id == nil {
						continue
					}
					id.AccessToken = ""
					id.RefreshToken = ""
					id.TokenExpiry = time.Time{}
				}
			}
			return true, nil
		})
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return err
		}
	}

	if internal.ValidSessionID(sessionID) {
		if err := e.states.DeleteSession(ctx, sessionID); err != nil {
			e.logger.WithError(err).Warn("oauth session cleanup failed")
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, "", nil, func() map[string]string {
		if clearProviderTokens {
			return map[string]string{"provider_tokens": "cleared"}
		}
		return nil
	})
	return nil
}

// GetProfile returns the current profile of userID.
func (e *Engine) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	u, err := e.store.GetByID(sctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.internal("load user", err)
	}
	p := ProfileOf(u)
	return &p, nil
}

// issueSession signs a token pair inside one conditional write that also
// stores the refresh digest. prepare runs first on every attempt; returning
// an error aborts without writing. countLogin updates login tracking.
func (e *Engine) issueSession(ctx context.Context, userID string, first *User, countLogin bool, prepare func(cur *User, now time.Time) error) (*Session, error) {
	var access, refresh string
	ip := ClientIPFromContext(ctx)

	u, err := e.mutateUser(ctx, userID, first, func(cur *User, now time.Time) (bool, error) {
		if prepare != nil {
			if err := prepare(cur, now); err != nil {
				return false, err
			}
		}

		var err error
		if access, err = e.jwtManager.IssueAccess(cur.ID, cur.Email); err != nil {
			return false, e.internal("sign access token", err)
		}
		if refresh, err = e.jwtManager.IssueRefresh(cur.ID, cur.Email); err != nil {
			return false, e.internal("sign refresh token", err)
		}

		cur.RefreshTokenHash = internal.HashToken(refresh)
		if countLogin {
			cur.LastLoginAt = now
			cur.LastLoginIP = ip
			cur.LoginCount++
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  u.UpdatedAt.Add(e.jwtManager.AccessTTL()),
		RefreshExpiresAt: u.UpdatedAt.Add(e.jwtManager.RefreshTTL()),
		Profile:          ProfileOf(u),
	}, nil
}

/*
====================================
HELPERS
====================================
*/

// mutation edits cur in place. save=false aborts without writing; the
// returned error is passed through either way.
type mutation func(cur *User, now time.Time) (save bool, err error)

// mutateUser is the single read-modify-write path. It reloads and re-runs
// fn whenever the conditional save loses a race. first, when non-nil, is
// used in place of the initial load.
func (e *Engine) mutateUser(ctx context.Context, userID string, first *User, fn mutation) (*User, error) {
	retries := e.config.Security.MaxMutationRetries

	for attempt := 0; attempt < retries; attempt++ {
		var cur *User
		if attempt == 0 && first != nil {
			cur = first.Clone()
		} else {
			sctx, cancel := e.storeContext(ctx)
			loaded, err := e.store.GetByID(sctx, userID)
			cancel()
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					return nil, err
				}
				return nil, e.internal("load user", err)
			}
			cur = loaded
		}

		now := e.now()
		save, ferr := fn(cur, now)
		if !save {
			return cur, ferr
		}
		cur.UpdatedAt = now

		sctx, cancel := e.storeContext(ctx)
		err := e.store.Save(sctx, cur)
		cancel()
		if err == nil {
			return cur, ferr
		}
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, ErrDuplicateIdentity
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, e.internal("save user", err)
		}
		e.metricInc(MetricVersionConflict)
	}

	return nil, e.internal("save user", ErrVersionConflict)
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

// allow consumes one unit of the client's budget for class.
func (e *Engine) allow(ctx context.Context, class rate.Class) error {
	if e.limiter == nil {
		return nil
	}
	ip := ClientIPFromContext(ctx)

	sctx, cancel := e.storeContext(ctx)
	err := e.limiter.Allow(sctx, class, ip)
	cancel()
	if err == nil {
		return nil
	}

	var le *rate.LimitError
	if errors.As(err, &le) {
		e.emitRateLimit(ctx, string(class))
		return &RateLimitError{Scope: string(class), RetryAfter: le.RetryAfter}
	}
	return e.internal("rate limit", err)
}

func (e *Engine) checkPassword(plaintext string) error {
	if err := e.policy.Check(plaintext); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	return nil
}

// internal logs err and returns an opaque [ErrInternal].
func (e *Engine) internal(op string, err error) error {
	if errors.Is(err, ErrInternal) {
		return err
	}
	e.logger.WithError(err).WithField("op", op).Error("dependency failure")
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	if len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: email is too long", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is invalid", ErrValidation)
	}
	return email, nil
}
