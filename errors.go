package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrValidation reports a malformed or incomplete request.
	ErrValidation = errors.New("validation failed")
	// ErrPasswordPolicy reports a new password that fails the strength policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrDuplicateIdentity reports an email or provider identity that already belongs to an account.
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrInvalidCredentials is returned for a wrong password and for an unknown email alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a brute-force lock is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrCSRFViolation reports an OAuth callback whose state does not match the session.
	ErrCSRFViolation = errors.New("oauth state mismatch")
	// ErrOAuthStateMissing reports a callback without a pending authorization request.
	ErrOAuthStateMissing = errors.New("oauth state missing")
	// ErrProviderNotConfigured reports an unknown or unconfigured identity provider.
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	// ErrOAuthExchangeFailed reports a provider-side failure during the callback.
	ErrOAuthExchangeFailed = errors.New("oauth exchange failed")
	// ErrOAuthAccountConflict reports an unverified provider email that matches a local account.
	ErrOAuthAccountConflict = errors.New("oauth email belongs to another account")
	// ErrIdentityInUse reports a provider identity already linked to a different account.
	ErrIdentityInUse = errors.New("provider identity linked to another account")
	// ErrProviderNotLinked reports an unlink of a provider the account does not use.
	ErrProviderNotLinked = errors.New("provider not linked")
	// ErrInvariantViolation reports a change that would leave an account without a login method.
	ErrInvariantViolation = errors.New("account must keep at least one login method")
	// ErrInvalidOrExpiredToken is the shared parent of reset and refresh token failures.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrRateLimited reports an exhausted request budget. See [RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized is the shared parent of every request-guard failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound is returned by a [UserStore] lookup that matches nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrVersionConflict is returned by [UserStore.Save] when the stored version moved.
	ErrVersionConflict = errors.New("user version conflict")
	// ErrInternal reports a dependency failure. Details are logged, never returned to clients.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by methods called on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var (
	ErrResetTokenInvalid = fmt.Errorf("%w: reset token", ErrInvalidOrExpiredToken)
	ErrRefreshInvalid    = fmt.Errorf("%w: refresh token", ErrInvalidOrExpiredToken)

	ErrMissingToken            = fmt.Errorf("%w: missing access token", ErrUnauthorized)
	ErrTokenExpired            = fmt.Errorf("%w: access token expired", ErrUnauthorized)
	ErrTokenMalformed          = fmt.Errorf("%w: access token malformed", ErrUnauthorized)
	ErrTokenVerificationFailed = fmt.Errorf("%w: access token verification failed", ErrUnauthorized)
	ErrAccountNotFound         = fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
)

// RateLimitError carries the retry hint for a rejected request. It matches
// [ErrRateLimited] under errors.Is.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s)", e.Scope)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

type errorMapping struct {
	err    error
	code   string
	status int
}

// Ordered most specific first: wrapped variants precede their parents.
var errorMappings = []errorMapping{
	{ErrPasswordPolicy, "password_policy", http.StatusBadRequest},
	{ErrProviderNotLinked, "provider_not_linked", http.StatusBadRequest},
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrDuplicateIdentity, "duplicate_identity", http.StatusConflict},
	{ErrInvalidCredentials, "invalid_credentials", http.StatusUnauthorized},
	{ErrAccountLocked, "account_locked", http.StatusLocked},
	{ErrCSRFViolation, "csrf_violation", http.StatusBadRequest},
	{ErrOAuthStateMissing, "oauth_state_missing", http.StatusBadRequest},
	{ErrProviderNotConfigured, "provider_not_configured", http.StatusNotImplemented},
	{ErrOAuthExchangeFailed, "oauth_exchange_failed", http.StatusBadGateway},
	{ErrOAuthAccountConflict, "oauth_account_conflict", http.StatusConflict},
	{ErrIdentityInUse, "identity_in_use", http.StatusConflict},
	{ErrInvariantViolation, "invariant_violation", http.StatusBadRequest},
	{ErrResetTokenInvalid, "reset_token_invalid", http.StatusBadRequest},
	{ErrRefreshInvalid, "refresh_token_invalid", http.StatusBadRequest},
	{ErrInvalidOrExpiredToken, "invalid_or_expired_token", http.StatusBadRequest},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrMissingToken, "missing_token", http.StatusUnauthorized},
	{ErrTokenExpired, "token_expired", http.StatusUnauthorized},
	{ErrTokenMalformed, "token_malformed", http.StatusUnauthorized},
	{ErrTokenVerificationFailed, "token_verification_failed", http.StatusUnauthorized},
	{ErrAccountNotFound, "account_not_found", http.StatusUnauthorized},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
}

// ErrorCode returns the stable client-facing code for err. Unmapped errors
// collapse to "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return "internal_error"
}

// HTTPStatus returns the response status for err. Unmapped errors are 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a client-safe message for err. Internal failures
// never expose their cause.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	// Validation detail is authored by the engine and safe to echo.
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPasswordPolicy) {
		return err.Error()
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.err.Error()
		}
	}
	return ErrInternal.Error()
}
