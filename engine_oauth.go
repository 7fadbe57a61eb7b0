package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// BeginOAuth starts an authorization-code flow with provider.
//
// A state value and PKCE verifier are stored under the browser session for
// Config.OAuth.StateTTL. When req.SessionID is empty or malformed a new one
// is minted and returned; the caller must hand it back to [Engine.CompleteOAuth].
func (e *Engine) BeginOAuth(ctx context.Context, provider ProviderID, req BeginOAuthRequest) (*BeginOAuthResult, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ClassOAuthBegin); err != nil {
		return nil, err
	}

	ex, ok := e.providers[provider]
	if !ok {
		return nil, ErrProviderNotConfigured
	}

	sid := req.SessionID
	if !internal.ValidSessionID(sid) {
		var err error
		if sid, err = internal.NewSessionID(); err != nil {
			return nil, e.internal("new session id", err)
		}
	}

	state, err := internal.NewToken()
	if err != nil {
		return nil, e.internal("new oauth state", err)
	}
	verifier := oauth2.GenerateVerifier()

	sctx, cancel := e.storeContext(ctx)
	err = e.states.Save(sctx, sid, string(provider), &stores.OAuthStateRecord{
		State:      state,
		Verifier:   verifier,
		LinkUserID: req.LinkUserID,
	}, e.config.OAuth.StateTTL)
	cancel()
	if err != nil {
		return nil, e.internal("save oauth state", err)
	}

	e.metricInc(MetricOAuthBegin)
	e.emitAudit(ctx, auditEventOAuthBegin, true, req.LinkUserID, provider, nil, nil)

	return &BeginOAuthResult{
		RedirectURL: ex.AuthCodeURL(state, verifier),
		SessionID:   sid,
	}, nil
}

// CompleteOAuth finishes the flow started by [Engine.BeginOAuth].
//
// The stored state is consumed before it is compared, so a callback can be
// attempted once. A mismatch fails with [ErrCSRFViolation] and the provider
// is never contacted.
func (e *Engine) CompleteOAuth(ctx context.Context, provider ProviderID, req CompleteOAuthRequest) (*OAuthResult, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}

	ex, ok := e.providers[provider]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	if !internal.ValidSessionID(req.SessionID) {
		return nil, e.oauthFailure(ctx, provider, "", ErrOAuthStateMissing)
	}

	sctx, cancel := e.storeContext(ctx)
	rec, err := e.states.Take(sctx, req.SessionID, string(provider))
	cancel()
	if err != nil {
		if errors.Is(err, stores.ErrStateNotFound) {
			return nil, e.oauthFailure(ctx, provider, "", ErrOAuthStateMissing)
		}
		return nil, e.internal("take oauth state", err)
	}

	if req.State == "" || !internal.EqualConstantTime(rec.State, req.State) {
		e.metricInc(MetricOAuthCSRFRejected)
		e.emitAudit(ctx, auditEventOAuthCSRFRejected, false, rec.LinkUserID, provider, ErrCSRFViolation, nil)
		return nil, ErrCSRFViolation
	}

	if req.ProviderError != "" || req.Code == "" {
		e.logger.WithField("provider", provider).WithField("provider_error", req.ProviderError).
			Warn("oauth callback carried no authorization code")
		return nil, e.oauthFailure(ctx, provider, rec.LinkUserID, ErrOAuthExchangeFailed)
	}

	pctx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Provider)
	identity, err := ex.Exchange(pctx, req.Code, rec.Verifier)
	cancel()
	if err != nil {
		e.logger.WithError(err).WithField("provider", provider).Warn("oauth code exchange failed")
		return nil, e.oauthFailure(ctx, provider, rec.LinkUserID, ErrOAuthExchangeFailed)
	}

	result, err := e.resolveIdentity(ctx, provider, identity, rec.LinkUserID)
	if err != nil {
		return nil, e.oauthFailure(ctx, provider, rec.LinkUserID, err)
	}

	e.metricInc(MetricOAuthSuccess)
	if result.Created {
		e.metricInc(MetricOAuthUserCreated)
	}
	if result.Linked {
		e.emitAudit(ctx, auditEventProviderLinked, true, result.Session.Profile.ID, provider, nil, nil)
	}
	e.emitAudit(ctx, auditEventOAuthSuccess, true, result.Session.Profile.ID, provider, nil, nil)
	return result, nil
}

// resolveIdentity picks the account the external identity belongs to, in
// order: an existing link, the account that started a link flow, a verified
// email match, or a new passwordless account.
func (e *Engine) resolveIdentity(ctx context.Context, provider ProviderID, identity *oauth.Identity, linkUserID string) (*OAuthResult, error) {
	if identity == nil || identity.ExternalID == "" {
		return nil, ErrOAuthExchangeFailed
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	sctx, cancel := e.storeContext(ctx)
	target, err := e.store.GetByProvider(sctx, provider, identity.ExternalID)
	cancel()
	switch {
	case err == nil:
		if linkUserID != "" && linkUserID != target.ID {
			return nil, ErrIdentityInUse
		}
		return e.signInWithIdentity(ctx, provider, identity, target, false)
	case !errors.Is(err, ErrUserNotFound):
		return nil, e.internal("lookup provider identity", err)
	}

	if linkUserID != "" {
		sctx, cancel := e.storeContext(ctx)
		target, err = e.store.GetByID(sctx, linkUserID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, ErrAccountNotFound
			}
			return nil, e.internal("load link target", err)
		}
		return e.signInWithIdentity(ctx, provider, identity, target, true)
	}

	if email != "" {
		sctx, cancel := e.storeContext(ctx)
		target, err = e.store.GetByEmail(sctx, email)
		cancel()
		switch {
		case err == nil:
			if !identity.EmailVerified {
				return nil, ErrOAuthAccountConflict
			}
			return e.signInWithIdentity(ctx, provider, identity, target, true)
		case !errors.Is(err, ErrUserNotFound):
			return nil, e.internal("lookup email", err)
		}
	}

	if email == "" {
		e.logger.WithField("provider", provider).Warn("provider returned no email for a new account")
		return nil, ErrOAuthExchangeFailed
	}

	now := e.now()
	u := &User{
		ID:        uuid.NewString(),
		FirstName: firstNonEmpty(identity.FirstName, identity.Username, email),
		LastName:  identity.LastName,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyIdentity(u, provider, identity, now)

	sctx, cancel = e.storeContext(ctx)
	err = e.store.Create(sctx, u)
	cancel()
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, ErrDuplicateIdentity
		}
		return nil, e.internal("create user", err)
	}

	session, err := e.issueSession(ctx, u.ID, u, true, nil)
	if err != nil {
		return nil, err
	}
	return &OAuthResult{
		Session:     session,
		RedirectURL: e.config.HTTP.PostLoginRedirect,
		Created:     true,
		Linked:      true,
	}, nil
}

func (e *Engine) signInWithIdentity(ctx context.Context, provider ProviderID, identity *oauth.Identity, target *User, linking bool) (*OAuthResult, error) {
	session, err := e.issueSession(ctx, target.ID, target, true, func(cur *User, now time.Time) error {
		if existing := cur.Identity(provider); existing != nil && !linking && existing.ExternalID != identity.ExternalID {
			return ErrIdentityInUse
		}
		applyIdentity(cur, provider, identity, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, ErrIdentityInUse
		}
		return nil, err
	}
	return &OAuthResult{
		Session:     session,
		RedirectURL: e.config.HTTP.PostLoginRedirect,
		Linked:      linking,
	}, nil
}

// applyIdentity records the provider's view of the account on u.
func applyIdentity(u *User, provider ProviderID, identity *oauth.Identity, now time.Time) {
	u.linkProvider(provider, &ProviderIdentity{
		ExternalID:   identity.ExternalID,
		Username:     identity.Username,
		ProfileURL:   identity.ProfileURL,
		AccessToken:  identity.AccessToken,
		RefreshToken: identity.RefreshToken,
		TokenExpiry:  identity.Expiry,
		Scopes:       append([]string(nil), identity.Scopes...),
		ConsentedAt:  now,
	})
	if identity.EmailVerified && !u.EmailVerified && strings.EqualFold(identity.Email, u.Email) {
		u.EmailVerified = true
		u.EmailVerifiedAt = now
	}
}

func (e *Engine) oauthFailure(ctx context.Context, provider ProviderID, userID string, err error) error {
	e.metricInc(MetricOAuthFailure)
	e.emitAudit(ctx, auditEventOAuthFailure, false, userID, provider, err, nil)
	return err
}

// UnlinkProvider removes provider from userID's account. The last remaining
// login method can never be removed.
func (e *Engine) UnlinkProvider(ctx context.Context, userID string, provider ProviderID) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	u, err := e.mutateUser(ctx, userID, nil, func(cur *User, _ time.Time) (bool, error) {
		if cur.Identity(provider) == nil {
			return false, ErrProviderNotLinked
		}
		if cur.LoginMethods() <= 1 {
			return false, ErrInvariantViolation
		}
		cur.unlinkProvider(provider)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			err = ErrAccountNotFound
		}
		e.emitAudit(ctx, auditEventProviderUnlinked, false, userID, provider, err, nil)
		return nil, err
	}

	e.metricInc(MetricProviderUnlinked)
	e.emitAudit(ctx, auditEventProviderUnlinked, true, userID, provider, nil, nil)
	p := ProfileOf(u)
	return &p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
