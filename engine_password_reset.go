package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/rate"
)

// RequestPasswordReset mails a single-use reset link to email when an
// account exists. The result is identical for every input; delivery
// failures are logged and counted but never reported to the caller.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*PasswordResetResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ClassResetRequest); err != nil {
		return nil, err
	}

	generic := &PasswordResetResult{Message: e.config.PasswordReset.GenericResponse}
	e.metricInc(MetricPasswordResetRequest)

	normalized, err := normalizeEmail(email)
	if err != nil {
		return generic, nil
	}

	sctx, cancel := e.storeContext(ctx)
	u, err := e.store.GetByEmail(sctx, normalized)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrUserNotFound, nil)
			return generic, nil
		}
		return nil, e.internal("lookup email", err)
	}

	token, err := internal.NewToken()
	if err != nil {
		return nil, e.internal("new reset token", err)
	}
	tokenHash := internal.HashToken(token)

	_, err = e.mutateUser(ctx, u.ID, u, func(cur *User, now time.Time) (bool, error) {
		cur.ResetTokenHash = tokenHash
		cur.ResetExpiry = now.Add(e.config.PasswordReset.TokenTTL)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return generic, nil
		}
		return nil, err
	}

	mctx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Mail)
	err = e.mailer.Send(mctx, Message{
		To:      u.Email,
		Subject: e.config.PasswordReset.Subject,
		Body:    e.resetBody(e.resetLink(token)),
	})
	cancel()
	if err != nil {
		e.metricInc(MetricPasswordResetMailFailure)
		e.logger.WithError(err).WithField("user_id", u.ID).Error("password reset email failed")
		e.emitAudit(ctx, auditEventPasswordResetMailError, false, u.ID, "", err, nil)
		e.clearResetToken(ctx, u.ID, tokenHash)
		return generic, nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, u.ID, "", nil, nil)
	return generic, nil
}

// clearResetToken removes the pending token, unless a newer request has
// already replaced it.
func (e *Engine) clearResetToken(ctx context.Context, userID, tokenHash string) {
	_, err := e.mutateUser(ctx, userID, nil, func(cur *User, _ time.Time) (bool, error) {
		if cur.ResetTokenHash != tokenHash {
			return false, nil
		}
		cur.ResetTokenHash = ""
		cur.ResetExpiry = time.Time{}
		return true, nil
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		e.logger.WithError(err).WithField("user_id", userID).Warn("clearing undelivered reset token failed")
	}
}

func (e *Engine) resetLink(token string) string {
	return strings.TrimRight(e.config.HTTP.BaseURL, "/") + e.config.HTTP.ResetPath + "/" + token
}

func (e *Engine) resetBody(link string) string {
	ttl := e.config.PasswordReset.TokenTTL
	return "You are receiving this because you (or someone else) requested a password reset.\n\n" +
		"Open the following link to choose a new password:\n\n" + link + "\n\n" +
		"The link expires in " + ttl.String() + ". If you did not request this, ignore this email " +
		"and your password will remain unchanged.\n"
}

// ValidateResetToken reports whether token is a live reset token without
// consuming it.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	_, err := e.lookupResetToken(ctx, token)
	return err
}

func (e *Engine) lookupResetToken(ctx context.Context, token string) (*User, error) {
	if internal.DecodeToken(token) != nil {
		return nil, ErrResetTokenInvalid
	}

	sctx, cancel := e.storeContext(ctx)
	u, err := e.store.GetByResetTokenHash(sctx, internal.HashToken(token))
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, e.internal("lookup reset token", err)
	}
	if !resetTokenLive(u, token, e.now()) {
		return nil, ErrResetTokenInvalid
	}
	return u, nil
}

func resetTokenLive(u *User, token string, now time.Time) bool {
	return internal.TokenMatches(u.ResetTokenHash, token) && u.ResetExpiry.After(now)
}

// ResetPassword consumes token and sets newPassword. The token check, the
// new hash, the lockout reset and the refresh-token revocation are a single
// conditional write, so a token can be consumed at most once.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	u, err := e.lookupResetToken(ctx, token)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetInvalid, false, "", "", err, nil)
		return err
	}
	if err := e.checkPassword(newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.internal("hash password", err)
	}

	_, err = e.mutateUser(ctx, u.ID, u, func(cur *User, now time.Time) (bool, error) {
		if !resetTokenLive(cur, token, now) {
			return false, ErrResetTokenInvalid
		}
		cur.PasswordHash = hash
		cur.ResetTokenHash = ""
		cur.ResetExpiry = time.Time{}
		cur.RefreshTokenHash = ""
		e.lockout.recordSuccess(cur)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			err = ErrResetTokenInvalid
		}
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetInvalid, false, u.ID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, u.ID, "", nil, nil)
	return nil
}
