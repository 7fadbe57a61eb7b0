package authcore

import (
	"context"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/sirupsen/logrus"
)

const (
	auditEventSignupSuccess          = "signup_success"
	auditEventSignupDuplicate        = "signup_duplicate"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginLocked            = "login_locked"
	auditEventAccountLocked          = "account_locked"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventLogout                 = "logout"
	auditEventOAuthBegin             = "oauth_begin"
	auditEventOAuthSuccess           = "oauth_success"
	auditEventOAuthFailure           = "oauth_failure"
	auditEventOAuthCSRFRejected      = "oauth_csrf_rejected"
	auditEventProviderLinked         = "provider_linked"
	auditEventProviderUnlinked       = "provider_unlinked"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetMailError = "password_reset_mail_failure"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordResetInvalid   = "password_reset_invalid"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

// NewChannelSink returns an [AuditSink] that buffers events on a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewLogrusSink returns an [AuditSink] that logs each event through logger.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return internalaudit.NewLogrusSink(logger)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	provider ProviderID,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Provider:  string(provider),
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}
