package prometheus

import "github.com/MrEthical07/authcore"

type counterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{authcore.MetricSignupSuccess, "authcore_signup_success_total", "Accounts created through signup."},
	{authcore.MetricSignupDuplicate, "authcore_signup_duplicate_total", "Signups rejected for an existing email."},
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Successful credential logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Failed credential logins."},
	{authcore.MetricLoginLocked, "authcore_login_locked_total", "Logins rejected because the account is locked."},
	{authcore.MetricAccountLocked, "authcore_account_locked_total", "Accounts locked after repeated failures."},
	{authcore.MetricRateLimitHit, "authcore_rate_limit_hit_total", "Requests denied by a rate limit."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Successful token refreshes."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Rejected token refreshes."},
	{authcore.MetricLogout, "authcore_logout_total", "Logouts."},
	{authcore.MetricOAuthBegin, "authcore_oauth_begin_total", "Started provider logins."},
	{authcore.MetricOAuthSuccess, "authcore_oauth_success_total", "Completed provider logins."},
	{authcore.MetricOAuthFailure, "authcore_oauth_failure_total", "Failed provider logins."},
	{authcore.MetricOAuthCSRFRejected, "authcore_oauth_csrf_rejected_total", "Provider callbacks rejected for a state mismatch."},
	{authcore.MetricOAuthUserCreated, "authcore_oauth_user_created_total", "Accounts created from a provider identity."},
	{authcore.MetricProviderUnlinked, "authcore_provider_unlinked_total", "Providers unlinked from an account."},
	{authcore.MetricPasswordResetRequest, "authcore_password_reset_request_total", "Password reset requests."},
	{authcore.MetricPasswordResetMailFailure, "authcore_password_reset_mail_failure_total", "Reset emails that could not be delivered."},
	{authcore.MetricPasswordResetConfirmSuccess, "authcore_password_reset_confirm_success_total", "Completed password resets."},
	{authcore.MetricPasswordResetConfirmFailure, "authcore_password_reset_confirm_failure_total", "Rejected password reset confirmations."},
	{authcore.MetricPasswordHashUpgraded, "authcore_password_hash_upgraded_total", "Password hashes rehashed at login."},
	{authcore.MetricVersionConflict, "authcore_version_conflict_total", "Optimistic write conflicts on user records."},
}

const (
	latencyName = "authcore_login_latency_seconds"
	latencyHelp = "Credential login latency."
	droppedName = "authcore_audit_dropped_total"
	droppedHelp = "Audit events dropped under dispatcher backpressure."
)

// cumulativeBuckets turns non-cumulative snapshot buckets into the
// upper-bound keyed form Prometheus expects. The trailing +Inf bucket is
// implied by the total count.
func cumulativeBuckets(raw []uint64) (map[float64]uint64, uint64) {
	out := make(map[float64]uint64, len(authcore.HistogramBounds))
	var running uint64
	for i, v := range raw {
		running += v
		if i < len(authcore.HistogramBounds) {
			out[authcore.HistogramBounds[i]] = running
		}
	}
	return out, running
}
