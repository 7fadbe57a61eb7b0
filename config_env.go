package authcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every variable read by [LoadConfigFromEnv].
const EnvPrefix = "AUTHCORE_"

// LoadConfigFromEnv starts from [DefaultConfig], applies AUTHCORE_*
// environment overrides and validates the result.
func LoadConfigFromEnv() (Config, error) {
	cfg := defaultConfig()

	cfg.JWT.AccessSecret = []byte(getEnv("ACCESS_SECRET", ""))
	cfg.JWT.RefreshSecret = []byte(getEnv("REFRESH_SECRET", ""))
	cfg.JWT.AccessTTL = getEnvDuration("ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = getEnvDuration("REFRESH_TTL", cfg.JWT.RefreshTTL)
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)

	cfg.Password.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Password.BcryptCost)

	cfg.Lockout.Threshold = getEnvInt("LOCKOUT_THRESHOLD", cfg.Lockout.Threshold)
	cfg.Lockout.Duration = getEnvDuration("LOCKOUT_DURATION", cfg.Lockout.Duration)

	cfg.PasswordReset.TokenTTL = getEnvDuration("RESET_TOKEN_TTL", cfg.PasswordReset.TokenTTL)

	for _, provider := range []ProviderID{ProviderGitHub, ProviderGoogle} {
		name := strings.ToUpper(string(provider))
		p := OAuthProviderConfig{
			ClientID:     getEnv(name+"_CLIENT_ID", ""),
			ClientSecret: getEnv(name+"_CLIENT_SECRET", ""),
			RedirectURL:  getEnv(name+"_REDIRECT_URL", ""),
		}
		if p.ClientID != "" {
			cfg.OAuth.Providers[provider] = p
		}
	}

	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.FailOpen = getEnvBool("RATE_LIMIT_FAIL_OPEN", cfg.RateLimit.FailOpen)
	cfg.RateLimit.Sliding = getEnvBool("RATE_LIMIT_SLIDING", cfg.RateLimit.Sliding)

	cfg.HTTP.BaseURL = strings.TrimRight(getEnv("BASE_URL", cfg.HTTP.BaseURL), "/")
	cfg.HTTP.LoginPath = getEnv("LOGIN_PATH", cfg.HTTP.LoginPath)
	cfg.HTTP.PostLoginRedirect = getEnv("POST_LOGIN_REDIRECT", cfg.HTTP.PostLoginRedirect)
	cfg.HTTP.ResetPath = getEnv("RESET_PATH", cfg.HTTP.ResetPath)
	cfg.HTTP.Cookie.TTL = getEnvDuration("COOKIE_TTL", cfg.HTTP.Cookie.TTL)
	cfg.HTTP.Cookie.Secure = getEnvBool("COOKIE_SECURE", cfg.HTTP.Cookie.Secure)
	cfg.HTTP.Cookie.Domain = getEnv("COOKIE_DOMAIN", cfg.HTTP.Cookie.Domain)

	cfg.Audit.Enabled = getEnvBool("AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)

	cfg.Security.ProductionMode = getEnvBool("PRODUCTION", cfg.Security.ProductionMode)
	cfg.Security.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", cfg.Security.TrustProxyHeaders)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
