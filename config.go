package authcore

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config holds every tunable of the [Engine]. Obtain defaults with
// [DefaultConfig], override fields, then pass it to [Builder.WithConfig].
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	PasswordReset PasswordResetConfig
	OAuth         OAuthConfig
	RateLimit     RateLimitConfig
	HTTP          HTTPConfig
	Timeouts      TimeoutConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token lifetimes and HS256 signing secrets.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls bcrypt cost and the strength policy.
type PasswordConfig struct {
	BcryptCost     int
	UpgradeOnLogin bool
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
}

// LockoutConfig controls the brute-force lock.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// PasswordResetConfig controls reset-token lifetime and the email sent.
type PasswordResetConfig struct {
	TokenTTL        time.Duration
	Subject         string
	GenericResponse string
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthProviderConfig holds client registration for one provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthConfig lists configured providers. Providers without a client id are
// treated as not configured.
type OAuthConfig struct {
	Providers      map[ProviderID]OAuthProviderConfig
	StateTTL       time.Duration
	StateKeyPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is a per-window budget.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds per-operation budgets keyed by client IP.
type RateLimitConfig struct {
	Enabled      bool
	Login        RateLimitRule
	ResetRequest RateLimitRule
	OAuthBegin   RateLimitRule
	// FailOpen admits requests when the counter backend is unavailable.
	FailOpen bool
	// Sliding enforces budgets over a rolling window instead of fixed slots.
	Sliding bool
}

/*
====================================
HTTP CONFIG
====================================
*/

// CookieConfig controls the credential cookies.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	SessionName string
	// TTL is the access cookie Max-Age; zero uses JWT.AccessTTL.
	TTL      time.Duration
	Secure   bool
	Domain   string
	Path     string
	SameSite http.SameSite
}

// HTTPConfig holds the redirect targets and link base used by the engine
// and the HTTP surface.
type HTTPConfig struct {
	BaseURL           string
	LoginPath         string
	PostLoginRedirect string
	ResetPath         string
	Cookie            CookieConfig
}

// TimeoutConfig bounds every call to an external collaborator.
type TimeoutConfig struct {
	Store    time.Duration
	Mail     time.Duration
	Provider time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// BlockTimeout bounds how long a request waits on a full buffer when
	// DropIfFull is false.
	BlockTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-level switches.
type SecurityConfig struct {
	ProductionMode bool
	// TrustProxyHeaders honours X-Forwarded-For / X-Real-IP when deriving the client IP.
	TrustProxyHeaders bool
	// MaxMutationRetries bounds the conditional-write retry loop.
	MaxMutationRetries int
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a Config with every default applied. Secrets and
// provider credentials are left empty.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
		},
		Password: PasswordConfig{
			BcryptCost:     10,
			UpgradeOnLogin: true,
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:        10 * time.Minute,
			Subject:         "Reset your password",
			GenericResponse: "If an account exists for that email, a password reset link has been sent.",
		},
		OAuth: OAuthConfig{
			Providers:      map[ProviderID]OAuthProviderConfig{},
			StateTTL:       10 * time.Minute,
			StateKeyPrefix: "aos",
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Login:        RateLimitRule{Limit: 5, Window: 15 * time.Minute},
			ResetRequest: RateLimitRule{Limit: 3, Window: time.Hour},
			OAuthBegin:   RateLimitRule{Limit: 10, Window: 15 * time.Minute},
		},
		HTTP: HTTPConfig{
			BaseURL:           "http://localhost:8080",
			LoginPath:         "/login",
			PostLoginRedirect: "/",
			ResetPath:         "/reset-password",
			Cookie: CookieConfig{
				AccessName:  "token",
				RefreshName: "refreshToken",
				SessionName: "auth_session",
				Path:        "/",
				SameSite:    http.SameSiteLaxMode,
			},
		},
		Timeouts: TimeoutConfig{
			Store:    5 * time.Second,
			Mail:     10 * time.Second,
			Provider: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			BlockTimeout: 50 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Security: SecurityConfig{
			ProductionMode:     false,
			TrustProxyHeaders:  false,
			MaxMutationRetries: 4,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.OAuth.Providers = make(map[ProviderID]OAuthProviderConfig, len(cfg.OAuth.Providers))
	for k, v := range cfg.OAuth.Providers {
		out.OAuth.Providers[k] = v
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if len(c.JWT.AccessSecret) < 32 {
		return errors.New("JWT AccessSecret must be at least 32 bytes")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		return errors.New("JWT RefreshSecret must be at least 32 bytes")
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Password
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return errors.New("Password BcryptCost must be within [4, 31]")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MinLength > 72 {
		return errors.New("Password MinLength must be <= 72")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Password Reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.TokenTTL > time.Hour {
		return errors.New("PasswordReset TokenTTL must be <= 1h")
	}
	if strings.TrimSpace(c.PasswordReset.GenericResponse) == "" {
		return errors.New("PasswordReset GenericResponse must not be empty")
	}

	// OAuth
	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	for id, p := range c.OAuth.Providers {
		if p.ClientID == "" {
			continue
		}
		if p.ClientSecret == "" || p.RedirectURL == "" {
			return errors.New("OAuth provider " + string(id) + " requires ClientSecret and RedirectURL")
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		for name, rule := range map[string]RateLimitRule{
			"Login":        c.RateLimit.Login,
			"ResetRequest": c.RateLimit.ResetRequest,
			"OAuthBegin":   c.RateLimit.OAuthBegin,
		} {
			if rule.Limit <= 0 || rule.Window <= 0 {
				return errors.New("RateLimit " + name + " requires Limit > 0 and Window > 0")
			}
		}
	}

	// HTTP
	if c.HTTP.BaseURL == "" {
		return errors.New("HTTP BaseURL must be set")
	}
	if !strings.HasPrefix(c.HTTP.LoginPath, "/") || !strings.HasPrefix(c.HTTP.ResetPath, "/") {
		return errors.New("HTTP LoginPath and ResetPath must be absolute paths")
	}
	if !strings.HasPrefix(c.HTTP.PostLoginRedirect, "/") || strings.HasPrefix(c.HTTP.PostLoginRedirect, "//") {
		return errors.New("HTTP PostLoginRedirect must be a local path")
	}
	if c.HTTP.Cookie.AccessName == "" || c.HTTP.Cookie.RefreshName == "" || c.HTTP.Cookie.SessionName == "" {
		return errors.New("HTTP cookie names must be set")
	}
	if c.HTTP.Cookie.TTL < 0 {
		return errors.New("HTTP Cookie TTL must be >= 0")
	}

	// Timeouts
	if c.Timeouts.Store <= 0 || c.Timeouts.Mail <= 0 || c.Timeouts.Provider <= 0 {
		return errors.New("Timeouts must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.BlockTimeout < 0 {
		return errors.New("Audit BlockTimeout must be >= 0")
	}

	// Security
	if c.Security.MaxMutationRetries <= 0 {
		return errors.New("Security MaxMutationRetries must be > 0")
	}
	if c.Security.ProductionMode {
		if !c.HTTP.Cookie.Secure {
			return errors.New("ProductionMode requires secure cookies")
		}
		if !strings.HasPrefix(c.HTTP.BaseURL, "https://") {
			return errors.New("ProductionMode requires an https BaseURL")
		}
	}

	return nil
}
