package authcore

import (
	"context"
	"slices"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// ProviderID names an external identity provider.
type ProviderID string

const (
	// ProviderGitHub is the first built-in identity provider.
	ProviderGitHub ProviderID = "github"
	// ProviderGoogle is the second built-in identity provider.
	ProviderGoogle ProviderID = "google"
)

// ProviderIdentity is the per-provider state stored on a [User].
type ProviderIdentity struct {
	ExternalID   string
	Username     string
	ProfileURL   string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Scopes       []string
	ConsentedAt  time.Time
}

// User is the account record owned by the [UserStore].
//
// Email is always stored lower-cased. ResetTokenHash and RefreshTokenHash
// hold hex SHA-256 digests; plaintext tokens are never persisted.
// ResetTokenHash and ResetExpiry are set and cleared together.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string

	PasswordHash string

	FailedLoginAttempts int
	IsLocked            bool
	LockUntil           time.Time

	LastLoginAt time.Time
	LastLoginIP string
	LoginCount  int64

	ResetTokenHash string
	ResetExpiry    time.Time

	RefreshTokenHash string

	Identities      map[ProviderID]*ProviderIdentity
	LinkedProviders []ProviderID
	LastProvider    ProviderID

	EmailVerified   bool
	EmailVerifiedAt time.Time

	// Reserved for a second factor; nothing in this module reads them.
	TwoFactorEnabled bool
	TwoFactorSecret  string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Identity returns the linked identity for provider, or nil.
func (u *User) Identity(provider ProviderID) *ProviderIdentity {
	if u == nil || u.Identities == nil {
		return nil
	}
	id := u.Identities[provider]
	if id == nil || id.ExternalID == "" {
		return nil
	}
	return id
}

// LoginMethods counts the usable authentication methods on the account.
func (u *User) LoginMethods() int {
	if u == nil {
		return 0
	}
	n := 0
	if u.HasPassword() {
		n++
	}
	for provider := range u.Identities {
		if u.Identity(provider) != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.LinkedProviders = slices.Clone(u.LinkedProviders)
	if u.Identities != nil {
		out.Identities = make(map[ProviderID]*ProviderIdentity, len(u.Identities))
		for k, v := range u.Identities {
			if v == nil {
				continue
			}
			cp := *v
			cp.Scopes = slices.Clone(v.Scopes)
			out.Identities[k] = &cp
		}
	}
	return &out
}

func (u *User) linkProvider(provider ProviderID, identity *ProviderIdentity) {
	if u.Identities == nil {
		u.Identities = make(map[ProviderID]*ProviderIdentity)
	}
	u.Identities[provider] = identity
	if !slices.Contains(u.LinkedProviders, provider) {
		u.LinkedProviders = append(u.LinkedProviders, provider)
	}
	u.LastProvider = provider
}

func (u *User) unlinkProvider(provider ProviderID) {
	delete(u.Identities, provider)
	u.LinkedProviders = slices.DeleteFunc(u.LinkedProviders, func(p ProviderID) bool { return p == provider })
	if u.LastProvider == provider {
		u.LastProvider = ""
	}
}

// UserStore persists [User] records.
//
// Implementations must treat email lookups case-insensitively, return
// [ErrUserNotFound] for misses and [ErrDuplicateIdentity] when Create would
// break email or (provider, external id) uniqueness. Save is a conditional
// write: it succeeds only when the stored Version equals u.Version, then
// increments both; otherwise it returns [ErrVersionConflict].
type UserStore interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByProvider(ctx context.Context, provider ProviderID, externalID string) (*User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*User, error)
	Create(ctx context.Context, u *User) error
	Save(ctx context.Context, u *User) error
}

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderProfile is the public view of a linked identity.
type ProviderProfile struct {
	Username   string    `json:"username,omitempty"`
	ProfileURL string    `json:"profileUrl,omitempty"`
	LinkedAt   time.Time `json:"linkedAt"`
}

// Profile is the client-safe projection of a [User].
type Profile struct {
	ID              string                         `json:"id"`
	FirstName       string                         `json:"firstName"`
	LastName        string                         `json:"lastName"`
	Email           string                         `json:"email"`
	HasPassword     bool                           `json:"hasPassword"`
	EmailVerified   bool                           `json:"emailVerified"`
	LinkedProviders []ProviderID                   `json:"linkedProviders"`
	LastProvider    ProviderID                     `json:"lastProvider,omitempty"`
	Providers       map[ProviderID]ProviderProfile `json:"providers,omitempty"`
	LastLoginAt     time.Time                      `json:"lastLoginAt"`
	LoginCount      int64                          `json:"loginCount"`
	CreatedAt       time.Time                      `json:"createdAt"`
}

// ProfileOf projects u for clients.
func ProfileOf(u *User) Profile {
	p := Profile{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		HasPassword:     u.HasPassword(),
		EmailVerified:   u.EmailVerified,
		LinkedProviders: slices.Clone(u.LinkedProviders),
		LastProvider:    u.LastProvider,
		LastLoginAt:     u.LastLoginAt,
		LoginCount:      u.LoginCount,
		CreatedAt:       u.CreatedAt,
	}
	if p.LinkedProviders == nil {
		p.LinkedProviders = []ProviderID{}
	}
	for provider := range u.Identities {
		id := u.Identity(provider)
		if id == nil {
			continue
		}
		if p.Providers == nil {
			p.Providers = make(map[ProviderID]ProviderProfile)
		}
		p.Providers[provider] = ProviderProfile{
			Username:   id.Username,
			ProfileURL: id.ProfileURL,
			LinkedAt:   id.ConsentedAt,
		}
	}
	return p
}

// Session is the result of every successful authentication.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Profile          Profile
}

// AuthResult is returned by [Engine.Authenticate].
type AuthResult struct {
	UserID  string
	Email   string
	Profile Profile
}

// SignupRequest is the input for [Engine.Signup].
type SignupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// LoginRequest is the input for [Engine.Login].
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BeginOAuthRequest is the input for [Engine.BeginOAuth].
//
// SessionID is the browser-session id from the session cookie; a new one is
// minted when empty or malformed. LinkUserID, when set, links the provider
// to that already authenticated account instead of signing in.
type BeginOAuthRequest struct {
	SessionID  string
	LinkUserID string
}

// BeginOAuthResult is returned by [Engine.BeginOAuth].
type BeginOAuthResult struct {
	RedirectURL string
	SessionID   string
}

// CompleteOAuthRequest is the input for [Engine.CompleteOAuth].
type CompleteOAuthRequest struct {
	SessionID     string
	State         string
	Code          string
	ProviderError string
}

// OAuthResult is returned by [Engine.CompleteOAuth].
type OAuthResult struct {
	Session     *Session
	RedirectURL string
	Created     bool
	Linked      bool
}

// PasswordResetResult is returned by [Engine.RequestPasswordReset] for every
// input so the response never reveals whether an account exists.
type PasswordResetResult struct {
	Message string `json:"message"`
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// LogrusSink writes each event as a structured logrus entry.
type LogrusSink = internalaudit.LogrusSink
