package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	minSecretBytes = 32

	// TypeAccess marks short-lived API credentials.
	TypeAccess = "access"
	// TypeRefresh marks long-lived credentials exchanged for new access tokens.
	TypeRefresh = "refresh"
)

var (
	// ErrExpired reports a well-formed, correctly signed token past its exp claim.
	ErrExpired = errors.New("token expired")
	// ErrMalformed reports a token that cannot be decoded or carries unusable claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid reports a token whose signature does not verify against the secret.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Config defines token lifetimes and signing secrets.
//
// AccessSecret and RefreshSecret must be distinct and at least 32 bytes.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
	Now           func() time.Time
}

// Claims is the payload of both token kinds.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. It is safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.AccessSecret) < minSecretBytes || len(cfg.RefreshSecret) < minSecretBytes {
		return nil, errors.New("signing secrets must be at least 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token for the user with the access secret.
func (m *Manager) IssueAccess(userID, email string) (string, error) {
	return m.issue(userID, email, TypeAccess, m.config.AccessTTL, m.config.AccessSecret)
}

// IssueRefresh signs a refresh token for the user with the refresh secret.
func (m *Manager) IssueRefresh(userID, email string) (string, error) {
	return m.issue(userID, email, TypeRefresh, m.config.RefreshTTL, m.config.RefreshSecret)
}

// VerifyAccess verifies an access token against the access secret.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(token, m.config.AccessSecret, TypeAccess)
}

// VerifyRefresh verifies a refresh token against the refresh secret.
func (m *Manager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(token, m.config.RefreshSecret, TypeRefresh)
}

// Verify checks signature and expiry of token against secret without
// constraining the token type.
func (m *Manager) Verify(token string, secret []byte) (*Claims, error) {
	return m.verify(token, secret, "")
}

func (m *Manager) issue(userID, email, typ string, ttl time.Duration, secret []byte) (string, error) {
	if userID == "" {
		return "", errors.New("missing subject")
	}

	now := m.config.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) verify(tokenStr string, secret []byte, wantType string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, ErrMalformed
	}
	if wantType != "" && claims.Type != wantType {
		return nil, ErrMalformed
	}

	return claims, nil
}

// classify collapses parser errors into the three verification outcomes.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
