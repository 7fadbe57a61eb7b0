package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store  UserStore
	mailer Mailer

	descriptors map[ProviderID]oauth.Descriptor
	exchangers  map[ProviderID]oauth.Exchanger
	httpClient  *http.Client

	auditSink AuditSink
	logger    logrus.FieldLogger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config:      defaultConfig(),
		descriptors: make(map[ProviderID]oauth.Descriptor),
		exchangers:  make(map[ProviderID]oauth.Exchanger),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing rate limits and OAuth state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the credential store.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the reset-email transport.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithOAuthDescriptor overrides the built-in descriptor for provider. It
// is how self-hosted or test identity providers are wired.
func (b *Builder) WithOAuthDescriptor(provider ProviderID, d oauth.Descriptor) *Builder {
	b.descriptors[provider] = d
	return b
}

// WithOAuthExchanger registers a ready-made exchanger for provider, bypassing
// descriptor-based construction.
func (b *Builder) WithOAuthExchanger(provider ProviderID, ex oauth.Exchanger) *Builder {
	b.exchangers[provider] = ex
	return b
}

// WithHTTPClient sets the client used for provider calls.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithAuditSink sets the audit destination. Audit must also be enabled in config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for operational messages.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("user store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		store:     b.store,
		mailer:    b.mailer,
		providers: make(map[ProviderID]oauth.Exchanger),
		lockout:   lockoutPolicy{threshold: cfg.Lockout.Threshold, duration: cfg.Lockout.Duration},
		logger:    logger.WithField("component", "authcore"),
		now:       now,
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewBcrypt(password.Config{Cost: cfg.Password.BcryptCost})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	engine.policy = password.Policy{
		MinLength:     cfg.Password.MinLength,
		RequireUpper:  cfg.Password.RequireUpper,
		RequireLower:  cfg.Password.RequireLower,
		RequireDigit:  cfg.Password.RequireDigit,
		RequireSymbol: cfg.Password.RequireSymbol,
	}

	// Unknown emails are compared against this so timing matches a real account.
	filler, err := internal.NewToken()
	if err != nil {
		return nil, err
	}
	if engine.dummyHash, err = hasher.Hash(filler); err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		AccessSecret:  cloneBytes(cfg.JWT.AccessSecret),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- OAUTH --------
	for provider, creds := range cfg.OAuth.Providers {
		if creds.ClientID == "" {
			continue
		}
		desc, ok := b.descriptors[provider]
		if !ok {
			if desc, ok = oauth.Preset(string(provider)); !ok {
				return nil, fmt.Errorf("oauth provider %q has no descriptor", provider)
			}
		}
		p, err := oauth.NewProvider(desc, oauth.Credentials{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
		}, b.httpClient)
		if err != nil {
			return nil, err
		}
		engine.providers[provider] = p
	}
	for provider, ex := range b.exchangers {
		engine.providers[provider] = ex
	}
	engine.states = stores.NewOAuthStateStore(b.redis, cfg.OAuth.StateKeyPrefix).WithClock(now)

	// -------- RATE LIMITS --------
	if cfg.RateLimit.Enabled {
		var counter rate.Counter = rate.NewRedisCounter(b.redis)
		if cfg.RateLimit.Sliding {
			counter = rate.NewSlidingRedisCounter(b.redis, now)
		}
		engine.limiter = rate.New(counter, rate.Config{
			Policies: map[rate.Class]rate.Policy{
				rate.ClassLogin:        {Limit: cfg.RateLimit.Login.Limit, Window: cfg.RateLimit.Login.Window},
				rate.ClassResetRequest: {Limit: cfg.RateLimit.ResetRequest.Limit, Window: cfg.RateLimit.ResetRequest.Window},
				rate.ClassOAuthBegin:   {Limit: cfg.RateLimit.OAuthBegin.Limit, Window: cfg.RateLimit.OAuthBegin.Window},
			},
			FailOpen: cfg.RateLimit.FailOpen,
		})
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		BlockTimeout: cfg.Audit.BlockTimeout,
		Logger:       engine.logger,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}
