package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Options configures [NewRouter].
type Options struct {
	Logger logrus.FieldLogger
	// Registry, when set, receives HTTP request metrics and is served at
	// /metrics.
	Registry *prometheus.Registry
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func(r *http.Request) error
}

// Handlers serves the authentication endpoints.
type Handlers struct {
	engine *authcore.Engine
	cfg    authcore.Config
	logger logrus.FieldLogger
}

// NewHandlers returns handlers bound to engine.
func NewHandlers(engine *authcore.Engine, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		engine: engine,
		cfg:    engine.Config(),
		logger: logger.WithField("component", "httpapi"),
	}
}

// NewRouter returns a router with every endpoint, request logging, client IP
// extraction and, when configured, Prometheus metrics.
func NewRouter(engine *authcore.Engine, opts Options) *mux.Router {
	h := NewHandlers(engine, opts.Logger)

	r := mux.NewRouter()
	r.Use(clientIPMiddleware(h.cfg.Security.TrustProxyHeaders))
	r.Use(loggingMiddleware(h.logger))
	if opts.Registry != nil {
		r.Use(newRequestMetrics(opts.Registry).middleware)
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", healthz(opts.Ready)).Methods(http.MethodGet)

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the /auth endpoints. Fixed paths are registered
// before /auth/{provider} so they win the match.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	guard := middleware.Guard(h.engine)
	optional := middleware.Optional(h.engine)

	r.HandleFunc("/auth/signup", h.Signup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.Handle("/auth/logout", guard(http.HandlerFunc(h.Logout))).Methods(http.MethodPost)
	r.Handle("/auth/logout/oauth", guard(http.HandlerFunc(h.LogoutOAuth))).Methods(http.MethodPost)
	r.HandleFunc("/auth/forgot-password", h.ForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password/{token}", h.ValidateResetToken).Methods(http.MethodGet)
	r.HandleFunc("/auth/reset-password/{token}", h.ResetPassword).Methods(http.MethodPost)
	r.Handle("/auth/user-info", guard(http.HandlerFunc(h.UserInfo))).Methods(http.MethodGet)
	r.Handle("/auth/unlink/{provider}", guard(http.HandlerFunc(h.Unlink))).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh-token", h.RefreshToken).Methods(http.MethodPost)

	r.Handle("/auth/{provider}", optional(http.HandlerFunc(h.BeginOAuth))).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/callback", h.OAuthCallback).Methods(http.MethodGet)
}

func healthz(ready func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
