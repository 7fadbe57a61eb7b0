package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type sessionResponse struct {
	AccessToken string           `json:"accessToken"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	User        authcore.Profile `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type resetTokenResponse struct {
	Valid bool `json:"valid"`
}

// Signup handles POST /auth/signup.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req authcore.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	session, err := h.engine.Signup(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, session)
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req authcore.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	session, err := h.engine.Login(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

// Logout handles POST /auth/logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, h.engine.Logout)
}

// LogoutOAuth handles POST /auth/logout/oauth.
func (h *Handlers) LogoutOAuth(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, h.engine.LogoutOAuth)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, sessionID string) error) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := fn(r.Context(), res.UserID, h.cookieValue(r, h.cfg.HTTP.Cookie.SessionName)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// ForgotPassword handles POST /auth/forgot-password. The body is the same
// whether or not the account exists.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.engine.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ValidateResetToken handles GET /auth/reset-password/{token}.
func (h *Handlers) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ValidateResetToken(r.Context(), mux.Vars(r)["token"]); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resetTokenResponse{Valid: true})
}

// ResetPassword handles POST /auth/reset-password/{token}.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.engine.ResetPassword(r.Context(), mux.Vars(r)["token"], req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

// UserInfo handles GET /auth/user-info.
func (h *Handlers) UserInfo(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, res.Profile)
}

// Unlink handles POST /auth/unlink/{provider}.
func (h *Handlers) Unlink(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	profile, err := h.engine.UnlinkProvider(r.Context(), res.UserID, authcore.ProviderID(mux.Vars(r)["provider"]))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// RefreshToken handles POST /auth/refresh-token using the refresh cookie.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := h.cookieValue(r, h.cfg.HTTP.Cookie.RefreshName)
	if token == "" {
		middleware.WriteError(w, authcore.ErrRefreshInvalid)
		return
	}

	session, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

// BeginOAuth handles GET /auth/{provider}. A logged-in caller links the
// provider to their account instead of signing in.
func (h *Handlers) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	req := authcore.BeginOAuthRequest{
		SessionID: h.cookieValue(r, h.cfg.HTTP.Cookie.SessionName),
	}
	if res, ok := middleware.AuthResultFromContext(r.Context()); ok {
		req.LinkUserID = res.UserID
	}

	out, err := h.engine.BeginOAuth(r.Context(), authcore.ProviderID(mux.Vars(r)["provider"]), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionIDCookie(w, out.SessionID)
	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}

// OAuthCallback handles GET /auth/{provider}/callback. Failures redirect to
// the login page with the error code in the query.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := authcore.ProviderID(mux.Vars(r)["provider"])

	res, err := h.engine.CompleteOAuth(r.Context(), provider, authcore.CompleteOAuthRequest{
		SessionID:     h.cookieValue(r, h.cfg.HTTP.Cookie.SessionName),
		State:         q.Get("state"),
		Code:          q.Get("code"),
		ProviderError: q.Get("error"),
	})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"provider": provider,
			"code":     authcore.ErrorCode(err),
		}).Warn("oauth callback failed")
		http.Redirect(w, r, h.cfg.HTTP.LoginPath+"?error="+url.QueryEscape(authcore.ErrorCode(err)), http.StatusFound)
		return
	}

	h.setSessionCookies(w, res.Session)
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *Handlers) writeSession(w http.ResponseWriter, status int, s *authcore.Session) {
	h.setSessionCookies(w, s)
	writeJSON(w, status, sessionResponse{
		AccessToken: s.AccessToken,
		ExpiresAt:   s.AccessExpiresAt,
		User:        s.Profile,
	})
}
