package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
)

func (h *Handlers) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *Handlers) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := h.cfg.HTTP.Cookie
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

// setSessionCookies sets the access and refresh cookies. The access cookie
// lives for Cookie.TTL, or the access token lifetime when unset.
func (h *Handlers) setSessionCookies(w http.ResponseWriter, s *authcore.Session) {
	accessTTL := h.cfg.HTTP.Cookie.TTL
	if accessTTL == 0 {
		accessTTL = h.cfg.JWT.AccessTTL
	}
	http.SetCookie(w, h.cookie(h.cfg.HTTP.Cookie.AccessName, s.AccessToken, accessTTL))
	http.SetCookie(w, h.cookie(h.cfg.HTTP.Cookie.RefreshName, s.RefreshToken, h.cfg.JWT.RefreshTTL))
}

// setSessionIDCookie sets the browser-session cookie. It has no Max-Age and
// ends with the browser session.
func (h *Handlers) setSessionIDCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, h.cookie(h.cfg.HTTP.Cookie.SessionName, sid, 0))
}

func (h *Handlers) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{
		h.cfg.HTTP.Cookie.AccessName,
		h.cfg.HTTP.Cookie.RefreshName,
		h.cfg.HTTP.Cookie.SessionName,
	} {
		c := h.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
