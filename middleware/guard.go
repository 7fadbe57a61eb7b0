package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the user attached by [Guard] or [Optional].
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok && res != nil
}

// WithAuthResult attaches res to ctx.
func WithAuthResult(ctx context.Context, res *authcore.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard rejects requests without a valid access token with 401 and a JSON
// error body. The token is read from the access cookie, falling back to an
// Authorization: Bearer header.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			res, err := engine.Authenticate(r.Context(), accessToken(engine, r))
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// Optional attaches the user when a valid access token is present and
// passes every request through.
func Optional(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine != nil {
				if token := accessToken(engine, r); token != "" {
					if res, err := engine.Authenticate(r.Context(), token); err == nil {
						r = r.WithContext(WithAuthResult(r.Context(), res))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessToken(engine *authcore.Engine, r *http.Request) string {
	if c, err := r.Cookie(engine.Config().HTTP.Cookie.AccessName); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// WriteError renders err as a JSON {error, message} body with the status
// from [authcore.HTTPStatus]. Rate-limit errors also set Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	var rl *authcore.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authcore.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   authcore.ErrorCode(err),
		"message": authcore.PublicMessage(err),
	})
}
