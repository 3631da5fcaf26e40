package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zktools/zk-tools/internal/authn"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// SessionCookie carries the signed session token.
const SessionCookie = "zk_session"

// WithLogger adds a logger to the context and logs request information.
func WithLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			logger := log.With().
				Str("host", r.Host).
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Str("remote_addr", r.RemoteAddr).
				Time("timestamp", time.Now()).
				Logger()

			// Add the logger to the context
			ctx := logger.WithContext(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		},
	)
}

// ClaimsFromContext returns the session claims stored by Sessions.
func ClaimsFromContext(ctx context.Context) (authn.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(authn.Claims)
	return claims, ok
}

// SetSessionCookie writes token as the session cookie.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Sessions parses the session cookie and adds its claims to the request
// context. Requests without a valid cookie get a fresh anonymous session.
func Sessions(signer *authn.Signer, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				logger := zerolog.Ctx(r.Context()).With().
					Str("handler", "Sessions").Logger()

				var claims authn.Claims
				cookie, err := r.Cookie(SessionCookie)
				if err == nil {
					claims, err = signer.Parse(cookie.Value)
					if err != nil {
						logger.Debug().Err(err).Msg("discarding session cookie")
					}
				}

				if err != nil {
					var token string
					token, claims, err = signer.Issue("", "", false, false)
					if err != nil {
						logger.Error().Err(err).Msg("failed to issue session")
						http.Error(w, "failed to start session", http.StatusInternalServerError)
						return
					}
					SetSessionCookie(w, token, ttl)
				}

				sessionLogger := zerolog.Ctx(r.Context()).With().
					Str("session", claims.SessionID()).
					Str("operator", claims.Operator).
					Logger()

				ctx := context.WithValue(r.Context(), ClaimsKey, claims)
				ctx = sessionLogger.WithContext(ctx)

				next.ServeHTTP(w, r.WithContext(ctx))
			},
		)
	}
}

// RequireLogin rejects anonymous sessions when enabled is true. Browser
// requests are sent to the login page; /api requests get a 401.
func RequireLogin(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if !enabled {
					next.ServeHTTP(w, r)
					return
				}

				claims, ok := ClaimsFromContext(r.Context())
				if ok && claims.Authenticated {
					next.ServeHTTP(w, r)
					return
				}

				zerolog.Ctx(r.Context()).Debug().Msg("login required")
				if strings.HasPrefix(r.URL.Path, "/api/") {
					http.Error(w, "login required", http.StatusUnauthorized)
					return
				}

				target := "/auth/login?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusSeeOther)
			},
		)
	}
}

// RequireAdmin only lets sessions of admin operators through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.Authenticated || !claims.Admin {
				zerolog.Ctx(r.Context()).Warn().Str("operator", claims.Operator).Msg("admin access denied")
				http.Error(w, "forbidden: administrator use only", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		},
	)
}
