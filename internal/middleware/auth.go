package middleware

import (
	"log/slog"
	"net/http"

	"github.com/viralgo/credits/internal/auth"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Verifier TokenVerifier
}

// Auth returns a middleware that authenticates API requests.
// It extracts the session token from the Authorization header,
// verifies it, and injects the principal into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var p *auth.Principal
				p, err = cfg.Verifier.Verify(token)
				if err == nil {
					setLogUserID(r.Context(), p.UserID)
					ctx := auth.ContextWithPrincipal(r.Context(), p)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			cfg.Logger.Warn("authentication failed",
				slog.String("reason", err.Error()),
				slog.String("ip", r.RemoteAddr),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			writeAuthError(w)
		})
	}
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized","code":"UNAUTHORIZED"}`))
}
