package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/hublink/hublink/internal/flow"
	"github.com/hublink/hublink/internal/session"
	"github.com/hublink/hublink/internal/utils"
)

// identityContextKey is the key type for the request context
type identityContextKey string

const identityKey identityContextKey = "identity"

// IdentityFromContext returns the verified identity injected by
// RequireSession, if any.
func IdentityFromContext(ctx context.Context) (flow.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(flow.Identity)
	return identity, ok
}

// RequireSession verifies the signed session context and injects the
// identity it carries into the request context. Requests without a
// verifiable session are rejected; no handler behind this middleware
// ever trusts client-supplied identity fields.
func RequireSession(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				utils.WriteError(w, "unauthorized", "Session required", http.StatusUnauthorized)
				return
			}

			identity, err := sessions.Verify(token)
			if err != nil {
				utils.WriteError(w, "invalid_session", "Session is invalid or expired", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORSWithOrigins returns a CORS middleware allowing the given origins.
func CORSWithOrigins(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			case origin != "" && allowed["*"]:
				// Wildcard never carries credentials: a credentialed
				// response reflected to arbitrary origins would let any
				// site read it.
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractSessionToken pulls the session token from the Authorization
// header or, for the browser popup flow, the session cookie.
func extractSessionToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if cookie, err := r.Cookie(session.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
