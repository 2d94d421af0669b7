package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sydlexius/coremonitor/internal/auth"
)

type contextKey string

const (
	identityKey   contextKey = "identity"
	authMethodKey contextKey = "authMethod"
)

// SessionCookie is the name of the login session cookie.
const SessionCookie = "session"

// Authenticator resolves session and API tokens to an identity.
type Authenticator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Identity, error)
	ValidateAPIToken(ctx context.Context, token string) (*auth.Identity, error)
}

// OptionalAuth returns middleware that populates the identity if a valid
// session or token exists but does not reject unauthenticated requests. Use
// this for pages that change behavior based on auth state.
func OptionalAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := authenticate(r, a); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth returns middleware that requires a valid session or API token.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := authenticate(r, a)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability returns middleware that rejects identities lacking c.
// It must run after Auth.
func RequireCapability(c auth.Capability) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil || !id.Role.Can(c) {
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// UserIDFromContext extracts the authenticated user ID from the context.
func UserIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}

// AuthMethodFromContext returns "session" or "api_token".
func AuthMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(authMethodKey).(string); ok {
		return v
	}
	return ""
}

func authenticate(r *http.Request, a Authenticator) (context.Context, bool) {
	token := extractToken(r)
	if token == "" {
		return nil, false
	}

	var (
		id     *auth.Identity
		err    error
		method = "session"
	)
	if strings.HasPrefix(token, auth.APITokenPrefix) {
		method = "api_token"
		id, err = a.ValidateAPIToken(r.Context(), token)
	} else {
		id, err = a.ValidateSession(r.Context(), token)
	}
	if err != nil || id == nil {
		return nil, false
	}

	ctx := context.WithValue(r.Context(), identityKey, id)
	ctx = context.WithValue(ctx, authMethodKey, method)
	return ctx, true
}

func extractToken(r *http.Request) string {
	// Cookie first (web UI)
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	// Authorization header (CLI and API clients)
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}` + "\n"))
}
