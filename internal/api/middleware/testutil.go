package middleware

import (
	"context"

	"github.com/sydlexius/coremonitor/internal/auth"
)

// WithTestIdentity injects an identity into the context. This is intended for
// handler-level unit tests that call handler methods directly (bypassing the
// auth middleware). Production code should rely on the Auth or OptionalAuth
// middleware to populate this value.
func WithTestIdentity(ctx context.Context, id *auth.Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, authMethodKey, "session")
}
