// Package auth authenticates callers from identity-provider session tokens.
package auth

import (
	"context"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// principalContextKey is the context key for storing Principal.
	principalContextKey contextKey = "principal"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}

// ContextWithPrincipal adds Principal to the context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves Principal from the context.
// Returns nil if not present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// MustPrincipalFromContext retrieves Principal from the context.
// Panics if not present (use only when auth middleware has run).
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p := PrincipalFromContext(ctx)
	if p == nil {
		panic("principal not found - ensure auth middleware is applied")
	}
	return p
}

// UserIDFromContext is a convenience function to get user ID from context.
// Returns empty string if not authenticated.
func UserIDFromContext(ctx context.Context) string {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return ""
	}
	return p.UserID
}
