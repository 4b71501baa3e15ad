package auth

import (
	"context"

	"copyflow.org/internal/workflow"
)

// Identity is the resolved acting user threaded explicitly through every
// core call. Never read from ambient globals.
type Identity struct {
	UserID string        `json:"user_id"`
	Name   string        `json:"name"`
	Role   workflow.Role `json:"role"`
	OrgID  string        `json:"org_id"`
}

// IsAdmin reports whether the identity holds the Admin role.
func (id Identity) IsAdmin() bool { return id.Role == workflow.RoleAdmin }

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
