package auth

import (
	"context"
	"strings"
)

// Identity captures the authenticated customer extracted from a commerce session token.
type Identity struct {
	CustomerID string
	Email      string

	// SessionToken is the raw token, forwarded to the commerce backend so
	// customer-scoped queries run against the right session.
	SessionToken string
}

// IsGuest reports whether the session belongs to an anonymous shopper.
func (i *Identity) IsGuest() bool {
	return i == nil || strings.TrimSpace(i.CustomerID) == ""
}

type contextKey string

const identityContextKey contextKey = "github.com/meridian-goods/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
