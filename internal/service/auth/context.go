package auth

import (
	"context"

	authmodel "github.com/zhouzirui/flowbot/backend/internal/model/auth"
)

type identityContextKey struct{}

// WithIdentity returns a new context carrying the signed-in identity.
func WithIdentity(ctx context.Context, identity *authmodel.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// FromContext returns the identity stored by the session middleware, or nil.
func FromContext(ctx context.Context) *authmodel.Identity {
	identity, ok := ctx.Value(identityContextKey{}).(*authmodel.Identity)
	if !ok {
		return nil
	}
	return identity
}
