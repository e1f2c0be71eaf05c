package clinicguard

import (
	"context"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/google/uuid"
)

type identityContextKey struct{}

// WithIdentity attaches a validated identity to ctx for downstream
// handlers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by [WithIdentity].
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// WithCorrelationID tags ctx so audit events of one request share an id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return audit.WithCorrelationID(ctx, id)
}

// CorrelationID returns the correlation id of ctx, if any.
func CorrelationID(ctx context.Context) string {
	return audit.CorrelationID(ctx)
}

// NewCorrelationID returns a random id for a request that did not bring
// one.
func NewCorrelationID() string {
	return uuid.NewString()
}
