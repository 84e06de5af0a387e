package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

type claimsKey struct{}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.UserID, true
}

// ActorFromContext returns the authenticated operator as an audit actor, or
// the system actor when the request is unauthenticated.
func ActorFromContext(ctx context.Context) domain.Actor {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return domain.SystemActor
	}
	id := c.UserID
	return domain.Actor{UserID: &id, Role: c.Role}
}
