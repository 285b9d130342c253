// Package actorcontext carries the authenticated business actor through the
// request context. Authentication itself happens upstream; the core only
// consumes the identity it is handed.
package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type actorKey struct{}

// Actor is the identity every mutating operation is attributed to. The
// (ActorID, idempotency key) pair scopes dedupe and journal uniqueness.
type Actor struct {
	ID   snowflake.ID
	Type string
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// WithActor stores the acting identity in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting identity, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.ID == 0 {
		return Actor{}, false
	}
	if strings.TrimSpace(actor.Type) == "" {
		actor.Type = ActorTypeUser
	}
	return actor, true
}
