package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/payrail/creditcore/internal/actorcontext"
	"github.com/payrail/creditcore/internal/orgcontext"
)

const (
	headerOrgID          = "X-Org-ID"
	headerActorID        = "X-Actor-Id"
	headerActorType      = "X-Actor-Type"
	headerIdempotencyKey = "X-Idempotency-Key"
)

// ActorRequired trusts the identity headers an upstream auth layer injected
// and makes them available to the services. Authentication itself happens
// before traffic reaches this process.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(headerOrgID)))
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		actorID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(headerActorID)))
		if err != nil || actorID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		actorType := strings.TrimSpace(c.GetHeader(headerActorType))
		if actorType != actorcontext.ActorTypeSystem {
			actorType = actorcontext.ActorTypeUser
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = actorcontext.WithActor(ctx, actorcontext.Actor{ID: actorID, Type: actorType})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// idempotencyKey takes the client key from the header or body field. A
// missing key falls back to a one-shot generated value: the request still
// runs under the guard, but a retry cannot be deduplicated, so the caller
// only gets best-effort semantics.
func (s *Server) idempotencyKey(c *gin.Context, bodyKey string) (key string, generated bool) {
	if k := strings.TrimSpace(c.GetHeader(headerIdempotencyKey)); k != "" {
		return k, false
	}
	if k := strings.TrimSpace(bodyKey); k != "" {
		return k, false
	}
	return "gen-" + ulid.Make().String(), true
}
