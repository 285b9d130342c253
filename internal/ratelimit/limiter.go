package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/payrail/creditcore/internal/actorcontext"
	"github.com/payrail/creditcore/internal/config"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MutationLimiter throttles money-affecting routes per actor. Failing open
// on limiter errors keeps Redis off the write path's critical dependencies.
type MutationLimiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	metrics *obsmetrics.Metrics
	rate    float64
	burst   int
	enabled bool
}

type LimiterParams struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Client  *redis.Client       `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewMutationLimiter(p LimiterParams) *MutationLimiter {
	cfg := p.Config.RateLimit
	limiter := &MutationLimiter{
		log:     p.Log.Named("ratelimit"),
		metrics: p.Metrics,
		rate:    cfg.ActorRate,
		burst:   cfg.ActorBurst,
		enabled: cfg.Enabled,
	}
	if cfg.Enabled && p.Client != nil {
		limiter.bucket = NewTokenBucket(p.Client)
	}
	return limiter
}

// Middleware enforces the per-actor allowance on the route it wraps.
func (l *MutationLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || !l.enabled || l.bucket == nil {
			c.Next()
			return
		}
		actor, ok := actorcontext.ActorFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		key := "ratelimit:actor:" + actor.ID.String()
		result, err := l.bucket.Allow(c.Request.Context(), key, l.rate, l.burst)
		if err != nil {
			l.log.Warn("rate limiter unavailable, failing open", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if l.metrics != nil {
				l.metrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath())
			}
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// NewRedisClient builds the shared client when either the limiter or the
// reconciliation lock needs one.
func NewRedisClient(cfg config.Config) *redis.Client {
	if !cfg.RateLimit.Enabled && !cfg.Reconcile.Enabled {
		return nil
	}
	addr := cfg.RateLimit.RedisAddr
	if addr == "" {
		addr = cfg.Reconcile.RedisAddr
	}
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
}
