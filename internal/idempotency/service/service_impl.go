package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/actorcontext"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	"github.com/payrail/creditcore/internal/idempotency/domain"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	"github.com/payrail/creditcore/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pollInterval = 25 * time.Millisecond

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Repo    domain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	metrics    *obsmetrics.Metrics
	pendingTTL time.Duration
}

func New(p Params) domain.Guard {
	ttl := p.Config.IdempotencyPendingTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("idempotency.guard"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		metrics:    p.Metrics,
		pendingTTL: ttl,
	}
}

// Execute claims the (actor, key) pair and runs op at most once. A duplicate
// arriving after completion replays the stored result; a duplicate arriving
// while the winner is still running waits for it. The winner heartbeats its
// claim while op runs, so a claim whose updated_at outlived the TTL means
// the holding process died and the claim is taken over.
func (s *Service) Execute(ctx context.Context, key, endpoint string, op domain.Operation) (domain.Outcome, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Outcome{}, domain.ErrInvalidOrganization
	}
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return domain.Outcome{}, domain.ErrInvalidActor
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Outcome{}, domain.ErrInvalidKey
	}

	deadline := s.clock.Now().Add(s.pendingTTL)
	for {
		now := s.clock.Now()
		record := &domain.Record{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			ActorID:        actor.ID,
			IdempotencyKey: key,
			Endpoint:       endpoint,
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.repo.InsertPendingIgnoreDuplicate(ctx, s.db, record)
		if err != nil {
			return domain.Outcome{}, err
		}
		if inserted {
			return s.run(ctx, record.ID, key, op)
		}

		existing, err := s.repo.FindByActorKey(ctx, s.db, actor.ID, key)
		if err != nil {
			return domain.Outcome{}, err
		}
		if existing == nil {
			// The previous holder failed and released between our insert and
			// fetch. Claim again.
			continue
		}
		if existing.Status == domain.StatusCompleted {
			if s.metrics != nil {
				s.metrics.RecordIdempotencyReplay(ctx, endpoint)
			}
			s.log.Debug("idempotent replay",
				zap.String("actor_id", actor.ID.String()),
				zap.String("idempotency_key", key),
				zap.String("endpoint", endpoint),
			)
			return domain.Outcome{Result: existing.Result, Replayed: true}, nil
		}

		if existing.Stale(now, s.pendingTTL) {
			won, err := s.repo.TakeOverStale(ctx, s.db, existing.ID, now.Add(-s.pendingTTL), now)
			if err != nil {
				return domain.Outcome{}, err
			}
			if won {
				s.log.Warn("took over stale idempotency claim",
					zap.String("idempotency_key", key),
					zap.String("endpoint", endpoint),
					zap.Time("claimed_at", existing.UpdatedAt),
				)
				return s.run(ctx, existing.ID, key, op)
			}
		}

		if s.clock.Now().After(deadline) {
			return domain.Outcome{}, domain.ErrInFlight
		}
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Service) run(ctx context.Context, recordID snowflake.ID, key string, op domain.Operation) (domain.Outcome, error) {
	stopHeartbeat := s.keepAlive(ctx, recordID, key)
	result, err := op(ctx)
	stopHeartbeat()
	if err != nil {
		// Drop the claim so the caller's retry starts fresh instead of
		// replaying a failure.
		if releaseErr := s.repo.Release(ctx, s.db, recordID); releaseErr != nil {
			s.log.Error("failed to release pending idempotency claim",
				zap.String("idempotency_key", key),
				zap.Error(releaseErr),
			)
		}
		return domain.Outcome{}, err
	}

	if result == nil {
		result = datatypes.JSONMap{}
	}
	if err := s.repo.Complete(ctx, s.db, recordID, result, s.clock.Now()); err != nil {
		// The side effect is already durable; losing the marker only costs
		// dedupe on a later retry, so surface the result regardless.
		s.log.Warn("failed to mark idempotency record completed",
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
	}
	return domain.Outcome{Result: result, Replayed: false}, nil
}

// keepAlive refreshes the pending claim while the operation runs. An op that
// is merely slow must never look abandoned: losing the claim mid-flight would
// let a duplicate re-run the side effect. Only a process that stops
// heartbeating for a full TTL is eligible for takeover.
func (s *Service) keepAlive(ctx context.Context, recordID snowflake.ID, key string) func() {
	interval := s.pendingTTL / 3
	if interval < pollInterval {
		interval = pollInterval
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				alive, err := s.repo.Touch(ctx, s.db, recordID, s.clock.Now())
				if err != nil {
					s.log.Warn("idempotency claim heartbeat failed",
						zap.String("idempotency_key", key),
						zap.Error(err),
					)
					continue
				}
				if !alive {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
