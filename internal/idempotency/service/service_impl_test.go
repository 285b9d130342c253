package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/payrail/creditcore/internal/actorcontext"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	"github.com/payrail/creditcore/internal/idempotency/domain"
	"github.com/payrail/creditcore/internal/idempotency/repository"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestGuard(t *testing.T, ttl time.Duration) (domain.Guard, *gorm.DB, *snowflake.Node, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Record{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	guard := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewSystemClock(),
		Config: config.Config{IdempotencyPendingTTL: ttl},
		Repo:   repository.Provide(),
	})

	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{
		ID:   node.Generate(),
		Type: actorcontext.ActorTypeUser,
	})
	return guard, db, node, ctx
}

func TestExecute_RunsOperationOnce(t *testing.T) {
	guard, _, _, ctx := newTestGuard(t, time.Second)

	calls := 0
	op := func(ctx context.Context) (datatypes.JSONMap, error) {
		calls++
		return datatypes.JSONMap{"value": "first"}, nil
	}

	first, err := guard.Execute(ctx, "op-1", "credit.reserve", op)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, "first", first.Result["value"])

	replay, err := guard.Execute(ctx, "op-1", "credit.reserve", op)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "first", replay.Result["value"])
	assert.Equal(t, 1, calls)
}

func TestExecute_ConcurrentDuplicatesOneWinner(t *testing.T) {
	guard, _, _, ctx := newTestGuard(t, 2*time.Second)

	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})
	op := func(ctx context.Context) (datatypes.JSONMap, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return datatypes.JSONMap{"winner": true}, nil
	}

	const workers = 4
	outcomes := make([]domain.Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = guard.Execute(ctx, "dup-key", "credit.reserve", op)
		}(i)
	}

	// Let the winner claim, keep the losers polling, then let it finish.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	replayed := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, true, outcomes[i].Result["winner"])
		if outcomes[i].Replayed {
			replayed++
		}
	}
	assert.Equal(t, 1, calls, "exactly one execution")
	assert.Equal(t, workers-1, replayed, "everyone else replays the stored result")
}

func TestExecute_FailureReleasesClaim(t *testing.T) {
	guard, _, _, ctx := newTestGuard(t, time.Second)

	opErr := errors.New("downstream_unavailable")
	calls := 0
	_, err := guard.Execute(ctx, "retry-key", "credit.reserve", func(ctx context.Context) (datatypes.JSONMap, error) {
		calls++
		return nil, opErr
	})
	require.ErrorIs(t, err, opErr)

	// A failed attempt must not poison the key: the retry runs for real.
	outcome, err := guard.Execute(ctx, "retry-key", "credit.reserve", func(ctx context.Context) (datatypes.JSONMap, error) {
		calls++
		return datatypes.JSONMap{"ok": true}, nil
	})
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, 2, calls)
}

func TestExecute_DeadClaimIsTakenOver(t *testing.T) {
	ttl := 50 * time.Millisecond
	guard, db, node, ctx := newTestGuard(t, ttl)
	actor, ok := actorcontext.ActorFromContext(ctx)
	require.True(t, ok)
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	require.True(t, ok)

	// A claim whose holder died stops heartbeating; its updated_at freezes.
	record := domain.Record{
		ID:             node.Generate(),
		OrgID:          orgID,
		ActorID:        actor.ID,
		IdempotencyKey: "stale-key",
		Endpoint:       "credit.reserve",
		Status:         domain.StatusPending,
	}
	require.NoError(t, db.Create(&record).Error)
	crashed := time.Now().UTC().Add(-10 * ttl)
	require.NoError(t, db.Model(&domain.Record{}).
		Where("id = ?", record.ID).
		UpdateColumn("updated_at", crashed).Error)

	outcome, err := guard.Execute(ctx, "stale-key", "credit.reserve", func(ctx context.Context) (datatypes.JSONMap, error) {
		return datatypes.JSONMap{"from": "retry"}, nil
	})
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, "retry", outcome.Result["from"])
}

func TestExecute_SlowWinnerKeepsItsClaim(t *testing.T) {
	ttl := 50 * time.Millisecond
	guard, _, _, ctx := newTestGuard(t, ttl)

	var mu sync.Mutex
	calls := 0
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = guard.Execute(ctx, "slow-key", "bill.create", func(ctx context.Context) (datatypes.JSONMap, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(started)
			<-release
			return datatypes.JSONMap{"from": "winner"}, nil
		})
	}()
	<-started
	// Outlive the TTL several times over. The winner's heartbeat must keep
	// the claim fresh, so the duplicate may not take over and re-run the op.
	time.Sleep(4 * ttl)

	_, err := guard.Execute(ctx, "slow-key", "bill.create", func(ctx context.Context) (datatypes.JSONMap, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return datatypes.JSONMap{"from": "duplicate"}, nil
	})
	require.ErrorIs(t, err, domain.ErrInFlight)

	close(release)

	// Once the winner finishes, the same key replays its result.
	require.Eventually(t, func() bool {
		outcome, err := guard.Execute(ctx, "slow-key", "bill.create", func(ctx context.Context) (datatypes.JSONMap, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return datatypes.JSONMap{"from": "late"}, nil
		})
		return err == nil && outcome.Replayed && outcome.Result["from"] == "winner"
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "the slow winner is the only execution")
}

func TestExecute_Validation(t *testing.T) {
	guard, _, node, ctx := newTestGuard(t, time.Second)
	noop := func(ctx context.Context) (datatypes.JSONMap, error) {
		return datatypes.JSONMap{}, nil
	}

	_, err := guard.Execute(context.Background(), "k", "credit.reserve", noop)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = guard.Execute(orgcontext.WithOrgID(context.Background(), node.Generate()), "k", "credit.reserve", noop)
	assert.ErrorIs(t, err, domain.ErrInvalidActor)

	_, err = guard.Execute(ctx, "   ", "credit.reserve", noop)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}
