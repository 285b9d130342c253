package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/payrail/creditcore/internal/actorcontext"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	"github.com/payrail/creditcore/internal/journal/repository"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (journaldomain.Service, *snowflake.Node, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&journaldomain.JournalEntry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})

	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{
		ID:   node.Generate(),
		Type: actorcontext.ActorTypeUser,
	})
	return svc, node, ctx
}

func TestAppend_CreatesEntry(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerID := node.Generate()

	resp, err := svc.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     customerID,
		Kind:           journaldomain.KindCredit,
		Amount:         500,
		IdempotencyKey: "res-1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Created)
	assert.Equal(t, int64(500), resp.Entry.Amount)
	assert.Equal(t, journaldomain.KindCredit, resp.Entry.Kind)
	assert.NotZero(t, resp.Entry.ID)
}

func TestAppend_ReplayReturnsExistingEntry(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerID := node.Generate()

	first, err := svc.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     customerID,
		Kind:           journaldomain.KindCredit,
		Amount:         500,
		IdempotencyKey: "res-1",
	})
	require.NoError(t, err)
	require.True(t, first.Created)

	// Same actor, same key: the original row comes back, no second append.
	replay, err := svc.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     customerID,
		Kind:           journaldomain.KindCredit,
		Amount:         999,
		IdempotencyKey: "res-1",
	})
	require.NoError(t, err)
	assert.False(t, replay.Created)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)
	assert.Equal(t, int64(500), replay.Entry.Amount)

	sum, err := svc.SumOutstanding(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)
}

func TestAppend_SameKeyDifferentActors(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerID := node.Generate()

	_, err := svc.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     customerID,
		Kind:           journaldomain.KindCredit,
		Amount:         100,
		IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)

	// A different actor reusing the key is an independent movement.
	otherCtx := actorcontext.WithActor(ctx, actorcontext.Actor{
		ID:   node.Generate(),
		Type: actorcontext.ActorTypeUser,
	})
	resp, err := svc.Append(otherCtx, journaldomain.AppendRequest{
		CustomerID:     customerID,
		Kind:           journaldomain.KindCredit,
		Amount:         200,
		IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)
	assert.True(t, resp.Created)

	sum, err := svc.SumOutstanding(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), sum)
}

func TestAppend_Validation(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerID := node.Generate()

	tests := []struct {
		name        string
		ctx         context.Context
		req         journaldomain.AppendRequest
		expectedErr error
	}{
		{
			name:        "missing organization",
			ctx:         context.Background(),
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: journaldomain.KindCredit, Amount: 1, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidOrganization,
		},
		{
			name:        "missing actor",
			ctx:         orgcontext.WithOrgID(context.Background(), node.Generate()),
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: journaldomain.KindCredit, Amount: 1, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidActor,
		},
		{
			name:        "missing customer",
			ctx:         ctx,
			req:         journaldomain.AppendRequest{Kind: journaldomain.KindCredit, Amount: 1, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidCustomer,
		},
		{
			name:        "zero amount",
			ctx:         ctx,
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: journaldomain.KindCredit, Amount: 0, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidAmount,
		},
		{
			name:        "negative amount",
			ctx:         ctx,
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: journaldomain.KindDebit, Amount: -5, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidAmount,
		},
		{
			name:        "unknown kind",
			ctx:         ctx,
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: "transfer", Amount: 1, IdempotencyKey: "k"},
			expectedErr: journaldomain.ErrInvalidKind,
		},
		{
			name:        "blank key",
			ctx:         ctx,
			req:         journaldomain.AppendRequest{CustomerID: customerID, Kind: journaldomain.KindCredit, Amount: 1, IdempotencyKey: "   "},
			expectedErr: journaldomain.ErrInvalidKey,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(tc.ctx, tc.req)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestSumOutstanding_NetsCreditsAndDebits(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerID := node.Generate()

	appends := []struct {
		kind   journaldomain.EntryKind
		amount int64
		key    string
	}{
		{journaldomain.KindCredit, 1000, "res-1"},
		{journaldomain.KindCredit, 250, "res-2"},
		{journaldomain.KindDebit, 400, "rel-1"},
	}
	for _, a := range appends {
		_, err := svc.Append(ctx, journaldomain.AppendRequest{
			CustomerID:     customerID,
			Kind:           a.kind,
			Amount:         a.amount,
			IdempotencyKey: a.key,
		})
		require.NoError(t, err)
	}

	sum, err := svc.SumOutstanding(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(850), sum)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	svc, node, ctx := newTestService(t)
	customerA := node.Generate()
	customerB := node.Generate()

	for i, key := range []string{"a-1", "a-2", "a-3"} {
		_, err := svc.Append(ctx, journaldomain.AppendRequest{
			CustomerID:     customerA,
			Kind:           journaldomain.KindCredit,
			Amount:         int64(100 * (i + 1)),
			IdempotencyKey: key,
		})
		require.NoError(t, err)
	}
	_, err := svc.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     customerB,
		Kind:           journaldomain.KindDebit,
		Amount:         50,
		IdempotencyKey: "b-1",
	})
	require.NoError(t, err)

	resp, err := svc.List(ctx, journaldomain.ListJournalRequest{
		CustomerID: customerA.String(),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 3)
	for _, entry := range resp.Entries {
		assert.Equal(t, customerA, entry.CustomerID)
	}

	byKind, err := svc.List(ctx, journaldomain.ListJournalRequest{
		Kind: string(journaldomain.KindDebit),
	})
	require.NoError(t, err)
	assert.Len(t, byKind.Entries, 1)
	assert.Equal(t, customerB, byKind.Entries[0].CustomerID)
}
