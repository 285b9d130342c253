package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	"github.com/payrail/creditcore/internal/customer/repository"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (customerdomain.Service, *snowflake.Node, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&customerdomain.Customer{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})

	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())
	return svc, node, ctx
}

func TestCreate_SetsDefaults(t *testing.T) {
	svc, _, ctx := newTestService(t)

	customer, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{
		Name:         "Acme Fuel",
		Email:        "billing@acme.test",
		LimitEnabled: true,
		LimitAmount:  1000,
		GraceAmount:  100,
	})
	require.NoError(t, err)
	assert.NotZero(t, customer.ID)
	assert.Equal(t, int64(0), customer.Outstanding)
	assert.Equal(t, int64(1100), customer.Threshold())
	assert.Equal(t, int64(1100), customer.Headroom())
	assert.False(t, customer.AllowOverride)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t)

	tests := []struct {
		name    string
		ctx     context.Context
		req     customerdomain.CreateCustomerRequest
		wantErr error
	}{
		{
			name:    "missing org",
			ctx:     context.Background(),
			req:     customerdomain.CreateCustomerRequest{Name: "A", Email: "a@b.test"},
			wantErr: customerdomain.ErrInvalidOrganization,
		},
		{
			name:    "empty name",
			ctx:     ctx,
			req:     customerdomain.CreateCustomerRequest{Email: "a@b.test"},
			wantErr: customerdomain.ErrInvalidName,
		},
		{
			name:    "bad email",
			ctx:     ctx,
			req:     customerdomain.CreateCustomerRequest{Name: "A", Email: "not-an-email"},
			wantErr: customerdomain.ErrInvalidEmail,
		},
		{
			name:    "negative limit",
			ctx:     ctx,
			req:     customerdomain.CreateCustomerRequest{Name: "A", Email: "a@b.test", LimitAmount: -1},
			wantErr: customerdomain.ErrInvalidLimit,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(tc.ctx, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestGetByID_NotFound(t *testing.T) {
	svc, node, ctx := newTestService(t)

	_, err := svc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: node.Generate().String()})
	assert.ErrorIs(t, err, customerdomain.ErrNotFound)
}

func TestUpdateLimits_ChangesConfigOnly(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{
		Name:         "Acme Fuel",
		Email:        "billing@acme.test",
		LimitEnabled: true,
		LimitAmount:  1000,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateLimits(ctx, customerdomain.UpdateLimitsRequest{
		ID: created.ID.String(),
		Limits: customerdomain.LimitConfig{
			LimitEnabled:  true,
			LimitAmount:   2000,
			GraceAmount:   250,
			AllowOverride: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), updated.LimitAmount)
	assert.Equal(t, int64(250), updated.GraceAmount)
	assert.True(t, updated.AllowOverride)
	// the cached balance is untouched by config changes
	assert.Equal(t, created.Outstanding, updated.Outstanding)
}

func TestUpdateLimits_Validation(t *testing.T) {
	svc, node, ctx := newTestService(t)

	_, err := svc.UpdateLimits(ctx, customerdomain.UpdateLimitsRequest{
		ID:     node.Generate().String(),
		Limits: customerdomain.LimitConfig{LimitAmount: -5},
	})
	assert.ErrorIs(t, err, customerdomain.ErrInvalidLimit)

	_, err = svc.UpdateLimits(ctx, customerdomain.UpdateLimitsRequest{
		ID:     node.Generate().String(),
		Limits: customerdomain.LimitConfig{LimitAmount: 100},
	})
	assert.ErrorIs(t, err, customerdomain.ErrNotFound)

	_, err = svc.UpdateLimits(ctx, customerdomain.UpdateLimitsRequest{
		ID:     "abc",
		Limits: customerdomain.LimitConfig{LimitAmount: 100},
	})
	assert.ErrorIs(t, err, customerdomain.ErrInvalidID)
}

func TestList_FiltersByEmail(t *testing.T) {
	svc, _, ctx := newTestService(t)

	for _, email := range []string{"one@acme.test", "two@acme.test"} {
		_, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{Name: "N", Email: email})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, customerdomain.ListCustomerRequest{Email: "one@acme.test"})
	require.NoError(t, err)
	require.Len(t, resp.Customers, 1)
	assert.Equal(t, "one@acme.test", resp.Customers[0].Email)
}
