package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/payrail/creditcore/internal/actorcontext"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	auditrepository "github.com/payrail/creditcore/internal/audit/repository"
	auditservice "github.com/payrail/creditcore/internal/audit/service"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	creditrepository "github.com/payrail/creditcore/internal/credit/repository"
	creditservice "github.com/payrail/creditcore/internal/credit/service"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	customerrepository "github.com/payrail/creditcore/internal/customer/repository"
	idempotencydomain "github.com/payrail/creditcore/internal/idempotency/domain"
	idempotencyrepository "github.com/payrail/creditcore/internal/idempotency/repository"
	idempotencyservice "github.com/payrail/creditcore/internal/idempotency/service"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	journalrepository "github.com/payrail/creditcore/internal/journal/repository"
	journalservice "github.com/payrail/creditcore/internal/journal/service"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/payrail/creditcore/internal/payment/domain"
	"github.com/payrail/creditcore/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc       domain.Service
	customers customerdomain.Repository
	db        *gorm.DB
	node      *snowflake.Node
	ctx       context.Context
	orgID     snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&journaldomain.JournalEntry{},
		&auditdomain.AuditEvent{},
		&idempotencydomain.Record{},
		&domain.Payment{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	log := zap.NewNop()

	journal := journalservice.New(journalservice.Params{
		DB: db, Log: log, GenID: node, Repo: journalrepository.Provide(),
	})
	audit := auditservice.New(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(),
	})
	customers := customerrepository.Provide()
	credit := creditservice.New(creditservice.Params{
		DB: db, Log: log, Repo: creditrepository.Provide(),
		Customers: customers, Journal: journal, Audit: audit,
	})
	guard := idempotencyservice.New(idempotencyservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.NewSystemClock(),
		Config: config.Config{IdempotencyPendingTTL: time.Second},
		Repo:   idempotencyrepository.Provide(),
	})
	svc := New(Params{
		DB: db, Log: log, GenID: node, Repo: repository.Provide(),
		Credit: credit, Guard: guard,
	})

	orgID := node.Generate()
	ctx := orgcontext.WithOrgID(context.Background(), orgID)
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{
		ID:   node.Generate(),
		Type: actorcontext.ActorTypeUser,
	})

	return &fixture{svc: svc, customers: customers, db: db, node: node, ctx: ctx, orgID: orgID}
}

func (f *fixture) seedCustomer(t *testing.T, outstanding int64) snowflake.ID {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:           f.node.Generate(),
		OrgID:        f.orgID,
		Name:         "Acme Widgets",
		Email:        "billing@acme.test",
		Outstanding:  outstanding,
		LimitEnabled: true,
		LimitAmount:  10000,
	}
	require.NoError(t, f.customers.Insert(f.ctx, f.db, customer))
	return customer.ID
}

func (f *fixture) outstanding(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	customer, err := f.customers.FindByID(f.ctx, f.db, f.orgID, id)
	require.NoError(t, err)
	require.NotNil(t, customer)
	return customer.Outstanding
}

func TestRecord_ReleasesOutstanding(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 800)

	resp, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         300,
		IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	assert.False(t, resp.Replayed)
	assert.True(t, resp.Decision.Success)
	assert.Equal(t, int64(500), f.outstanding(t, customerID))
}

func TestRecord_DuplicateKeyReplays(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 800)

	first, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         300,
		IdempotencyKey: "pay-dup",
	})
	require.NoError(t, err)
	require.NotNil(t, first.Payment)

	second, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         300,
		IdempotencyKey: "pay-dup",
	})
	require.NoError(t, err)
	require.NotNil(t, second.Payment)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	// One payment row, one debit, balance moved once.
	assert.Equal(t, int64(500), f.outstanding(t, customerID))
	var rows int64
	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("customer_id = ?", customerID).
		Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRecord_OverpaymentClampsAtZero(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 100)

	resp, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         500,
		IdempotencyKey: "pay-over",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	assert.True(t, resp.Decision.Success)
	assert.Equal(t, int64(0), f.outstanding(t, customerID))

	var anomalies int64
	require.NoError(t, f.db.Model(&auditdomain.AuditEvent{}).
		Where("org_id = ? AND action = ?", f.orgID, auditdomain.DecisionAnomaly).
		Count(&anomalies).Error)
	assert.Equal(t, int64(1), anomalies)
}

func TestRecord_Validation(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 100)

	_, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		Amount:         100,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)

	_, err = f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         0,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         100,
		IdempotencyKey: "",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = f.svc.Record(context.Background(), domain.RecordPaymentRequest{
		CustomerID:     customerID,
		Amount:         100,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestList_ByCustomer(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 1000)

	for _, key := range []string{"pay-l1", "pay-l2"} {
		_, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
			CustomerID:     customerID,
			Amount:         100,
			IdempotencyKey: key,
		})
		require.NoError(t, err)
	}

	resp, err := f.svc.List(f.ctx, domain.ListPaymentRequest{
		CustomerID: customerID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Payments, 2)
}
