package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/payrail/creditcore/internal/actorcontext"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	auditrepository "github.com/payrail/creditcore/internal/audit/repository"
	auditservice "github.com/payrail/creditcore/internal/audit/service"
	"github.com/payrail/creditcore/internal/bill/domain"
	"github.com/payrail/creditcore/internal/bill/repository"
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
		&domain.Bill{},
	))

	node, err := snowflake.NewNode(4)
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

func (f *fixture) seedCustomer(t *testing.T, outstanding, limit int64) snowflake.ID {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:           f.node.Generate(),
		OrgID:        f.orgID,
		Name:         "Acme Widgets",
		Email:        "billing@acme.test",
		Outstanding:  outstanding,
		LimitEnabled: true,
		LimitAmount:  limit,
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

func TestCreate_ReservesAndWritesBill(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 0, 1000)

	resp, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         400,
		IdempotencyKey: "bill-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Bill)
	assert.False(t, resp.Replayed)
	assert.Equal(t, domain.StatusOpen, resp.Bill.Status)
	assert.True(t, resp.Decision.Success)
	assert.Equal(t, int64(400), f.outstanding(t, customerID))
}

func TestCreate_DuplicateKeyReplaysOriginalBill(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 0, 1000)

	first, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         400,
		IdempotencyKey: "bill-dup",
	})
	require.NoError(t, err)
	require.NotNil(t, first.Bill)

	second, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         400,
		IdempotencyKey: "bill-dup",
	})
	require.NoError(t, err)
	require.NotNil(t, second.Bill)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Bill.ID, second.Bill.ID)

	// The replay must not have reserved again or written a second row.
	assert.Equal(t, int64(400), f.outstanding(t, customerID))
	var billRows int64
	require.NoError(t, f.db.Model(&domain.Bill{}).
		Where("customer_id = ?", customerID).
		Count(&billRows).Error)
	assert.Equal(t, int64(1), billRows)
	var journalRows int64
	require.NoError(t, f.db.Model(&journaldomain.JournalEntry{}).
		Where("customer_id = ?", customerID).
		Count(&journalRows).Error)
	assert.Equal(t, int64(1), journalRows)
}

func TestCreate_BlockedDecisionStoresNoBill(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 900, 1000)

	resp, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         200,
		IdempotencyKey: "bill-blocked",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Bill)
	assert.True(t, resp.Decision.Blocked)
	assert.Equal(t, int64(100), resp.Decision.Details.Headroom)
	assert.Equal(t, int64(900), f.outstanding(t, customerID))

	// Retrying the same key replays the refusal verbatim.
	replay, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         200,
		IdempotencyKey: "bill-blocked",
	})
	require.NoError(t, err)
	assert.Nil(t, replay.Bill)
	assert.True(t, replay.Decision.Blocked)
	assert.True(t, replay.Replayed)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 0, 1000)

	_, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		Amount:         100,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)

	_, err = f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         0,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         100,
		IdempotencyKey: " ",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

type failingRepo struct {
	domain.Repository
	err error
}

func (f *failingRepo) Insert(ctx context.Context, db *gorm.DB, bill *domain.Bill) error {
	return f.err
}

func TestCreate_InsertFailureRollsBackReservation(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 250, 1000)

	insertErr := errors.New("disk_full")
	broken := &Service{
		db:     f.svc.(*Service).db,
		log:    zap.NewNop(),
		genID:  f.node,
		repo:   &failingRepo{Repository: repository.Provide(), err: insertErr},
		credit: f.svc.(*Service).credit,
		guard:  f.svc.(*Service).guard,
	}

	_, err := broken.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         400,
		IdempotencyKey: "bill-fail",
	})
	require.ErrorIs(t, err, insertErr)
	// The ROLLBACK release restored the pre-reserve balance.
	assert.Equal(t, int64(250), f.outstanding(t, customerID))

	// The failed attempt did not poison the key: a retry succeeds for real.
	resp, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         400,
		IdempotencyKey: "bill-fail",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Bill)
	assert.Equal(t, int64(650), f.outstanding(t, customerID))
}

func TestGetByID_AndList(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, 0, 10000)

	created, err := f.svc.Create(f.ctx, domain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         100,
		IdempotencyKey: "bill-get",
	})
	require.NoError(t, err)
	require.NotNil(t, created.Bill)

	fetched, err := f.svc.GetByID(f.ctx, created.Bill.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.Bill.ID, fetched.ID)

	_, err = f.svc.GetByID(f.ctx, f.node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	listed, err := f.svc.List(f.ctx, domain.ListBillRequest{
		CustomerID: customerID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, listed.Bills, 1)
}
