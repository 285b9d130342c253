package reconcile

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/payrail/creditcore/internal/actorcontext"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	auditrepository "github.com/payrail/creditcore/internal/audit/repository"
	auditservice "github.com/payrail/creditcore/internal/audit/service"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	journalrepository "github.com/payrail/creditcore/internal/journal/repository"
	journalservice "github.com/payrail/creditcore/internal/journal/service"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newScanner(t *testing.T, batchSize int) (*Scanner, *gorm.DB, *snowflake.Node, context.Context, snowflake.ID) {
	t.Helper()

	// The scan walks every customer, so each test gets its own database.
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&journaldomain.JournalEntry{},
		&auditdomain.AuditEvent{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	log := zap.NewNop()

	audit := auditservice.New(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(),
	})
	scanner := New(Params{
		DB:    db,
		Log:   log,
		Clock: clock.NewSystemClock(),
		Config: config.Config{Reconcile: config.ReconcileConfig{
			Enabled:   true,
			BatchSize: batchSize,
		}},
		Journal: journalrepository.Provide(),
		Audit:   audit,
	})

	orgID := node.Generate()
	ctx := orgcontext.WithOrgID(context.Background(), orgID)
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{
		ID:   node.Generate(),
		Type: actorcontext.ActorTypeUser,
	})
	return scanner, db, node, ctx, orgID
}

func seed(t *testing.T, db *gorm.DB, ctx context.Context, node *snowflake.Node, orgID snowflake.ID, cached int64, journaled []int64) snowflake.ID {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:          node.Generate(),
		OrgID:       orgID,
		Name:        "Acme Widgets",
		Email:       "billing@acme.test",
		Outstanding: cached,
	}
	require.NoError(t, db.Create(customer).Error)

	journal := journalservice.New(journalservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: journalrepository.Provide(),
	})
	for i, amount := range journaled {
		_, err := journal.Append(ctx, journaldomain.AppendRequest{
			CustomerID:     customer.ID,
			Kind:           journaldomain.KindCredit,
			Amount:         amount,
			IdempotencyKey: customer.ID.String() + "-seed-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}
	return customer.ID
}

func TestScan_CleanBalancesReportNoDrift(t *testing.T) {
	scanner, db, node, ctx, orgID := newScanner(t, 100)
	seed(t, db, ctx, node, orgID, 300, []int64{100, 200})

	drifted, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, drifted)
}

func TestScan_FlagsDriftWithAnomalyAudit(t *testing.T) {
	scanner, db, node, ctx, orgID := newScanner(t, 100)
	driftedID := seed(t, db, ctx, node, orgID, 500, []int64{100, 200})
	seed(t, db, ctx, node, orgID, 150, []int64{150})

	drifted, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, drifted)

	var events []auditdomain.AuditEvent
	require.NoError(t, db.
		Where("action = ?", auditdomain.DecisionAnomaly).
		Find(&events).Error)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].EntityID)
	assert.Equal(t, driftedID.String(), *events[0].EntityID)
}

func TestRecheck_StaleSnapshotIsNotDrift(t *testing.T) {
	scanner, db, node, ctx, orgID := newScanner(t, 100)
	// The row and its journal agree at 300; only the scan's batch snapshot is
	// behind, as it would be with a reservation landing mid-scan.
	customerID := seed(t, db, ctx, node, orgID, 300, []int64{100, 200})

	stale := workCustomer{ID: customerID, OrgID: orgID, Outstanding: 0}
	current, derived, err := scanner.recheck(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, int64(300), current.Outstanding)
	assert.Equal(t, int64(300), derived)

	// A full pass over the same data flags nothing either.
	drifted, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, drifted)
}

func TestScan_PagesThroughBatches(t *testing.T) {
	scanner, db, node, ctx, orgID := newScanner(t, 2)
	for i := 0; i < 5; i++ {
		// Cached 999 with no journal rows: every customer drifts.
		seed(t, db, ctx, node, orgID, 999, nil)
	}

	drifted, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, drifted)
}
