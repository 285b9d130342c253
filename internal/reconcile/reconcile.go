package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/actorcontext"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	"github.com/payrail/creditcore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockKey = "reconcile:scan"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Journal journaldomain.Repository
	Audit   auditdomain.Service
	Locker  *ratelimit.Locker   `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Scanner periodically re-derives each customer's outstanding balance from
// the journal and flags drift against the cached value. The journal is the
// source of truth; the cached balance is only an accelerator.
type Scanner struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.ReconcileConfig
	journal journaldomain.Repository
	audit   auditdomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.Metrics
}

type workCustomer struct {
	ID          snowflake.ID
	OrgID       snowflake.ID
	Outstanding int64
}

func New(p Params) *Scanner {
	cfg := p.Config.Reconcile
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Scanner{
		db:      p.DB,
		log:     p.Log.Named("reconcile"),
		clock:   p.Clock,
		cfg:     cfg,
		journal: p.Journal,
		audit:   p.Audit,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

// RunForever ticks until the context is cancelled. The Redis lock keeps
// replicated deployments down to one active scan; without Redis the scanner
// runs unlocked and is only safe single-instance.
func (s *Scanner) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLocked(ctx)
		}
	}
}

func (s *Scanner) runLocked(ctx context.Context) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("reconcile lock unavailable, skipping pass", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, lockKey, token); err != nil {
				s.log.Warn("failed to release reconcile lock", zap.Error(err))
			}
		}()
	}
	if _, err := s.Scan(ctx); err != nil {
		s.log.Error("reconcile pass failed", zap.Error(err))
	}
}

// Scan walks every customer once and returns how many drifted. A drifted
// customer gets an ANOMALY audit row carrying both balances; the scan never
// rewrites the cached value itself; that is an operator decision.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{ID: 1, Type: actorcontext.ActorTypeSystem})

	drifted := 0
	var cursor snowflake.ID
	for {
		batch, err := s.fetchCustomers(ctx, cursor)
		if err != nil {
			return drifted, err
		}
		if len(batch) == 0 {
			return drifted, nil
		}
		for _, customer := range batch {
			cursor = customer.ID
			derived, err := s.journal.SumByCustomer(ctx, s.db, customer.OrgID, customer.ID)
			if err != nil {
				return drifted, err
			}
			if derived == customer.Outstanding {
				continue
			}
			// The batch snapshot and the journal sum were taken at different
			// moments, so an in-flight reservation shows up as phantom drift.
			// Re-read both sides once; real drift survives, a race does not.
			current, rederived, err := s.recheck(ctx, customer)
			if err != nil {
				return drifted, err
			}
			if rederived == current.Outstanding {
				continue
			}
			drifted++
			s.flagDrift(ctx, current, rederived)
		}
		if len(batch) < s.cfg.BatchSize {
			return drifted, nil
		}
	}
}

func (s *Scanner) fetchCustomers(ctx context.Context, after snowflake.ID) ([]workCustomer, error) {
	var customers []workCustomer
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, outstanding
		 FROM customers
		 WHERE id > ?
		 ORDER BY id
		 LIMIT ?`,
		after,
		s.cfg.BatchSize,
	).Scan(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Scanner) recheck(ctx context.Context, customer workCustomer) (workCustomer, int64, error) {
	var current workCustomer
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, outstanding FROM customers WHERE id = ?`,
		customer.ID,
	).Scan(&current).Error
	if err != nil {
		return customer, 0, err
	}
	if current.ID == 0 {
		// Row gone between batches; nothing left to compare against.
		return customer, customer.Outstanding, nil
	}
	derived, err := s.journal.SumByCustomer(ctx, s.db, current.OrgID, current.ID)
	if err != nil {
		return current, 0, err
	}
	return current, derived, nil
}

func (s *Scanner) flagDrift(ctx context.Context, customer workCustomer, derived int64) {
	if s.metrics != nil {
		s.metrics.RecordReconcileDrift(ctx)
	}
	s.log.Warn("outstanding balance drifted from journal",
		zap.String("customer_id", customer.ID.String()),
		zap.Int64("cached", customer.Outstanding),
		zap.Int64("derived", derived),
	)

	actorID := "reconciler"
	entityID := customer.ID.String()
	if err := s.audit.Append(ctx, auditdomain.Record{
		OrgID:      &customer.OrgID,
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    &actorID,
		Action:     auditdomain.DecisionAnomaly,
		EntityType: "customer",
		EntityID:   &entityID,
		Metadata: map[string]any{
			"source":             "reconcile",
			"outstanding_cached": customer.Outstanding,
			"outstanding_journal": derived,
			"drift":              customer.Outstanding - derived,
			"scanned_at":         s.clock.Now().Format(time.RFC3339),
		},
	}); err != nil {
		s.log.Warn("failed to write drift audit event",
			zap.String("customer_id", customer.ID.String()),
			zap.Error(err),
		)
	}
}
