package service

import (
	"context"
	"strings"

	"github.com/payrail/creditcore/internal/actorcontext"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	"github.com/payrail/creditcore/internal/credit/domain"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	"github.com/payrail/creditcore/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Customers customerdomain.Repository
	Journal   journaldomain.Service
	Audit     auditdomain.Service
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	customers customerdomain.Repository
	journal   journaldomain.Service
	audit     auditdomain.Service
	metrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("credit.service"),
		repo:      p.Repo,
		customers: p.Customers,
		journal:   p.Journal,
		audit:     p.Audit,
		metrics:   p.Metrics,
	}
}

// Reserve atomically raises the customer's outstanding balance by delta,
// gated by limit + grace. The guard lives inside a single UPDATE, so two
// concurrent reservations on the same customer are totally ordered: exactly
// one of them observes any given would-breach transition. A block mutates
// nothing and is reported as a decision, not an error.
func (s *Service) Reserve(ctx context.Context, req domain.ReserveRequest) (domain.Decision, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Decision{}, domain.ErrInvalidOrganization
	}
	if _, ok := actorcontext.ActorFromContext(ctx); !ok {
		return domain.Decision{}, domain.ErrInvalidActor
	}
	if req.CustomerID == 0 {
		return domain.Decision{}, domain.ErrInvalidCustomer
	}
	if req.Delta <= 0 {
		return domain.Decision{}, domain.ErrInvalidDelta
	}
	if req.Override && strings.TrimSpace(req.OverrideReason) == "" {
		return domain.Decision{}, domain.ErrOverrideReason
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return domain.Decision{}, domain.ErrInvalidKey
	}

	customer, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
	if err != nil {
		return domain.Decision{}, err
	}
	if customer == nil {
		return domain.Decision{}, domain.ErrCustomerNotFound
	}
	if req.Override && !customer.AllowOverride {
		return domain.Decision{}, domain.ErrOverrideNotAllowed
	}
	before := customer.Outstanding

	// A key that already journaled is a retry of an applied reservation.
	// Replay the original outcome without touching the balance, even if the
	// delta would no longer fit today's headroom.
	existing, err := s.journal.FindByKey(ctx, key)
	if err != nil {
		return domain.Decision{}, err
	}
	if existing != nil {
		s.log.Debug("reserve replayed from journal",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("idempotency_key", key),
		)
		return s.replayedReserve(ctx, *existing, *customer), nil
	}

	var applied bool
	switch {
	case !customer.LimitEnabled || req.Override:
		// No guard: an unlimited customer still accrues outstanding so a
		// later limit has a meaningful baseline, and a granted override is
		// allowed to push past the ceiling.
		applied, err = s.repo.Increment(ctx, s.db, orgID, req.CustomerID, req.Delta)
	default:
		applied, err = s.repo.IncrementWithinThreshold(ctx, s.db, orgID, req.CustomerID, req.Delta)
	}
	if err != nil {
		return domain.Decision{}, err
	}

	if !applied {
		// Guard refused or the row vanished. Re-read to tell which.
		current, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
		if err != nil {
			return domain.Decision{}, err
		}
		if current == nil {
			return domain.Decision{}, domain.ErrCustomerNotFound
		}
		// A concurrent duplicate of this key may have landed between the
		// lookup above and our increment and eaten the headroom itself. Its
		// journal row means the reservation passed; report that, not a block.
		dup, err := s.journal.FindByKey(ctx, key)
		if err != nil {
			return domain.Decision{}, err
		}
		if dup != nil {
			return s.replayedReserve(ctx, *dup, *current), nil
		}
		return s.blocked(ctx, req, *current), nil
	}

	after, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
	if err != nil {
		return domain.Decision{}, err
	}
	if after == nil {
		return domain.Decision{}, domain.ErrCustomerNotFound
	}

	metadata := mergeMetadata(req.Metadata, map[string]any{
		"delta":              req.Delta,
		"outstanding_before": before,
	})
	if req.Override {
		metadata["override_reason"] = strings.TrimSpace(req.OverrideReason)
	}
	entry, err := s.journal.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     req.CustomerID,
		Kind:           journaldomain.KindCredit,
		Amount:         req.Delta,
		IdempotencyKey: key,
		Metadata:       metadata,
	})
	if err != nil {
		// The increment is in; without a journal row it is unaccounted.
		// Back it out so reconciliation stays clean, then surface the error.
		if _, _, undoErr := s.repo.DecrementClamped(ctx, s.db, orgID, req.CustomerID, req.Delta); undoErr != nil {
			s.log.Error("failed to back out unjournaled reservation",
				zap.String("customer_id", req.CustomerID.String()),
				zap.Int64("delta", req.Delta),
				zap.Error(undoErr),
			)
		}
		return domain.Decision{}, err
	}
	if !entry.Created {
		// Two duplicates raced past the journal lookup and both incremented;
		// only one journal insert won. Undo our increment and report the
		// winner's reservation.
		if _, _, undoErr := s.repo.DecrementClamped(ctx, s.db, orgID, req.CustomerID, req.Delta); undoErr != nil {
			s.log.Error("failed to back out duplicate reservation",
				zap.String("customer_id", req.CustomerID.String()),
				zap.String("idempotency_key", key),
				zap.Error(undoErr),
			)
		}
		current, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
		if err != nil {
			return domain.Decision{}, err
		}
		if current == nil {
			return domain.Decision{}, domain.ErrCustomerNotFound
		}
		s.log.Warn("journal deduplicated a duplicate reservation",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("idempotency_key", key),
		)
		return s.replayedReserve(ctx, entry.Entry, *current), nil
	}

	code := domain.CodePassed
	if req.Override {
		code = domain.CodeOverrideUsed
	}
	auditMeta := map[string]any{
		"delta":              req.Delta,
		"outstanding_before": before,
		"outstanding_after":  after.Outstanding,
		"limit_amount":       after.LimitAmount,
		"grace_amount":       after.GraceAmount,
		"idempotency_key":    key,
		"journal_entry_id":   entry.Entry.ID.String(),
	}
	if req.Override {
		auditMeta["override_reason"] = strings.TrimSpace(req.OverrideReason)
	}
	return s.decision(ctx, "reserve", code, *after, auditMeta), nil
}

// Release atomically lowers the outstanding balance by delta, floored at
// zero. A release never fails for business reasons: an over-release is
// clamped, audited as an anomaly, and still reported as success so the
// caller can retry safely.
func (s *Service) Release(ctx context.Context, req domain.ReleaseRequest) (domain.Decision, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Decision{}, domain.ErrInvalidOrganization
	}
	if _, ok := actorcontext.ActorFromContext(ctx); !ok {
		return domain.Decision{}, domain.ErrInvalidActor
	}
	if req.CustomerID == 0 {
		return domain.Decision{}, domain.ErrInvalidCustomer
	}
	if req.Delta <= 0 {
		return domain.Decision{}, domain.ErrInvalidDelta
	}
	switch req.Reason {
	case domain.ReasonPayment, domain.ReasonRollback, domain.ReasonManual:
	default:
		return domain.Decision{}, domain.ErrInvalidReason
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return domain.Decision{}, domain.ErrInvalidKey
	}

	customer, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
	if err != nil {
		return domain.Decision{}, err
	}
	if customer == nil {
		return domain.Decision{}, domain.ErrCustomerNotFound
	}
	before := customer.Outstanding

	// Journal first: if the (actor, key) pair already released, this is a
	// replay and the balance must not move again.
	entry, err := s.journal.Append(ctx, journaldomain.AppendRequest{
		CustomerID:     req.CustomerID,
		Kind:           journaldomain.KindDebit,
		Amount:         req.Delta,
		IdempotencyKey: key,
		Metadata: mergeMetadata(req.Metadata, map[string]any{
			"delta":              req.Delta,
			"reason":             string(req.Reason),
			"outstanding_before": before,
		}),
	})
	if err != nil {
		return domain.Decision{}, err
	}
	if !entry.Created {
		current, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
		if err != nil {
			return domain.Decision{}, err
		}
		if current == nil {
			return domain.Decision{}, domain.ErrCustomerNotFound
		}
		s.log.Debug("release deduplicated by journal",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("idempotency_key", key),
		)
		return s.decision(ctx, "release", domain.CodePassed, *current, nil), nil
	}

	outstanding, clamped, err := s.repo.DecrementClamped(ctx, s.db, orgID, req.CustomerID, req.Delta)
	if err != nil {
		return domain.Decision{}, err
	}

	after, err := s.customers.FindByID(ctx, s.db, orgID, req.CustomerID)
	if err != nil {
		return domain.Decision{}, err
	}
	if after == nil {
		return domain.Decision{}, domain.ErrCustomerNotFound
	}

	auditMeta := map[string]any{
		"delta":              req.Delta,
		"reason":             string(req.Reason),
		"outstanding_before": before,
		"outstanding_after":  outstanding,
		"idempotency_key":    key,
		"journal_entry_id":   entry.Entry.ID.String(),
	}
	if clamped {
		// Releasing more than is outstanding means a double release or an
		// upstream bug. Self-heal at zero and leave an anomaly trail.
		if s.metrics != nil {
			s.metrics.RecordAnomaly(ctx, "over_release")
		}
		if auditErr := s.audit.Append(ctx, auditdomain.Record{
			Action:     auditdomain.DecisionAnomaly,
			EntityType: "customer",
			EntityID:   stringPtr(req.CustomerID.String()),
			Metadata:   auditMeta,
		}); auditErr != nil {
			s.log.Warn("anomaly audit write failed", zap.Error(auditErr))
		}
		return s.decision(ctx, "release", domain.CodeAnomaly, *after, nil), nil
	}
	return s.decision(ctx, "release", domain.CodePassed, *after, auditMeta), nil
}

// replayedReserve rebuilds the success decision for a reservation that
// already journaled. The balance is untouched and nothing is re-audited; the
// code comes from the original entry so an override replay still says so.
func (s *Service) replayedReserve(ctx context.Context, entry journaldomain.JournalEntry, current customerdomain.Customer) domain.Decision {
	code := domain.CodePassed
	if _, ok := entry.Metadata["override_reason"]; ok {
		code = domain.CodeOverrideUsed
	}
	return s.decision(ctx, "reserve", code, current, nil)
}

// blocked builds the refusal decision and leaves the audit trail. The block
// is already enforced (nothing was mutated); the audit write is best-effort
// and can never turn the refusal into an approval.
func (s *Service) blocked(ctx context.Context, req domain.ReserveRequest, current customerdomain.Customer) domain.Decision {
	if s.metrics != nil {
		s.metrics.RecordCreditDecision(ctx, "reserve", domain.CodeBlocked)
	}
	if err := s.audit.Append(ctx, auditdomain.Record{
		Action:     auditdomain.DecisionBlocked,
		EntityType: "customer",
		EntityID:   stringPtr(req.CustomerID.String()),
		Metadata: map[string]any{
			"delta":        req.Delta,
			"outstanding":  current.Outstanding,
			"limit_amount": current.LimitAmount,
			"grace_amount": current.GraceAmount,
			"threshold":    current.Threshold(),
			"headroom":     current.Headroom(),
		},
	}); err != nil {
		s.log.Warn("blocked-decision audit write failed",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Error(err),
		)
	}
	return domain.Decision{
		Success:  false,
		Blocked:  true,
		Customer: current,
		Details: domain.Details{
			Limit:       current.LimitAmount,
			Threshold:   current.Threshold(),
			Outstanding: current.Outstanding,
			Headroom:    current.Headroom(),
			Code:        domain.CodeBlocked,
		},
	}
}

// decision assembles the success-path result and, when auditMeta is set,
// appends the decision to the audit trail best-effort.
func (s *Service) decision(ctx context.Context, operation, code string, after customerdomain.Customer, auditMeta map[string]any) domain.Decision {
	if s.metrics != nil {
		s.metrics.RecordCreditDecision(ctx, operation, code)
	}
	if auditMeta != nil {
		action := map[string]string{
			domain.CodePassed:       auditdomain.DecisionPassed,
			domain.CodeOverrideUsed: auditdomain.DecisionOverrideUsed,
		}[code]
		if action != "" {
			if err := s.audit.Append(ctx, auditdomain.Record{
				Action:     action,
				EntityType: "customer",
				EntityID:   stringPtr(after.ID.String()),
				Metadata:   auditMeta,
			}); err != nil {
				s.log.Warn("decision audit write failed",
					zap.String("operation", operation),
					zap.Error(err),
				)
			}
		}
	}
	return domain.Decision{
		Success:  true,
		Blocked:  false,
		Customer: after,
		Details: domain.Details{
			Limit:       after.LimitAmount,
			Threshold:   after.Threshold(),
			Outstanding: after.Outstanding,
			Headroom:    after.Headroom(),
			Code:        code,
		},
	}
}

func mergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range base {
		if k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func stringPtr(s string) *string {
	return &s
}
