package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/bill/domain"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	idempotencydomain "github.com/payrail/creditcore/internal/idempotency/domain"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Credit creditdomain.Service
	Guard  idempotencydomain.Guard
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   domain.Repository
	credit creditdomain.Service
	guard  idempotencydomain.Guard
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("bill.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		credit: p.Credit,
		guard:  p.Guard,
	}
}

// Create reserves the bill amount against the customer's credit line and
// then writes the bill. The whole sequence runs under the idempotency
// guard, so a retried request replays the first outcome instead of
// reserving twice. A failed bill insert releases the reservation with
// reason ROLLBACK before the error surfaces.
func (s *Service) Create(ctx context.Context, req domain.CreateBillRequest) (domain.CreateBillResponse, error) {
	if req.CustomerID == 0 {
		return domain.CreateBillResponse{}, domain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return domain.CreateBillResponse{}, domain.ErrInvalidAmount
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return domain.CreateBillResponse{}, domain.ErrInvalidKey
	}

	outcome, err := s.guard.Execute(ctx, key, "bill.create", func(ctx context.Context) (datatypes.JSONMap, error) {
		// The guard replays completed requests, so this closure only runs
		// for a genuinely new attempt, including a retry after an earlier
		// attempt rolled its reservation back. Each attempt journals under
		// its own derived key; the request key stays in the metadata.
		attemptKey := key + "/" + s.genID.Generate().String()
		decision, err := s.credit.Reserve(ctx, creditdomain.ReserveRequest{
			CustomerID:     req.CustomerID,
			Delta:          req.Amount,
			Override:       req.Override,
			OverrideReason: req.OverrideReason,
			IdempotencyKey: attemptKey,
			Metadata:       map[string]any{"source": "bill.create", "request_key": key},
		})
		if err != nil {
			return nil, err
		}
		if decision.Blocked {
			// The refusal is the stored outcome: a retry with the same key
			// sees the same block instead of re-evaluating.
			return encodeResponse(domain.CreateBillResponse{Decision: decision})
		}

		bill := &domain.Bill{
			ID:         s.genID.Generate(),
			OrgID:      decision.Customer.OrgID,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Status:     domain.StatusOpen,
			Metadata:   datatypes.JSONMap{},
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if req.Metadata != nil {
			bill.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := s.repo.Insert(ctx, s.db, bill); err != nil {
			// Dependent write failed: give the reserved amount back so the
			// customer is not charged for a bill that does not exist.
			if _, relErr := s.credit.Release(ctx, creditdomain.ReleaseRequest{
				CustomerID:     req.CustomerID,
				Delta:          req.Amount,
				Reason:         creditdomain.ReasonRollback,
				IdempotencyKey: attemptKey + "/rollback",
				Metadata:       map[string]any{"source": "bill.create", "request_key": key},
			}); relErr != nil {
				s.log.Error("rollback release failed after bill insert error",
					zap.String("customer_id", req.CustomerID.String()),
					zap.Int64("amount", req.Amount),
					zap.Error(relErr),
				)
			}
			return nil, err
		}
		return encodeResponse(domain.CreateBillResponse{Bill: bill, Decision: decision})
	})
	if err != nil {
		return domain.CreateBillResponse{}, err
	}

	resp, err := decodeResponse(outcome.Result)
	if err != nil {
		return domain.CreateBillResponse{}, err
	}
	resp.Replayed = outcome.Replayed
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Bill, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Bill{}, domain.ErrInvalidOrganization
	}
	billID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || billID == 0 {
		return domain.Bill{}, domain.ErrInvalidID
	}
	bill, err := s.repo.FindByID(ctx, s.db, orgID, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if bill == nil {
		return domain.Bill{}, domain.ErrNotFound
	}
	return *bill, nil
}

func (s *Service) List(ctx context.Context, req domain.ListBillRequest) (domain.ListBillResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListBillResponse{}, domain.ErrInvalidOrganization
	}

	filter := domain.ListFilter{OrgID: orgID}
	if value := strings.TrimSpace(req.CustomerID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil || id == 0 {
			return domain.ListBillResponse{}, domain.ErrInvalidCustomer
		}
		filter.CustomerID = id
	}
	if value := strings.TrimSpace(req.Status); value != "" {
		status := domain.BillStatus(value)
		if status != domain.StatusOpen && status != domain.StatusVoid {
			return domain.ListBillResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListBillResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListBillResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: id, CreatedAt: decoded.CreatedAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListBillResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Bill) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	bills := make([]domain.Bill, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		bills = append(bills, *item)
	}

	resp := domain.ListBillResponse{Bills: bills}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Snowflake IDs overflow float64, so the stored outcome carries the response
// as a raw JSON string instead of nested map values.
func encodeResponse(resp domain.CreateBillResponse) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return datatypes.JSONMap{"payload": string(raw)}, nil
}

func decodeResponse(result datatypes.JSONMap) (domain.CreateBillResponse, error) {
	var resp domain.CreateBillResponse
	raw, _ := result["payload"].(string)
	if raw == "" {
		return resp, nil
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return domain.CreateBillResponse{}, err
	}
	return resp, nil
}
