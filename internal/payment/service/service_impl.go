package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	idempotencydomain "github.com/payrail/creditcore/internal/idempotency/domain"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/payrail/creditcore/internal/payment/domain"
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
		log:    p.Log.Named("payment.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		credit: p.Credit,
		guard:  p.Guard,
	}
}

// Record writes the payment row and releases the paid amount from the
// customer's outstanding balance, all under the idempotency guard. The
// release goes through the atomic decrement primitive; the payment handler
// never read-modify-writes the balance itself. A failed release deletes the
// payment row again so the two stay in step.
func (s *Service) Record(ctx context.Context, req domain.RecordPaymentRequest) (domain.RecordPaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidOrganization
	}
	if req.CustomerID == 0 {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidAmount
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidKey
	}

	outcome, err := s.guard.Execute(ctx, key, "payment.record", func(ctx context.Context) (datatypes.JSONMap, error) {
		attemptKey := key + "/" + s.genID.Generate().String()

		payment := &domain.Payment{
			ID:         s.genID.Generate(),
			OrgID:      orgID,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Metadata:   datatypes.JSONMap{},
			CreatedAt:  time.Now().UTC(),
		}
		if req.Metadata != nil {
			payment.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := s.repo.Insert(ctx, s.db, payment); err != nil {
			return nil, err
		}

		decision, err := s.credit.Release(ctx, creditdomain.ReleaseRequest{
			CustomerID:     req.CustomerID,
			Delta:          req.Amount,
			Reason:         creditdomain.ReasonPayment,
			IdempotencyKey: attemptKey,
			Metadata: map[string]any{
				"source":      "payment.record",
				"payment_id":  payment.ID.String(),
				"request_key": key,
			},
		})
		if err != nil {
			if delErr := s.repo.Delete(ctx, s.db, orgID, payment.ID); delErr != nil {
				s.log.Error("failed to back out payment after release error",
					zap.String("payment_id", payment.ID.String()),
					zap.Error(delErr),
				)
			}
			return nil, err
		}
		return encodeResponse(domain.RecordPaymentResponse{Payment: payment, Decision: decision})
	})
	if err != nil {
		return domain.RecordPaymentResponse{}, err
	}

	resp, err := decodeResponse(outcome.Result)
	if err != nil {
		return domain.RecordPaymentResponse{}, err
	}
	resp.Replayed = outcome.Replayed
	return resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListPaymentResponse{}, domain.ErrInvalidOrganization
	}

	filter := domain.ListFilter{OrgID: orgID}
	if value := strings.TrimSpace(req.CustomerID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil || id == 0 {
			return domain.ListPaymentResponse{}, domain.ErrInvalidCustomer
		}
		filter.CustomerID = id
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListPaymentResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListPaymentResponse{}, domain.ErrInvalidPageToken
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
		return domain.ListPaymentResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Payment) string {
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

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	resp := domain.ListPaymentResponse{Payments: payments}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func encodeResponse(resp domain.RecordPaymentResponse) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return datatypes.JSONMap{"payload": string(raw)}, nil
}

func decodeResponse(result datatypes.JSONMap) (domain.RecordPaymentResponse, error) {
	var resp domain.RecordPaymentResponse
	raw, _ := result["payload"].(string)
	if raw == "" {
		return resp, nil
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return domain.RecordPaymentResponse{}, err
	}
	return resp, nil
}
