package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/actorcontext"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	"github.com/payrail/creditcore/internal/orgcontext"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    journaldomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    journaldomain.Repository
	metrics *obsmetrics.Metrics
}

func New(p Params) journaldomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("journal.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Append writes one immutable journal row for the acting identity. A replayed
// (actor, key) pair returns the winner's row: duplicate creates are success.
func (s *Service) Append(ctx context.Context, req journaldomain.AppendRequest) (journaldomain.AppendResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidOrganization
	}
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidActor
	}
	if req.CustomerID == 0 {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidAmount
	}
	if req.Kind != journaldomain.KindCredit && req.Kind != journaldomain.KindDebit {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidKind
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return journaldomain.AppendResponse{}, journaldomain.ErrInvalidKey
	}

	entry := &journaldomain.JournalEntry{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		ActorID:        actor.ID,
		CustomerID:     req.CustomerID,
		Kind:           req.Kind,
		Amount:         req.Amount,
		IdempotencyKey: key,
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      time.Now().UTC(),
	}
	if req.Metadata != nil {
		entry.Metadata = datatypes.JSONMap(req.Metadata)
	}

	inserted, err := s.repo.InsertIgnoreDuplicate(ctx, s.db, entry)
	if err != nil {
		return journaldomain.AppendResponse{}, err
	}
	if inserted {
		if s.metrics != nil {
			s.metrics.RecordJournalEntry(ctx, string(req.Kind))
		}
		return journaldomain.AppendResponse{Entry: *entry, Created: true}, nil
	}

	// Lost the insert race (or this is a retry): the winner's row must exist.
	existing, err := s.repo.FindByActorKey(ctx, s.db, actor.ID, key)
	if err != nil {
		return journaldomain.AppendResponse{}, err
	}
	if existing == nil {
		return journaldomain.AppendResponse{}, journaldomain.ErrEntryLost
	}

	s.log.Debug("journal append deduplicated",
		zap.String("actor_id", actor.ID.String()),
		zap.String("idempotency_key", key),
	)
	return journaldomain.AppendResponse{Entry: *existing, Created: false}, nil
}

func (s *Service) FindByKey(ctx context.Context, idempotencyKey string) (*journaldomain.JournalEntry, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return nil, journaldomain.ErrInvalidActor
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return nil, journaldomain.ErrInvalidKey
	}
	return s.repo.FindByActorKey(ctx, s.db, actor.ID, key)
}

func (s *Service) List(ctx context.Context, req journaldomain.ListJournalRequest) (journaldomain.ListJournalResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidOrganization
	}

	filter := journaldomain.ListFilter{
		OrgID:   orgID,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
	}
	if value := strings.TrimSpace(req.CustomerID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil || id == 0 {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidCustomer
		}
		filter.CustomerID = id
	}
	if value := strings.TrimSpace(req.ActorID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil || id == 0 {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidActor
		}
		filter.ActorID = id
	}
	if value := strings.TrimSpace(req.Kind); value != "" {
		kind := journaldomain.EntryKind(value)
		if kind != journaldomain.KindCredit && kind != journaldomain.KindDebit {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidKind
		}
		filter.Kind = kind
	}

	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return journaldomain.ListJournalResponse{}, journaldomain.ErrInvalidPageToken
		}
		filter.Cursor = &journaldomain.Cursor{ID: id, CreatedAt: createdAt}
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
		return journaldomain.ListJournalResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *journaldomain.JournalEntry) string {
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

	entries := make([]journaldomain.JournalEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := journaldomain.ListJournalResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// SumOutstanding recomputes a customer's balance from journal rows. The
// reconciliation scan compares this against the cached value on Customer.
func (s *Service) SumOutstanding(ctx context.Context, customerID snowflake.ID) (int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, journaldomain.ErrInvalidOrganization
	}
	if customerID == 0 {
		return 0, journaldomain.ErrInvalidCustomer
	}
	return s.repo.SumByCustomer(ctx, s.db, orgID, customerID)
}
