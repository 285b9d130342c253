package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditRequest struct {
	pagination.Pagination
	Action     string
	EntityType string
	EntityID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditResponse struct {
	pagination.PageInfo
	AuditEvents []AuditEvent `json:"audit_events"`
}

// Record describes one decision to append. Before/after balances, decision
// code and reason travel in Metadata.
type Record struct {
	OrgID      *snowflake.ID
	ActorType  string
	ActorID    *string
	Action     string
	EntityType string
	EntityID   *string
	Metadata   map[string]any
}

type Service interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, req ListAuditRequest) (ListAuditResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *AuditEvent) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditEvent, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
)
