package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateBillRequest struct {
	CustomerID     snowflake.ID
	Amount         int64
	Override       bool
	OverrideReason string
	IdempotencyKey string
	Metadata       map[string]any
}

// CreateBillResponse reports either the created (or replayed) bill, or a
// blocked credit decision with no bill. Replayed marks a deduplicated retry.
type CreateBillResponse struct {
	Bill     *Bill                 `json:"bill,omitempty"`
	Decision creditdomain.Decision `json:"decision"`
	Replayed bool                  `json:"replayed"`
}

type ListBillRequest struct {
	pagination.Pagination
	CustomerID string
	Status     string
}

type ListBillResponse struct {
	pagination.PageInfo
	Bills []Bill `json:"bills"`
}

type Service interface {
	Create(ctx context.Context, req CreateBillRequest) (CreateBillResponse, error)
	GetByID(ctx context.Context, id string) (Bill, error)
	List(ctx context.Context, req ListBillRequest) (ListBillResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, bill *Bill) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Bill, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Bill, error)
}

type ListFilter struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	Status     BillStatus
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt string
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInvalidID           = errors.New("invalid_bill_id")
	ErrInvalidStatus       = errors.New("invalid_bill_status")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("bill_not_found")
)
