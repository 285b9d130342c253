package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordPaymentRequest struct {
	CustomerID     snowflake.ID
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]any
}

type RecordPaymentResponse struct {
	Payment  *Payment              `json:"payment,omitempty"`
	Decision creditdomain.Decision `json:"decision"`
	Replayed bool                  `json:"replayed"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	CustomerID string
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	Record(ctx context.Context, req RecordPaymentRequest) (RecordPaymentResponse, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Payment, error)
}

type ListFilter struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
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
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
