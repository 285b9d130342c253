package domain

import (
	"context"
	"errors"
	"time"

	"github.com/payrail/creditcore/pkg/db/pagination"
)

type ListCustomerRequest struct {
	PageToken   string
	PageSize    int32
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListCustomerFilter struct {
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name          string
	Email         string
	LimitEnabled  bool
	LimitAmount   int64
	GraceAmount   int64
	AllowOverride bool
}

type GetCustomerRequest struct {
	ID string
}

// LimitConfig is the mutable credit configuration. Outstanding is absent on
// purpose: it only moves through the credit core's atomic delta statements.
type LimitConfig struct {
	LimitEnabled  bool  `json:"limit_enabled"`
	LimitAmount   int64 `json:"limit_amount"`
	GraceAmount   int64 `json:"grace_amount"`
	AllowOverride bool  `json:"allow_override"`
}

type UpdateLimitsRequest struct {
	ID     string
	Limits LimitConfig
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(context.Context, GetCustomerRequest) (Customer, error)
	UpdateLimits(context.Context, UpdateLimitsRequest) (Customer, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidLimit        = errors.New("invalid_limit")
	ErrNotFound            = errors.New("not_found")
)
