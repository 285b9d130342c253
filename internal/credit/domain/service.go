package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	"gorm.io/gorm"
)

// ReleaseReason distinguishes why credit was given back. ROLLBACK marks
// compensation for a failed dependent write (backing out a reservation) as
// opposed to an ordinary payment-driven release.
type ReleaseReason string

const (
	ReasonPayment  ReleaseReason = "PAYMENT"
	ReasonRollback ReleaseReason = "ROLLBACK"
	ReasonManual   ReleaseReason = "MANUAL"
)

// Decision codes. They double as the audit action on the decision row.
const (
	CodePassed       = "PASSED"
	CodeBlocked      = "BLOCKED"
	CodeOverrideUsed = "OVERRIDE_USED"
	CodeAnomaly      = "ANOMALY"
)

type ReserveRequest struct {
	CustomerID     snowflake.ID
	Delta          int64
	Override       bool
	OverrideReason string
	IdempotencyKey string
	Metadata       map[string]any
}

type ReleaseRequest struct {
	CustomerID     snowflake.ID
	Delta          int64
	Reason         ReleaseReason
	IdempotencyKey string
	Metadata       map[string]any
}

// Details carries the numbers a caller needs to explain a decision: the
// configured limit, the effective ceiling (limit + grace), the outstanding
// balance after the decision, and how much room is left under the ceiling.
type Details struct {
	Limit       int64  `json:"limit"`
	Threshold   int64  `json:"threshold"`
	Outstanding int64  `json:"outstanding"`
	Headroom    int64  `json:"headroom"`
	Code        string `json:"code"`
}

// Decision is the outcome of a reserve or release. A blocked reservation is
// a successful call with Blocked=true, not an error: the caller gets the
// diagnostics needed to offer an override path.
type Decision struct {
	Success  bool                    `json:"success"`
	Blocked  bool                    `json:"blocked"`
	Customer customerdomain.Customer `json:"customer"`
	Details  Details                 `json:"details"`
}

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (Decision, error)
	Release(ctx context.Context, req ReleaseRequest) (Decision, error)
}

// Repository holds the atomic delta primitives. The cached outstanding
// balance moves only through these; nothing else read-modify-writes it.
type Repository interface {
	// Increment adds delta unconditionally. Reports whether a row matched.
	Increment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (bool, error)
	// IncrementWithinThreshold adds delta only if the projected balance
	// stays at or under limit + grace. The guard is evaluated inside the
	// single UPDATE, so no writer can interleave between check and mutate.
	// applied=false means either the guard refused or the row is missing;
	// the caller re-reads to tell the two apart.
	IncrementWithinThreshold(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (bool, error)
	// DecrementClamped subtracts delta, flooring at zero, via a
	// compare-and-swap retry loop. clamped=true reports that the unclamped
	// result would have gone negative.
	DecrementClamped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (outstanding int64, clamped bool, err error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidDelta        = errors.New("invalid_delta")
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInvalidReason       = errors.New("invalid_release_reason")
	ErrOverrideReason      = errors.New("override_reason_required")
	ErrOverrideNotAllowed  = errors.New("override_not_allowed")
	ErrCustomerNotFound    = errors.New("customer_not_found")
)
