package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation is the guarded side effect. It runs at most once per
// (actor, key); its return value becomes the stored result replayed to
// every duplicate of the same request.
type Operation func(ctx context.Context) (datatypes.JSONMap, error)

// Outcome is what a guarded call hands back. Replayed is true when the
// result came from a previously completed record rather than this call's
// own execution.
type Outcome struct {
	Result   datatypes.JSONMap `json:"result"`
	Replayed bool              `json:"replayed"`
}

// Guard deduplicates mutating requests by (actor, idempotency key).
type Guard interface {
	// Execute runs op under the key, or replays the stored result if an
	// equal request already completed. Concurrent duplicates block until
	// the winner finishes.
	Execute(ctx context.Context, key, endpoint string, op Operation) (Outcome, error)
}

type Repository interface {
	// InsertPendingIgnoreDuplicate claims the (actor, key) pair. A lost
	// race is not an error: inserted=false says somebody else holds it.
	InsertPendingIgnoreDuplicate(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	FindByActorKey(ctx context.Context, db *gorm.DB, actorID snowflake.ID, key string) (*Record, error)
	// Complete stores the result and flips the record to completed. It
	// only ever runs after the operation's side effects are durable.
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, result datatypes.JSONMap, at time.Time) error
	// Touch refreshes a pending claim's updated_at. alive=false says the
	// record is gone or no longer pending and heartbeating should stop.
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (alive bool, err error)
	// TakeOverStale refreshes a pending claim that outlived staleBefore so
	// the caller may re-run the operation. Reports whether the takeover won.
	TakeOverStale(ctx context.Context, db *gorm.DB, id snowflake.ID, staleBefore time.Time, at time.Time) (bool, error)
	// Release drops a still-pending claim so a retry can start fresh. It
	// never touches completed records.
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInFlight            = errors.New("request_in_flight")
	ErrRecordLost          = errors.New("idempotency_record_lost")
)
