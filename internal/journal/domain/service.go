package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	CustomerID     snowflake.ID
	Kind           EntryKind
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]any
}

// AppendResponse reports the journal row and whether this call created it.
// A replayed key returns the existing row with Created=false: success, not
// an error; only presentation layers care about the distinction.
type AppendResponse struct {
	Entry   JournalEntry `json:"entry"`
	Created bool         `json:"created"`
}

type ListJournalRequest struct {
	pagination.Pagination
	CustomerID string
	ActorID    string
	Kind       string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListJournalResponse struct {
	pagination.PageInfo
	Entries []JournalEntry `json:"entries"`
}

type ListFilter struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	ActorID    snowflake.ID
	Kind       EntryKind
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Service interface {
	Append(ctx context.Context, req AppendRequest) (AppendResponse, error)
	// FindByKey returns the acting identity's journal row for the key, or
	// nil when the key has never been applied.
	FindByKey(ctx context.Context, idempotencyKey string) (*JournalEntry, error)
	List(ctx context.Context, req ListJournalRequest) (ListJournalResponse, error)
	SumOutstanding(ctx context.Context, customerID snowflake.ID) (int64, error)
}

type Repository interface {
	// InsertIgnoreDuplicate appends the entry; a duplicate
	// (actor_id, idempotency_key) is a no-op reporting inserted=false.
	InsertIgnoreDuplicate(ctx context.Context, db *gorm.DB, entry *JournalEntry) (bool, error)
	FindByActorKey(ctx context.Context, db *gorm.DB, actorID snowflake.ID, key string) (*JournalEntry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*JournalEntry, error)
	SumByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrEntryLost           = errors.New("journal_entry_lost")
)
