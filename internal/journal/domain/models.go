package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryKind is the direction of a journal movement.
type EntryKind string

const (
	KindCredit EntryKind = "credit" // reservation: outstanding goes up
	KindDebit  EntryKind = "debit"  // release: outstanding goes down
)

// JournalEntry is one immutable ledger row per credit/debit movement. Rows are
// unique per (actor_id, idempotency_key); the storage index, not application
// code, enforces it. Summing entries per customer re-derives the cached
// outstanding; the journal is the reconciliation source of truth.
type JournalEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	ActorID        snowflake.ID      `gorm:"not null;uniqueIndex:uq_journal_actor_key" json:"actor_id"`
	CustomerID     snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Kind           EntryKind         `gorm:"not null" json:"kind"`
	Amount         int64             `gorm:"not null" json:"amount"`
	IdempotencyKey string            `gorm:"not null;uniqueIndex:uq_journal_actor_key" json:"idempotency_key"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// Signed returns the entry amount with its direction applied.
func (e JournalEntry) Signed() int64 {
	if e.Kind == KindDebit {
		return -e.Amount
	}
	return e.Amount
}
