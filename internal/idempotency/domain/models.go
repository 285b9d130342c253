package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status tracks a guarded request through its lifecycle. A record is born
// pending when an actor claims a key and flips to completed exactly once,
// after the guarded operation's side effects have committed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record is one claimed (actor, key) pair. The unique index on
// (actor_id, idempotency_key) is the arbiter under concurrency: of two
// racing claims exactly one insert lands, and the loser waits on the
// winner's result instead of re-running the operation.
type Record struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	ActorID        snowflake.ID      `gorm:"not null;uniqueIndex:uq_idempotency_actor_key" json:"actor_id"`
	IdempotencyKey string            `gorm:"not null;uniqueIndex:uq_idempotency_actor_key" json:"idempotency_key"`
	Endpoint       string            `gorm:"not null" json:"endpoint"`
	Status         Status            `gorm:"not null;default:pending" json:"status"`
	Result         datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Record) TableName() string {
	return "idempotency_records"
}

// Stale reports whether a pending claim has outlived ttl and may be taken
// over by a retrying request. Completed records never go stale.
func (r Record) Stale(now time.Time, ttl time.Duration) bool {
	return r.Status == StatusPending && now.Sub(r.UpdatedAt) > ttl
}
