package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditEvent is one immutable row per credit decision (and per anomaly).
// Rows are written once and never updated; retention is a storage policy,
// not application logic.
type AuditEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"index" json:"organization_id,omitempty"`
	Action     string            `gorm:"not null;index" json:"action"`
	ActorType  string            `gorm:"not null" json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	EntityType string            `gorm:"not null" json:"entity_type"`
	EntityID   *string           `json:"entity_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	RequestID  *string           `json:"request_id,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// Decision codes recorded with every Reserve/Release outcome.
const (
	DecisionPassed       = "PASSED"
	DecisionBlocked      = "BLOCKED"
	DecisionOverrideUsed = "OVERRIDE_USED"
	DecisionAnomaly      = "ANOMALY"
)

const (
	ActorTypeSystem = "system"
	ActorTypeUser   = "user"
)

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	EntityType string
	EntityID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
