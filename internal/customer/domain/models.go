package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Customer carries the credit configuration and the cached running balance.
// Outstanding is a denormalized accelerator over the journal: it moves only
// through the atomic delta statements in the credit repository and is always
// re-derivable by summing journal rows for this customer.
type Customer struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Name          string            `gorm:"not null" json:"name"`
	Email         string            `gorm:"not null" json:"email"`
	Outstanding   int64             `gorm:"not null;default:0" json:"outstanding"`
	LimitEnabled  bool              `gorm:"not null;default:false" json:"limit_enabled"`
	LimitAmount   int64             `gorm:"not null;default:0" json:"limit_amount"`
	GraceAmount   int64             `gorm:"not null;default:0" json:"grace_amount"`
	AllowOverride bool              `gorm:"not null;default:false" json:"allow_override"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Threshold is the ceiling a reservation is evaluated against.
func (c Customer) Threshold() int64 {
	return c.LimitAmount + c.GraceAmount
}

// Headroom is how much more can be reserved before the threshold blocks.
// Negative headroom means an override already pushed past the ceiling.
func (c Customer) Headroom() int64 {
	return c.Threshold() - c.Outstanding
}
