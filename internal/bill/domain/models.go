package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillStatus string

const (
	StatusOpen BillStatus = "open"
	StatusVoid BillStatus = "void"
)

// Bill is a charge whose amount was reserved against the customer's credit
// line before the row was written. Creation and reservation are tied by the
// rollback contract: a failed insert backs the reservation out.
type Bill struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Amount     int64             `gorm:"not null" json:"amount"`
	Status     BillStatus        `gorm:"not null" json:"status"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Bill) TableName() string {
	return "bills"
}
