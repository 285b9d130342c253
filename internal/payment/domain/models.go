package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment is money received against a customer's outstanding balance. The
// balance itself moves through the atomic release primitive, never by
// recomputing it here.
type Payment struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Amount     int64             `gorm:"not null" json:"amount"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}
