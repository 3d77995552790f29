package models

import (
	"time"

	"github.com/fatflowers/premiumgate/pkg/types"

	"gorm.io/datatypes"
)

// PaymentHistory is a read-only ledger row written by the billing process.
type PaymentHistory struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);index:idx_payment_history_user,priority:1;not null" json:"user_id"`
	// Amount is expressed in the currency's minor unit (cents).
	Amount         int64             `gorm:"column:amount;not null" json:"amount"`
	Currency       string            `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status         string            `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PlanType       types.PlanType    `gorm:"column:plan_type;type:varchar(32)" json:"plan_type"`
	SubscriptionID *string           `gorm:"column:subscription_id;type:varchar(255);default:null" json:"subscription_id"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt      time.Time         `gorm:"index:idx_payment_history_user,priority:2" json:"created_at"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}
