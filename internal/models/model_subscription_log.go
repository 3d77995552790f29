package models

import (
	"time"

	"github.com/fatflowers/premiumgate/pkg/types"

	"gorm.io/datatypes"
)

// SubscriptionLog records changes to the subscription columns of a user.
// Use case: troubleshooting reconciliation and billing updates.
type SubscriptionLog struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);index:idx_subscription_log_user,priority:1;not null" json:"user_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before stores the projection before the change.
	Before datatypes.JSONType[*SubscriptionRecord] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	// After stores the projection after the change.
	After     datatypes.JSONType[*SubscriptionRecord] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	CreatedAt time.Time                               `gorm:"index:idx_subscription_log_user,priority:2" json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
