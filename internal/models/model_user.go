package models

import (
	"time"

	"github.com/fatflowers/premiumgate/pkg/types"
)

// UsersTable is the table whose rows carry the subscription state.
const UsersTable = "users"

// User is one account row. Subscription columns are written by the billing
// process and by expiry reconciliation.
type User struct {
	ID                 string                   `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Email              string                   `gorm:"column:email;type:varchar(255)" json:"email"`
	IsPremium          bool                     `gorm:"column:is_premium;not null;default:false" json:"is_premium"`
	PlanType           types.PlanType           `gorm:"column:subscription_type;type:varchar(32);not null;default:'none'" json:"subscription_type"`
	Status             types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(32);not null;default:'inactive'" json:"subscription_status"`
	PeriodStart        *time.Time               `gorm:"column:subscription_start_date;default:null" json:"subscription_start_date"`
	PeriodEnd          *time.Time               `gorm:"column:subscription_end_date;default:null" json:"subscription_end_date"`
	BillingCustomerRef *string                  `gorm:"column:stripe_customer_id;type:varchar(255);default:null" json:"stripe_customer_id"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

func (User) TableName() string {
	return UsersTable
}

// SubscriptionColumns is the projection selected into SubscriptionRecord.
var SubscriptionColumns = []string{
	"id",
	"is_premium",
	"subscription_type",
	"subscription_status",
	"subscription_start_date",
	"subscription_end_date",
	"stripe_customer_id",
}

// SubscriptionRecord is the billing/access projection of a users row.
// A record with Status expired must have IsPremium false.
type SubscriptionRecord struct {
	ID                 string                   `gorm:"column:id" json:"id"`
	IsPremium          bool                     `gorm:"column:is_premium" json:"is_premium"`
	PlanType           types.PlanType           `gorm:"column:subscription_type" json:"subscription_type"`
	Status             types.SubscriptionStatus `gorm:"column:subscription_status" json:"subscription_status"`
	PeriodStart        *time.Time               `gorm:"column:subscription_start_date" json:"subscription_start_date"`
	PeriodEnd          *time.Time               `gorm:"column:subscription_end_date" json:"subscription_end_date"`
	BillingCustomerRef *string                  `gorm:"column:stripe_customer_id" json:"stripe_customer_id"`
}

func (SubscriptionRecord) TableName() string {
	return UsersTable
}

// Record returns the subscription projection of u.
func (u *User) Record() *SubscriptionRecord {
	if u == nil {
		return nil
	}
	return &SubscriptionRecord{
		ID:                 u.ID,
		IsPremium:          u.IsPremium,
		PlanType:           u.PlanType,
		Status:             u.Status,
		PeriodStart:        u.PeriodStart,
		PeriodEnd:          u.PeriodEnd,
		BillingCustomerRef: u.BillingCustomerRef,
	}
}

// NewUser returns a row with the defaults a fresh account starts from.
func NewUser(id, email string) *User {
	return &User{
		ID:       id,
		Email:    email,
		PlanType: types.PlanTypeNone,
		Status:   types.SubscriptionStatusInactive,
	}
}
