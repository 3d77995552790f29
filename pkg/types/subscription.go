package types

import (
	"time"

	"github.com/samber/lo"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusInactive          SubscriptionStatus = "inactive"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
	SubscriptionStatusCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	SubscriptionStatusExpired           SubscriptionStatus = "expired"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
)

// AllSubscriptionStatuses lists every status a users row can carry.
var AllSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusInactive,
	SubscriptionStatusCancelled,
	SubscriptionStatusCancelAtPeriodEnd,
	SubscriptionStatusExpired,
	SubscriptionStatusPastDue,
}

// AccessClass says whether a status, on its own, allows premium access.
type AccessClass int

const (
	AccessClassRevokes AccessClass = iota
	AccessClassGrants
)

// AccessClass maps a status to its access class. A cancelled subscription keeps
// access until its paid period ends, so it grants here; the period check is
// applied separately. Unknown statuses revoke.
func (s SubscriptionStatus) AccessClass() AccessClass {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusCancelAtPeriodEnd:
		return AccessClassGrants
	case SubscriptionStatusInactive, SubscriptionStatusExpired, SubscriptionStatusPastDue:
		return AccessClassRevokes
	default:
		return AccessClassRevokes
	}
}

func (s SubscriptionStatus) Valid() bool {
	return lo.Contains(AllSubscriptionStatuses, s)
}

type PlanType string

const (
	PlanTypeMonthly PlanType = "monthly"
	PlanTypeYearly  PlanType = "yearly"
	PlanTypeNone    PlanType = "none"
)

var AllPlanTypes = []PlanType{PlanTypeMonthly, PlanTypeYearly, PlanTypeNone}

func (p PlanType) Valid() bool {
	return lo.Contains(AllPlanTypes, p)
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonReconcileExpired SubscriptionChangeReason = "reconcile_expired"
	SubscriptionChangeReasonAdminUpdate      SubscriptionChangeReason = "admin_update"
	SubscriptionChangeReasonCreate           SubscriptionChangeReason = "create"
)

// SubscriptionPatch carries the columns a billing process may overwrite.
// Nil fields are left untouched.
type SubscriptionPatch struct {
	IsPremium          *bool               `json:"is_premium"`
	PlanType           *PlanType           `json:"subscription_type"`
	Status             *SubscriptionStatus `json:"subscription_status"`
	PeriodStart        *time.Time          `json:"subscription_start_date"`
	PeriodEnd          *time.Time          `json:"subscription_end_date"`
	BillingCustomerRef *string             `json:"stripe_customer_id"`
}
