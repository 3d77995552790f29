package premium

import (
	"fmt"
	"math"
	"time"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/types"
)

type StatusStyle struct {
	Text  string `json:"status_text"`
	Color string `json:"status_color"`
}

var statusStyles = map[types.SubscriptionStatus]StatusStyle{
	types.SubscriptionStatusActive:            {Text: "Active", Color: "#4CAF50"},
	types.SubscriptionStatusInactive:          {Text: "Inactive", Color: "#9E9E9E"},
	types.SubscriptionStatusCancelled:         {Text: "Cancelled", Color: "#FF9800"},
	types.SubscriptionStatusCancelAtPeriodEnd: {Text: "Cancels at Period End", Color: "#FF9800"},
	types.SubscriptionStatusExpired:           {Text: "Expired", Color: "#F44336"},
	types.SubscriptionStatusPastDue:           {Text: "Past Due", Color: "#F44336"},
}

var planTexts = map[types.PlanType]string{
	types.PlanTypeMonthly: "Monthly",
	types.PlanTypeYearly:  "Yearly",
	types.PlanTypeNone:    "Free",
}

// Display is the human-readable rendering of a subscription.
type Display struct {
	StatusText  string `json:"status_text"`
	StatusColor string `json:"status_color"`
	ExpiryText  string `json:"expiry_text"`
	PlanText    string `json:"plan_text"`
}

// StyleFor returns the style of status, falling back to inactive.
func StyleFor(status types.SubscriptionStatus) StatusStyle {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return statusStyles[types.SubscriptionStatusInactive]
}

// Format renders rec at now. A nil record renders as the free tier.
func Format(rec *models.SubscriptionRecord, now time.Time) Display {
	if rec == nil {
		style := StyleFor(types.SubscriptionStatusInactive)
		return Display{StatusText: style.Text, StatusColor: style.Color, PlanText: planTexts[types.PlanTypeNone]}
	}
	style := StyleFor(rec.Status)
	plan, ok := planTexts[rec.PlanType]
	if !ok {
		plan = planTexts[types.PlanTypeNone]
	}
	return Display{
		StatusText:  style.Text,
		StatusColor: style.Color,
		ExpiryText:  ExpiryText(rec.PeriodEnd, now),
		PlanText:    plan,
	}
}

// ExpiryText is "{N} days remaining" with N rounded up, or "Expired" once no
// whole or partial day is left. It is empty without a period end.
func ExpiryText(periodEnd *time.Time, now time.Time) string {
	if periodEnd == nil {
		return ""
	}
	days := int(math.Ceil(float64(periodEnd.Sub(now)) / float64(24*time.Hour)))
	if days > 0 {
		return fmt.Sprintf("%d days remaining", days)
	}
	return "Expired"
}
