package premium

import (
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// Feature names a premium capability of the marketplace.
type Feature string

const (
	FeatureAnalytics         Feature = "analytics"
	FeatureDataExport        Feature = "data_export"
	FeatureUnlimitedBookings Feature = "unlimited_bookings"
	FeatureFeaturedListing   Feature = "featured_listing"
	FeaturePrioritySupport   Feature = "priority_support"
)

var AllFeatures = []Feature{
	FeatureAnalytics,
	FeatureDataExport,
	FeatureUnlimitedBookings,
	FeatureFeaturedListing,
	FeaturePrioritySupport,
}

func (f Feature) Valid() bool {
	return lo.Contains(AllFeatures, f)
}

// Decision is the outcome of classifying a record at a point in time.
type Decision struct {
	Access bool
	// NeedsReconciliation is set when the row still claims access but its
	// paid period is over; the row should be rewritten as expired.
	NeedsReconciliation bool
}

// Classify decides premium access for rec at now. It has no side effects.
func Classify(rec *models.SubscriptionRecord, now time.Time) Decision {
	if rec == nil {
		return Decision{}
	}
	if !rec.IsPremium || rec.Status.AccessClass() != types.AccessClassGrants {
		return Decision{}
	}
	if rec.PeriodEnd != nil && rec.PeriodEnd.Before(now) {
		return Decision{NeedsReconciliation: true}
	}
	return Decision{Access: true}
}

// ClassifyFeature decides access to a single feature. Every feature shares
// one tier today.
func ClassifyFeature(_ Feature, rec *models.SubscriptionRecord, now time.Time) Decision {
	return Classify(rec, now)
}
