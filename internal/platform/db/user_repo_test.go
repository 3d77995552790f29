package db

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/premiumgate/internal/models"
	cfgpkg "github.com/fatflowers/premiumgate/pkg/config"
	"github.com/fatflowers/premiumgate/pkg/types"
)

func TestPatchUpdates(t *testing.T) {
	premium := true
	plan := types.PlanTypeYearly
	active := types.SubscriptionStatusActive
	expired := types.SubscriptionStatusExpired
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := "cus_123"

	tests := []struct {
		name  string
		patch types.SubscriptionPatch
		want  map[string]interface{}
	}{
		{name: "empty", patch: types.SubscriptionPatch{}, want: map[string]interface{}{}},
		{
			name:  "activate",
			patch: types.SubscriptionPatch{IsPremium: &premium, PlanType: &plan, Status: &active, PeriodEnd: &end, BillingCustomerRef: &ref},
			want: map[string]interface{}{
				"is_premium":            true,
				"subscription_type":     types.PlanTypeYearly,
				"subscription_status":   types.SubscriptionStatusActive,
				"subscription_end_date": end,
				"stripe_customer_id":    "cus_123",
			},
		},
		{
			name:  "expired forces premium off",
			patch: types.SubscriptionPatch{IsPremium: &premium, Status: &expired},
			want: map[string]interface{}{
				"is_premium":          false,
				"subscription_status": types.SubscriptionStatusExpired,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, patchUpdates(tt.patch))
		})
	}
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cfg := cfgpkg.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
	r := &UserRepository{breaker: newBreaker("test", cfg, zap.NewNop().Sugar())}

	boom := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		_, err := r.execute(func() (any, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, gobreaker.StateOpen, r.breaker.State())

	_, err := r.execute(func() (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	cfg := cfgpkg.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 1}
	r := &UserRepository{breaker: newBreaker("test", cfg, zap.NewNop().Sugar())}

	for i := 0; i < 3; i++ {
		_, err := r.execute(func() (any, error) { return nil, gorm.ErrRecordNotFound })
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}
	require.Equal(t, gobreaker.StateClosed, r.breaker.State())
}

func TestUpdateSubscription_RejectsInvalidValues(t *testing.T) {
	r := &UserRepository{now: time.Now}
	bad := types.SubscriptionStatus("trialing")
	_, err := r.UpdateSubscription(t.Context(), "u1", types.SubscriptionPatch{Status: &bad})
	require.ErrorIs(t, err, ErrInvalidStatus)

	badPlan := types.PlanType("weekly")
	_, err = r.UpdateSubscription(t.Context(), "u1", types.SubscriptionPatch{PlanType: &badPlan})
	require.Error(t, err)

	_, err = r.UpdateSubscription(t.Context(), "u1", types.SubscriptionPatch{})
	require.ErrorIs(t, err, ErrEmptyPatch)
}

func TestUserRepository_CreateUser(t *testing.T) {
	r, pub := newTestRepo(t)
	ctx := t.Context()

	u, err := r.CreateUser(ctx, "u1", "a@b.c")
	require.NoError(t, err)
	require.False(t, u.CreatedAt.IsZero())

	rec, err := r.FindSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsPremium)
	assert.Equal(t, types.SubscriptionStatusInactive, rec.Status)
	assert.Equal(t, types.PlanTypeNone, rec.PlanType)

	changes := pub.published()
	require.Len(t, changes, 1)
	assert.Equal(t, types.RowChangeInsert, changes[0].Type)
	assert.Equal(t, models.UsersTable, changes[0].Table)
	assert.Equal(t, "u1", changes[0].RowID)

	logs := waitLogs(t, r, "u1", 1)
	assert.Equal(t, types.SubscriptionChangeReasonCreate, logs[0].Reason)
	assert.Nil(t, logs[0].Before.Data())
	require.NotNil(t, logs[0].After.Data())
	assert.Equal(t, types.SubscriptionStatusInactive, logs[0].After.Data().Status)

	_, err = r.CreateUser(ctx, "u1", "other@b.c")
	require.ErrorIs(t, err, ErrUserExists)
	require.Len(t, pub.published(), 1)
}

func TestUserRepository_FindSubscriptionMissingRow(t *testing.T) {
	r, _ := newTestRepo(t)
	rec, err := r.FindSubscription(t.Context(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestUserRepository_UpdateSubscription(t *testing.T) {
	r, pub := newTestRepo(t)
	ctx := t.Context()
	_, err := r.CreateUser(ctx, "u1", "")
	require.NoError(t, err)
	waitLogs(t, r, "u1", 1)

	premium := true
	plan := types.PlanTypeYearly
	active := types.SubscriptionStatusActive
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	ref := "cus_1"
	after, err := r.UpdateSubscription(ctx, "u1", types.SubscriptionPatch{
		IsPremium: &premium, PlanType: &plan, Status: &active, PeriodEnd: &end, BillingCustomerRef: &ref,
	})
	require.NoError(t, err)
	assert.True(t, after.IsPremium)
	assert.Equal(t, types.PlanTypeYearly, after.PlanType)
	assert.Equal(t, types.SubscriptionStatusActive, after.Status)
	require.NotNil(t, after.PeriodEnd)
	assert.True(t, end.Equal(*after.PeriodEnd))
	require.NotNil(t, after.BillingCustomerRef)
	assert.Equal(t, "cus_1", *after.BillingCustomerRef)

	changes := pub.published()
	require.Len(t, changes, 2)
	assert.Equal(t, types.RowChangeUpdate, changes[1].Type)
	assert.Equal(t, "u1", changes[1].RowID)

	logs := waitLogs(t, r, "u1", 2)
	assert.Equal(t, types.SubscriptionChangeReasonAdminUpdate, logs[0].Reason)
	assert.False(t, logs[0].Before.Data().IsPremium)
	assert.True(t, logs[0].After.Data().IsPremium)
	assert.Equal(t, types.SubscriptionChangeReasonCreate, logs[1].Reason)

	newest, err := r.ListSubscriptionLogs(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, logs[0].ID, newest[0].ID)

	_, err = r.UpdateSubscription(ctx, "nobody", types.SubscriptionPatch{IsPremium: &premium})
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Len(t, pub.published(), 2)
}

func TestUserRepository_MarkExpired(t *testing.T) {
	r, pub := newTestRepo(t)
	ctx := t.Context()
	_, err := r.CreateUser(ctx, "u1", "")
	require.NoError(t, err)
	premium := true
	active := types.SubscriptionStatusActive
	_, err = r.UpdateSubscription(ctx, "u1", types.SubscriptionPatch{IsPremium: &premium, Status: &active})
	require.NoError(t, err)
	waitLogs(t, r, "u1", 2)

	require.NoError(t, r.MarkExpired(ctx, "u1", time.Now()))

	rec, err := r.FindSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsPremium)
	assert.Equal(t, types.SubscriptionStatusExpired, rec.Status)

	changes := pub.published()
	require.Len(t, changes, 3)
	assert.Equal(t, types.RowChangeUpdate, changes[2].Type)

	logs := waitLogs(t, r, "u1", 3)
	assert.Equal(t, types.SubscriptionChangeReasonReconcileExpired, logs[0].Reason)
	assert.True(t, logs[0].Before.Data().IsPremium)
	assert.Equal(t, types.SubscriptionStatusExpired, logs[0].After.Data().Status)

	require.ErrorIs(t, r.MarkExpired(ctx, "nobody", time.Now()), ErrUserNotFound)
}

func TestUserRepository_PremiumPatchOnExpiredRow(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := t.Context()
	_, err := r.CreateUser(ctx, "u1", "")
	require.NoError(t, err)
	require.NoError(t, r.MarkExpired(ctx, "u1", time.Now()))

	premium := true
	after, err := r.UpdateSubscription(ctx, "u1", types.SubscriptionPatch{IsPremium: &premium})
	require.NoError(t, err)
	assert.False(t, after.IsPremium, "an expired row stays without premium")
	assert.Equal(t, types.SubscriptionStatusExpired, after.Status)

	rec, err := r.FindSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsPremium)

	// moving the row out of expired may grant again
	active := types.SubscriptionStatusActive
	after, err = r.UpdateSubscription(ctx, "u1", types.SubscriptionPatch{IsPremium: &premium, Status: &active})
	require.NoError(t, err)
	assert.True(t, after.IsPremium)
	assert.Equal(t, types.SubscriptionStatusActive, after.Status)
	waitLogs(t, r, "u1", 4)
}

func TestUserRepository_PublishFailureKeepsWrite(t *testing.T) {
	r, pub := newTestRepo(t)
	pub.err = errors.New("redis unavailable")
	ctx := t.Context()

	_, err := r.CreateUser(ctx, "u1", "")
	require.NoError(t, err)
	premium := true
	active := types.SubscriptionStatusActive
	after, err := r.UpdateSubscription(ctx, "u1", types.SubscriptionPatch{IsPremium: &premium, Status: &active})
	require.NoError(t, err)
	assert.True(t, after.IsPremium)
	require.Len(t, pub.published(), 2)
	waitLogs(t, r, "u1", 2)
}
