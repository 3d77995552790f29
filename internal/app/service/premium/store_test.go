package premium

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/pkg/types"
)

func newTestStore(users UserResolver, rows RowStore, clock *fakeClock) *Store {
	return NewStore(users, rows, zap.NewNop().Sugar(), WithClock(clock.Now))
}

func TestStore_RespectsTTL(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, clock)
	ctx := context.Background()

	require.NotNil(t, s.GetSubscription(ctx, false))
	require.Equal(t, 1, rows.findCount())

	clock.Advance(DefaultCacheTTL - time.Millisecond)
	require.NotNil(t, s.GetSubscription(ctx, false))
	require.Equal(t, 1, rows.findCount(), "read inside the TTL must be served from cache")

	clock.Advance(2 * time.Millisecond)
	require.NotNil(t, s.GetSubscription(ctx, false))
	require.Equal(t, 2, rows.findCount(), "read after the TTL must refetch")
}

func TestStore_ForceRefreshBypassesCache(t *testing.T) {
	clock := newFakeClock(time.Now())
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, clock)
	ctx := context.Background()

	s.GetSubscription(ctx, false)
	rows.set(premiumRecord("u1", types.SubscriptionStatusPastDue, nil))

	require.Equal(t, types.SubscriptionStatusActive, s.GetSubscription(ctx, false).Status)
	require.Equal(t, types.SubscriptionStatusPastDue, s.GetSubscription(ctx, true).Status)
	// the forced read refreshed the cache
	require.Equal(t, types.SubscriptionStatusPastDue, s.GetSubscription(ctx, false).Status)
	require.Equal(t, 2, rows.findCount())
}

func TestStore_SoftNull(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())

	tests := []struct {
		name  string
		users UserResolver
		rows  *fakeRows
	}{
		{name: "unauthenticated", users: staticUser(""), rows: newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))},
		{name: "user lookup error", users: failingUsers{}, rows: newFakeRows()},
		{name: "row error", users: staticUser("u1"), rows: &fakeRows{records: nil, findErr: errors.New("connection reset")}},
		{name: "row not found", users: staticUser("u1"), rows: newFakeRows()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(tt.users, tt.rows, clock)
			require.Nil(t, s.GetSubscription(ctx, false))
			require.Nil(t, s.GetSubscriptionUncached(ctx))
			// failures are not cached
			require.Nil(t, s.entry.Load())
		})
	}
}

func TestStore_RowStorePanicIsContained(t *testing.T) {
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	rows.onFind = func() { panic("driver bug") }
	s := newTestStore(staticUser("u1"), rows, newFakeClock(time.Now()))

	require.NotPanics(t, func() {
		require.Nil(t, s.GetSubscription(context.Background(), false))
	})
}

func TestStore_UncachedLeavesCacheAlone(t *testing.T) {
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, newFakeClock(time.Now()))
	ctx := context.Background()

	s.GetSubscription(ctx, false)
	rows.set(premiumRecord("u1", types.SubscriptionStatusCancelled, nil))

	require.Equal(t, types.SubscriptionStatusCancelled, s.GetSubscriptionUncached(ctx).Status)
	require.Equal(t, types.SubscriptionStatusActive, s.GetSubscription(ctx, false).Status)
}

func TestStore_InvalidateForcesMiss(t *testing.T) {
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, newFakeClock(time.Now()))
	ctx := context.Background()

	s.GetSubscription(ctx, false)
	s.Invalidate()
	s.GetSubscription(ctx, false)
	require.Equal(t, 2, rows.findCount())
}

func TestStore_InvalidateDuringFetchWins(t *testing.T) {
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, newFakeClock(time.Now()))
	ctx := context.Background()

	rows.onFind = s.Invalidate
	require.NotNil(t, s.GetSubscription(ctx, false))
	rows.onFind = nil

	s.GetSubscription(ctx, false)
	require.Equal(t, 2, rows.findCount(), "a result fetched across an invalidation must not be cached")
}

func TestStore_CachedRecordIsACopy(t *testing.T) {
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, newFakeClock(time.Now()))
	ctx := context.Background()

	first := s.GetSubscription(ctx, false)
	first.Status = types.SubscriptionStatusExpired
	require.Equal(t, types.SubscriptionStatusActive, s.GetSubscription(ctx, false).Status)
}

func TestStore_WriteExpired(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	s := newTestStore(staticUser("u1"), rows, clock)
	ctx := context.Background()

	s.GetSubscription(ctx, false)
	require.NoError(t, s.WriteExpired(ctx, "u1"))

	calls := rows.markCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "u1", calls[0].userID)
	require.Equal(t, clock.Now(), calls[0].at)

	// the write does not invalidate
	require.Equal(t, types.SubscriptionStatusActive, s.GetSubscription(ctx, false).Status)
	require.Equal(t, 1, rows.findCount())

	require.ErrorIs(t, s.WriteExpired(ctx, ""), ErrEmptyRecordID)

	rows.markErr = errors.New("timeout")
	err := s.WriteExpired(ctx, "u1")
	require.Error(t, err)
	require.ErrorIs(t, err, rows.markErr)
}
