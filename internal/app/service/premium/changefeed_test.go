package premium

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/types"
)

type recordSink struct {
	mu   sync.Mutex
	recs []*models.SubscriptionRecord
}

func (s *recordSink) add(rec *models.SubscriptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *recordSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *recordSink) last() *models.SubscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recs) == 0 {
		return nil
	}
	return s.recs[len(s.recs)-1]
}

func waitSubscribed(t *testing.T, rt *fakeRealtime) *fakeChannel {
	t.Helper()
	select {
	case ch := <-rt.subscribed:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("change feed never subscribed")
		return nil
	}
}

func TestChangeFeed_EventRefetchesAndInvalidates(t *testing.T) {
	log := zap.NewNop().Sugar()
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	store := NewStore(staticUser("u1"), rows, log)
	rt := newFakeRealtime()
	feed := NewChangeFeed(store, staticUser("u1"), rt, 5*time.Millisecond, log)
	ctx := context.Background()

	require.Equal(t, types.SubscriptionStatusActive, store.GetSubscription(ctx, false).Status)

	sink := &recordSink{}
	unsubscribe := feed.Subscribe(ctx, sink.add)
	defer unsubscribe()

	ch := waitSubscribed(t, rt)
	require.Equal(t, models.UsersTable, ch.filter.Table)
	require.Equal(t, "u1", ch.filter.RowID)
	require.Contains(t, ch.name, "premium-u1-")

	rows.set(premiumRecord("u1", types.SubscriptionStatusCancelled, nil))
	ch.emit(userChange("u1"))

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, types.SubscriptionStatusCancelled, sink.last().Status)
	require.Equal(t, types.SubscriptionStatusCancelled, store.GetSubscription(ctx, false).Status,
		"the pre-event cached value must not be served after a change")
}

func TestChangeFeed_IgnoresOtherRows(t *testing.T) {
	log := zap.NewNop().Sugar()
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	store := NewStore(staticUser("u1"), rows, log)
	rt := newFakeRealtime()
	feed := NewChangeFeed(store, staticUser("u1"), rt, 0, log)

	sink := &recordSink{}
	unsubscribe := feed.Subscribe(context.Background(), sink.add)
	defer unsubscribe()

	ch := waitSubscribed(t, rt)
	ch.emit(userChange("u2"))
	ch.emit(types.RowChange{Type: types.RowChangeInsert, Table: "payment_history", RowID: "u1"})

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sink.len())
}

func TestChangeFeed_EventsAreNotCoalesced(t *testing.T) {
	log := zap.NewNop().Sugar()
	rows := newFakeRows(premiumRecord("u1", types.SubscriptionStatusActive, nil))
	store := NewStore(staticUser("u1"), rows, log)
	rt := newFakeRealtime()
	feed := NewChangeFeed(store, staticUser("u1"), rt, 10*time.Millisecond, log)

	sink := &recordSink{}
	unsubscribe := feed.Subscribe(context.Background(), sink.add)
	defer unsubscribe()

	ch := waitSubscribed(t, rt)
	for i := 0; i < 3; i++ {
		ch.emit(userChange("u1"))
	}
	require.Eventually(t, func() bool { return sink.len() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, rows.findCount())
}

func TestChangeFeed_UnsubscribeBeforeAttach(t *testing.T) {
	log := zap.NewNop().Sugar()
	rows := newFakeRows()
	store := NewStore(staticUser("u1"), rows, log)
	rt := newFakeRealtime()
	rt.gate = make(chan struct{})
	feed := NewChangeFeed(store, staticUser("u1"), rt, 0, log)

	unsubscribe := feed.Subscribe(context.Background(), func(*models.SubscriptionRecord) {
		t.Error("callback after unsubscribe")
	})
	require.NotPanics(t, unsubscribe)
	require.NotPanics(t, unsubscribe)

	close(rt.gate)
	ch := waitSubscribed(t, rt)
	require.Eventually(t, ch.closed.Load, 2*time.Second, 5*time.Millisecond)
}

func TestChangeFeed_UnsubscribeClosesChannel(t *testing.T) {
	log := zap.NewNop().Sugar()
	store := NewStore(staticUser("u1"), newFakeRows(), log)
	rt := newFakeRealtime()
	feed := NewChangeFeed(store, staticUser("u1"), rt, 0, log)

	unsubscribe := feed.Subscribe(context.Background(), func(*models.SubscriptionRecord) {})
	ch := waitSubscribed(t, rt)
	// give attach a moment to record the channel
	require.Eventually(t, func() bool {
		unsubscribe()
		return ch.closed.Load()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestChangeFeed_NoSessionOrChannelFailure(t *testing.T) {
	log := zap.NewNop().Sugar()

	rt := newFakeRealtime()
	feed := NewChangeFeed(NewStore(staticUser(""), newFakeRows(), log), staticUser(""), rt, 0, log)
	unsubscribe := feed.Subscribe(context.Background(), func(*models.SubscriptionRecord) {})
	defer unsubscribe()

	failing := newFakeRealtime()
	failing.err = errors.New("socket closed")
	feed2 := NewChangeFeed(NewStore(staticUser("u1"), newFakeRows(), log), staticUser("u1"), failing, 0, log)
	unsubscribe2 := feed2.Subscribe(context.Background(), func(*models.SubscriptionRecord) {})
	defer unsubscribe2()

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, rt.subscribed)
	require.Empty(t, failing.subscribed)
}
