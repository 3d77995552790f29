package premium

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/metrics"
	"github.com/fatflowers/premiumgate/pkg/tool"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// DefaultChangeGrace lets replicas catch up with a write before refetching.
const DefaultChangeGrace = 100 * time.Millisecond

// ChangeFeed turns row changes on the user's record into cache invalidation
// and a fresh fetch. Events are not coalesced: each one runs its own
// invalidate, wait, fetch and callback, so callbacks may complete out of order.
type ChangeFeed struct {
	store    *Store
	users    UserResolver
	realtime Realtime
	grace    time.Duration
	log      *zap.SugaredLogger
}

func NewChangeFeed(store *Store, users UserResolver, realtime Realtime, grace time.Duration, log *zap.SugaredLogger) *ChangeFeed {
	if grace < 0 {
		grace = DefaultChangeGrace
	}
	return &ChangeFeed{store: store, users: users, realtime: realtime, grace: grace, log: log}
}

// Subscribe returns at once; the channel attaches in the background. The
// returned function tears the channel down and may be called at any time,
// including before the attach finished, and more than once.
func (f *ChangeFeed) Subscribe(ctx context.Context, callback func(*models.SubscriptionRecord)) (unsubscribe func()) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &feedSubscription{cancel: cancel, log: logctx.FromCtx(ctx, f.log)}
	go f.attach(subCtx, sub, callback)
	return sub.close
}

func (f *ChangeFeed) attach(ctx context.Context, sub *feedSubscription, callback func(*models.SubscriptionRecord)) {
	lg := logctx.FromCtx(ctx, f.log)
	userID, err := f.users.CurrentUserID(ctx)
	if err != nil {
		lg.Warnw("change_feed_user_lookup_failed", "err", err)
		return
	}
	if userID == "" {
		lg.Debugw("change_feed_no_session")
		return
	}

	name := fmt.Sprintf("premium-%s-%s", userID, tool.ShortID())
	filter := types.RowFilter{
		Table:  models.UsersTable,
		RowID:  userID,
		Events: []types.RowChangeType{types.RowChangeInsert, types.RowChangeUpdate, types.RowChangeDelete},
	}
	ch, err := f.realtime.Subscribe(ctx, name, filter, func(change types.RowChange) {
		go f.handle(ctx, change, callback)
	})
	if err != nil {
		lg.Errorw("change_feed_subscribe_failed", "channel", name, "err", err)
		return
	}
	if !sub.attach(ch) {
		if err := ch.Close(); err != nil {
			lg.Warnw("change_feed_close_failed", "channel", name, "err", err)
		}
		return
	}
	lg.Infow("change_feed_attached", "channel", name)
}

func (f *ChangeFeed) handle(ctx context.Context, change types.RowChange, callback func(*models.SubscriptionRecord)) {
	metrics.ChangeEvents.WithLabelValues(string(change.Type)).Inc()
	f.store.Invalidate()

	if f.grace > 0 {
		t := time.NewTimer(f.grace)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	rec := f.store.GetSubscriptionUncached(ctx)
	if ctx.Err() != nil {
		return
	}
	callback(rec)
}

type feedSubscription struct {
	mu     sync.Mutex
	ch     Channel
	closed bool
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

// attach reports false when the subscription was closed before the channel
// arrived; the caller owns the channel then.
func (s *feedSubscription) attach(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch = ch
	metrics.ActiveFeeds.Inc()
	return true
}

func (s *feedSubscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	s.cancel()
	if ch == nil {
		return
	}
	metrics.ActiveFeeds.Dec()
	if err := ch.Close(); err != nil {
		s.log.Warnw("change_feed_close_failed", "err", err)
	}
}
