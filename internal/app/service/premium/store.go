package premium

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/metrics"
)

const DefaultCacheTTL = 5 * time.Minute

var ErrEmptyRecordID = errors.New("premium: empty record id")

// cacheEntry is replaced as a whole, never mutated. A zero fetchedAt marks an
// invalidated entry.
type cacheEntry struct {
	record    *models.SubscriptionRecord
	fetchedAt time.Time
}

// Store owns the current user's subscription row and a bounded-staleness
// cache of it. Failures degrade to a nil record; nothing panics past it.
type Store struct {
	users UserResolver
	rows  RowStore
	log   *zap.SugaredLogger
	ttl   time.Duration
	now   func() time.Time

	entry atomic.Pointer[cacheEntry]
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(users UserResolver, rows RowStore, log *zap.SugaredLogger, opts ...StoreOption) *Store {
	s := &Store{users: users, rows: rows, log: log, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSubscription serves the cached record while it is younger than the TTL,
// unless forceRefresh is set. Otherwise it fetches and caches a fresh copy.
func (s *Store) GetSubscription(ctx context.Context, forceRefresh bool) *models.SubscriptionRecord {
	rec, _ := s.lookup(ctx, forceRefresh)
	return rec
}

// lookup is GetSubscription that also reports whether the record was just
// fetched from the row store.
func (s *Store) lookup(ctx context.Context, forceRefresh bool) (*models.SubscriptionRecord, bool) {
	current := s.entry.Load()
	if forceRefresh {
		metrics.CacheLookups.WithLabelValues("bypass").Inc()
	} else if current != nil && !current.fetchedAt.IsZero() && s.now().Sub(current.fetchedAt) < s.ttl {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cloneRecord(current.record), false
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	rec := s.fetch(ctx)
	if rec == nil {
		return nil, true
	}
	// An Invalidate that raced with the fetch wins: the swap fails and the
	// next read goes back to the row store.
	s.entry.CompareAndSwap(current, &cacheEntry{record: rec, fetchedAt: s.now()})
	return cloneRecord(rec), true
}

// GetSubscriptionUncached always goes to the row store and leaves the cache
// untouched.
func (s *Store) GetSubscriptionUncached(ctx context.Context) *models.SubscriptionRecord {
	return s.fetch(ctx)
}

// Invalidate guarantees the next GetSubscription is a miss.
func (s *Store) Invalidate() {
	s.entry.Store(&cacheEntry{})
}

// WriteExpired marks recordID as expired and no longer premium. The cache is
// left alone; callers invalidate after a successful write.
func (s *Store) WriteExpired(ctx context.Context, recordID string) (err error) {
	if recordID == "" {
		return ErrEmptyRecordID
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("premium: mark expired panicked: %v", r)
		}
	}()
	if err := s.rows.MarkExpired(ctx, recordID, s.now()); err != nil {
		return fmt.Errorf("failed to mark subscription expired: %w", err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context) (rec *models.SubscriptionRecord) {
	lg := logctx.FromCtx(ctx, s.log)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			lg.Errorw("subscription_fetch_panic", "panic", r)
			rec = nil
		}
		metrics.BusinessProcess.WithLabelValues("subscription", "fetch").Observe(metrics.MillisecondsSince(start))
	}()

	userID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		lg.Warnw("subscription_user_lookup_failed", "err", err)
		return nil
	}
	if userID == "" {
		lg.Debugw("subscription_no_session")
		return nil
	}

	rec, err = s.rows.FindSubscription(ctx, userID)
	if err != nil {
		lg.Errorw("subscription_fetch_failed", "user_id", userID, "err", err)
		return nil
	}
	if rec == nil {
		lg.Infow("subscription_not_found", "user_id", userID)
		return nil
	}
	return rec
}

func cloneRecord(rec *models.SubscriptionRecord) *models.SubscriptionRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}
