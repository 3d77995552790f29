package premium

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/metrics"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// Service composes the store, the access policy and the change feed for a
// single user.
type Service struct {
	store *Store
	feed  *ChangeFeed
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewService(store *Store, feed *ChangeFeed, log *zap.SugaredLogger) *Service {
	return &Service{store: store, feed: feed, log: log, now: store.now}
}

func (s *Service) Store() *Store {
	return s.store
}

// GetUserSubscription returns the cached or freshly fetched record. A freshly
// fetched row whose paid period is over is written back as expired, and the
// record is returned as written.
func (s *Service) GetUserSubscription(ctx context.Context, forceRefresh bool) *models.SubscriptionRecord {
	rec, fresh := s.store.lookup(ctx, forceRefresh)
	if !fresh || !Classify(rec, s.now()).NeedsReconciliation {
		return rec
	}
	if !s.reconcile(ctx, rec) {
		return rec
	}
	return expiredView(rec)
}

// GetSubscriptionDirect bypasses the cache entirely.
func (s *Service) GetSubscriptionDirect(ctx context.Context) *models.SubscriptionRecord {
	return s.store.GetSubscriptionUncached(ctx)
}

func (s *Service) Invalidate() {
	s.store.Invalidate()
}

// IsPremium loads the record and decides access, reconciling a lapsed row.
func (s *Service) IsPremium(ctx context.Context, forceRefresh bool) bool {
	return s.HasAccess(ctx, s.GetUserSubscription(ctx, forceRefresh))
}

// HasAccess decides access for rec. A row that still claims access after its
// period ended is written back as expired once per call; access is denied
// whether or not that write succeeds.
func (s *Service) HasAccess(ctx context.Context, rec *models.SubscriptionRecord) bool {
	return s.settle(ctx, rec, Classify(rec, s.now()))
}

func (s *Service) CanAccessFeature(ctx context.Context, feature Feature) bool {
	rec := s.GetUserSubscription(ctx, false)
	return s.settle(ctx, rec, ClassifyFeature(feature, rec, s.now()))
}

// Subscribe forwards fresh records to callback after every row change.
func (s *Service) Subscribe(ctx context.Context, callback func(*models.SubscriptionRecord)) (unsubscribe func()) {
	return s.feed.Subscribe(ctx, callback)
}

func (s *Service) settle(ctx context.Context, rec *models.SubscriptionRecord, d Decision) bool {
	if d.NeedsReconciliation {
		s.reconcile(ctx, rec)
	}
	return d.Access
}

// reconcile writes rec back as expired and reports whether the write landed.
func (s *Service) reconcile(ctx context.Context, rec *models.SubscriptionRecord) bool {
	lg := logctx.FromCtx(ctx, s.log)
	if err := s.store.WriteExpired(ctx, rec.ID); err != nil {
		metrics.Reconciles.WithLabelValues("failed").Inc()
		lg.Errorw("subscription_reconcile_failed", "user_id", rec.ID, "err", err)
		return false
	}
	metrics.Reconciles.WithLabelValues("ok").Inc()
	lg.Infow("subscription_reconciled_expired", "user_id", rec.ID, "period_end", rec.PeriodEnd)
	s.store.Invalidate()
	return true
}

func expiredView(rec *models.SubscriptionRecord) *models.SubscriptionRecord {
	cp := cloneRecord(rec)
	cp.IsPremium = false
	cp.Status = types.SubscriptionStatusExpired
	return cp
}
