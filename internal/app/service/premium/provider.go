package premium

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/logctx"
)

const DefaultSessionRefreshInterval = 45 * time.Minute

// State is what a consumer observes.
type State struct {
	Subscription *models.SubscriptionRecord `json:"subscription"`
	IsPremium    bool                       `json:"is_premium"`
	IsLoading    bool                       `json:"is_loading"`
}

// Provider exposes subscription state to one consumer for the time between
// Mount and Unmount. Every trigger (initial load, refresh, change feed)
// fetches and then overwrites the state, so the last one to finish wins.
// Failures surface as a nil subscription without premium, never as an error.
type Provider struct {
	svc      *Service
	sessions SessionRefresher
	interval time.Duration
	onChange func(State)
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	state   State
	mounted bool

	// notifyMu orders state publication against Unmount so that no update is
	// applied or delivered once Unmount returns.
	notifyMu sync.Mutex
	alive    atomic.Bool

	runCtx      context.Context
	stop        context.CancelFunc
	unsubscribe func()
	loopDone    chan struct{}
	unmountOnce sync.Once
}

type ProviderOption func(*Provider)

func WithRefreshInterval(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithOnChange registers fn to receive every state the provider publishes.
// fn must not block.
func WithOnChange(fn func(State)) ProviderOption {
	return func(p *Provider) {
		p.onChange = fn
	}
}

// NewProvider builds an unmounted provider. sessions may be nil, in which
// case no session refresh runs.
func NewProvider(svc *Service, sessions SessionRefresher, log *zap.SugaredLogger, opts ...ProviderOption) *Provider {
	p := &Provider{
		svc:      svc,
		sessions: sessions,
		interval: DefaultSessionRefreshInterval,
		log:      log,
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mount loads the initial state, attaches the change feed and arms the
// session refresh timer. It returns once the state is ready. The provider
// outlives cancellation of ctx until Unmount; values of ctx are kept.
func (p *Provider) Mount(ctx context.Context) {
	p.mu.Lock()
	if p.mounted {
		p.mu.Unlock()
		panic("premium: Provider mounted twice")
	}
	p.state = State{IsLoading: true}
	p.runCtx, p.stop = context.WithCancel(context.WithoutCancel(ctx))
	p.alive.Store(true)
	p.unsubscribe = p.svc.Subscribe(p.runCtx, p.onFeedChange)
	go p.refreshLoop(p.runCtx)
	// Unmount relies on stop and unsubscribe once mounted is visible.
	p.mounted = true
	p.mu.Unlock()

	p.apply(p.runCtx, p.svc.GetUserSubscription(p.runCtx, false))
}

// Unmount stops the refresh timer and the change feed. Fetches still in
// flight finish without touching the state.
func (p *Provider) Unmount() {
	p.mustBeMounted()
	p.unmountOnce.Do(func() {
		p.notifyMu.Lock()
		p.alive.Store(false)
		p.notifyMu.Unlock()

		p.stop()
		p.unsubscribe()
		<-p.loopDone
	})
}

// State returns the latest published state.
func (p *Provider) State() State {
	p.mustBeMounted()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// RefreshSubscription drops the cache and reloads from the row store.
func (p *Provider) RefreshSubscription(ctx context.Context) State {
	p.mustBeMounted()
	p.svc.Invalidate()
	p.apply(ctx, p.svc.GetSubscriptionDirect(ctx))
	return p.State()
}

// GetSubscriptionDirect reloads without consulting the cache, as used by
// pull-to-refresh.
func (p *Provider) GetSubscriptionDirect(ctx context.Context) *models.SubscriptionRecord {
	p.mustBeMounted()
	rec := p.svc.GetSubscriptionDirect(ctx)
	p.apply(ctx, rec)
	return rec
}

// CanAccessFeature checks the current state against the clock.
func (p *Provider) CanAccessFeature(feature Feature) bool {
	return ClassifyFeature(feature, p.State().Subscription, p.svc.now()).Access
}

func (p *Provider) FormatSubscription() Display {
	return Format(p.State().Subscription, p.svc.now())
}

func (p *Provider) onFeedChange(rec *models.SubscriptionRecord) {
	p.apply(p.runCtx, rec)
}

func (p *Provider) apply(ctx context.Context, rec *models.SubscriptionRecord) {
	if !p.alive.Load() {
		return
	}
	isPremium := p.svc.HasAccess(ctx, rec)
	p.publish(State{Subscription: rec, IsPremium: isPremium})
}

func (p *Provider) publish(st State) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if !p.alive.Load() {
		return
	}
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(st)
	}
}

func (p *Provider) refreshLoop(ctx context.Context) {
	defer close(p.loopDone)
	if p.sessions == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.sessions.RefreshSession(ctx); err != nil && ctx.Err() == nil {
				logctx.FromCtx(ctx, p.log).Warnw("session_refresh_failed", "err", err)
			}
		}
	}
}

func (p *Provider) mustBeMounted() {
	p.mu.RLock()
	mounted := p.mounted
	p.mu.RUnlock()
	if !mounted {
		panic("premium: Provider used before Mount")
	}
}

type providerKey struct{}

// WithProvider attaches a mounted provider to ctx for UsePremium.
func WithProvider(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// UsePremium returns the provider attached to ctx. Calling it outside a
// mounted provider is a programming error and panics.
func UsePremium(ctx context.Context) *Provider {
	p, ok := ctx.Value(providerKey{}).(*Provider)
	if !ok || p == nil {
		panic("premium: UsePremium called outside a Provider")
	}
	p.mustBeMounted()
	return p
}
