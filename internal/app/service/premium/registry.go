package premium

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/pkg/config"
)

// Registry owns one Service, and so one cache, per user. It is created by
// the composition root and lives as long as the process.
type Registry struct {
	users    UserResolver
	rows     RowStore
	realtime Realtime
	log      *zap.SugaredLogger
	ttl      time.Duration
	grace    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	services map[string]*registryEntry
}

type registryEntry struct {
	svc      *Service
	lastUsed time.Time
	refs     int
}

type RegistryParams struct {
	fx.In

	Config   *config.Config
	Users    UserResolver
	Rows     RowStore
	Realtime Realtime
	Log      *zap.SugaredLogger
}

func NewRegistry(p RegistryParams) *Registry {
	ttl, grace := DefaultCacheTTL, DefaultChangeGrace
	if p.Config != nil {
		if p.Config.Premium.CacheTTL > 0 {
			ttl = p.Config.Premium.CacheTTL
		}
		grace = p.Config.Premium.ChangeGrace
	}
	return &Registry{
		users:    p.Users,
		rows:     p.Rows,
		realtime: p.Realtime,
		log:      p.Log,
		ttl:      ttl,
		grace:    grace,
		now:      time.Now,
		services: make(map[string]*registryEntry),
	}
}

// ForUser returns the service bound to userID, creating it on first use.
func (r *Registry) ForUser(userID string) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(userID).svc
}

// Acquire is ForUser for long-lived consumers; the service is not swept
// until release is called.
func (r *Registry) Acquire(userID string) (svc *Service, release func()) {
	r.mu.Lock()
	e := r.entryLocked(userID)
	e.refs++
	r.mu.Unlock()

	var once sync.Once
	return e.svc, func() {
		once.Do(func() {
			r.mu.Lock()
			e.refs--
			e.lastUsed = r.now()
			r.mu.Unlock()
		})
	}
}

// Sweep drops services unused for longer than idle and reports how many.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	removed := 0
	for id, e := range r.services {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(r.services, id)
			removed++
		}
	}
	return removed
}

// Invalidate drops the cached record of userID if a service exists for it.
func (r *Registry) Invalidate(userID string) {
	r.mu.Lock()
	e, ok := r.services[userID]
	r.mu.Unlock()
	if ok {
		e.svc.Invalidate()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

func (r *Registry) entryLocked(userID string) *registryEntry {
	e, ok := r.services[userID]
	if !ok {
		users := boundResolver{userID: userID, base: r.users}
		store := NewStore(users, r.rows, r.log, WithTTL(r.ttl), WithClock(r.now))
		feed := NewChangeFeed(store, users, r.realtime, r.grace, r.log)
		e = &registryEntry{svc: NewService(store, feed, r.log)}
		r.services[userID] = e
	}
	e.lastUsed = r.now()
	return e
}

// boundResolver only lets the user a service was created for through, so a
// service can never read or cache another user's row.
type boundResolver struct {
	userID string
	base   UserResolver
}

func (b boundResolver) CurrentUserID(ctx context.Context) (string, error) {
	id, err := b.base.CurrentUserID(ctx)
	if err != nil || id != b.userID {
		return "", err
	}
	return id, nil
}
