package premium

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/types"
)

type staticUser string

func (s staticUser) CurrentUserID(context.Context) (string, error) {
	return string(s), nil
}

type failingUsers struct{}

func (failingUsers) CurrentUserID(context.Context) (string, error) {
	return "", errors.New("auth backend down")
}

type markCall struct {
	userID string
	at     time.Time
}

type fakeRows struct {
	mu      sync.Mutex
	records map[string]*models.SubscriptionRecord
	findErr error
	markErr error
	finds   int
	marks   []markCall
	onFind  func()
}

func newFakeRows(recs ...*models.SubscriptionRecord) *fakeRows {
	r := &fakeRows{records: make(map[string]*models.SubscriptionRecord)}
	for _, rec := range recs {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *fakeRows) FindSubscription(_ context.Context, userID string) (*models.SubscriptionRecord, error) {
	r.mu.Lock()
	r.finds++
	hook := r.onFind
	err := r.findErr
	rec := cloneRecord(r.records[userID])
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *fakeRows) MarkExpired(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, markCall{userID: userID, at: at})
	if r.markErr != nil {
		return r.markErr
	}
	if rec, ok := r.records[userID]; ok {
		rec.IsPremium = false
		rec.Status = types.SubscriptionStatusExpired
	}
	return nil
}

func (r *fakeRows) set(rec *models.SubscriptionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
}

func (r *fakeRows) findCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

func (r *fakeRows) markCalls() []markCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]markCall(nil), r.marks...)
}

type fakeChannel struct {
	name   string
	filter types.RowFilter
	fn     func(types.RowChange)
	closed atomic.Bool
}

func (c *fakeChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeChannel) emit(change types.RowChange) {
	if c.closed.Load() || !c.filter.Match(change) {
		return
	}
	c.fn(change)
}

type fakeRealtime struct {
	gate       chan struct{}
	err        error
	subscribed chan *fakeChannel
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{subscribed: make(chan *fakeChannel, 8)}
}

func (r *fakeRealtime) Subscribe(_ context.Context, name string, filter types.RowFilter, fn func(types.RowChange)) (Channel, error) {
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	ch := &fakeChannel{name: name, filter: filter, fn: fn}
	r.subscribed <- ch
	return ch, nil
}

type fakeSessions struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSessions) RefreshSession(context.Context) error {
	s.calls.Add(1)
	return s.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func premiumRecord(id string, status types.SubscriptionStatus, periodEnd *time.Time) *models.SubscriptionRecord {
	return &models.SubscriptionRecord{
		ID:        id,
		IsPremium: true,
		PlanType:  types.PlanTypeMonthly,
		Status:    status,
		PeriodEnd: periodEnd,
	}
}

func userChange(id string) types.RowChange {
	return types.RowChange{Type: types.RowChangeUpdate, Table: models.UsersTable, RowID: id, CommittedAt: time.Now()}
}
