package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/premiumgate/internal/models"
	cfgpkg "github.com/fatflowers/premiumgate/pkg/config"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// newTestDB opens a migrated in-memory database. One connection keeps every
// statement on the same memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(zap.NewNop().Sugar(), gdb))
	return gdb
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []types.RowChange
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, change types.RowChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) published() []types.RowChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.RowChange(nil), p.changes...)
}

func newTestRepo(t *testing.T) (*UserRepository, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	cfg := &cfgpkg.Config{Breaker: cfgpkg.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute}}
	return NewUserRepository(newTestDB(t), zap.NewNop().Sugar(), cfg, pub), pub
}

// waitLogs blocks until userID has n audit rows and returns them newest first.
func waitLogs(t *testing.T, r *UserRepository, userID string, n int) []*models.SubscriptionLog {
	t.Helper()
	var logs []*models.SubscriptionLog
	require.Eventually(t, func() bool {
		got, err := r.ListSubscriptionLogs(context.Background(), userID, 0)
		if err != nil {
			return false
		}
		logs = got
		return len(got) == n
	}, 2*time.Second, 5*time.Millisecond)
	return logs
}
