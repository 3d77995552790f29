package premium

import (
	"context"
	"io"
	"time"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// UserResolver returns the id of the signed-in user. An empty id with a nil
// error means there is no session.
type UserResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// RowStore reads and writes the subscription projection of the users table.
type RowStore interface {
	// FindSubscription returns nil, nil when no row exists for userID.
	FindSubscription(ctx context.Context, userID string) (*models.SubscriptionRecord, error)
	MarkExpired(ctx context.Context, userID string, at time.Time) error
}

// Realtime opens named channels that deliver row changes matching a filter.
type Realtime interface {
	Subscribe(ctx context.Context, name string, filter types.RowFilter, fn func(types.RowChange)) (Channel, error)
}

// Channel is an attached realtime channel; closing it detaches.
type Channel = io.Closer

// SessionRefresher keeps the session behind ctx alive.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}
