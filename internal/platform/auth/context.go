package auth

import (
	"context"

	"github.com/fatflowers/premiumgate/pkg/logctx"
)

// User is the authenticated principal of a request.
type User struct {
	ID        string
	SessionID string
}

type userKey struct{}

// WithUser attaches u to ctx; request loggers pick up its id.
func WithUser(ctx context.Context, u *User) context.Context {
	ctx = context.WithValue(ctx, userKey{}, u)
	return logctx.WithUserID(ctx, u.ID)
}

func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}

// ContextResolver reports the user attached by the auth middleware.
type ContextResolver struct{}

func (ContextResolver) CurrentUserID(ctx context.Context) (string, error) {
	if u := UserFromContext(ctx); u != nil {
		return u.ID, nil
	}
	return "", nil
}

// StaticResolver always reports the same user; used by tooling that acts on
// behalf of one account.
type StaticResolver string

func (s StaticResolver) CurrentUserID(context.Context) (string, error) {
	return string(s), nil
}
