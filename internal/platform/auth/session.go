package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/redis/go-redis/v9"

	"github.com/fatflowers/premiumgate/pkg/config"
	"github.com/fatflowers/premiumgate/pkg/tool"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrSessionNotFound = errors.New("auth: session not found")
)

// SessionStore keeps a session alive for a sliding ttl.
type SessionStore interface {
	Create(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	// Touch extends a live session and reports false when it is gone.
	Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	Lookup(ctx context.Context, sessionID string) (userID string, found bool, err error)
	Delete(ctx context.Context, sessionID string) error
}

// Sessions issues signed access tokens backed by a server-side session. A
// token is only accepted while its session is alive; refreshing the session
// keeps long-lived connections authenticated.
type Sessions struct {
	store      SessionStore
	secret     []byte
	issuer     string
	tokenTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewSessions(cfg *config.Config, store SessionStore) *Sessions {
	return &Sessions{
		store:      store,
		secret:     []byte(cfg.Auth.JWTSecret),
		issuer:     cfg.Auth.Issuer,
		tokenTTL:   cfg.Auth.TokenTTL,
		sessionTTL: cfg.Auth.SessionTTL,
		now:        time.Now,
	}
}

// Issue starts a session for userID and returns its bearer token.
func (s *Sessions) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("auth: empty user id")
	}
	sessionID := tool.GenerateUUIDV7()
	if err := s.store.Create(ctx, sessionID, userID, s.sessionTTL); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create session: %w", err)
	}
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := jwt.StandardClaims{
		Id:        sessionID,
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks the token signature and that its session is still alive.
func (s *Sessions) Verify(ctx context.Context, token string) (*User, error) {
	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !claims.VerifyIssuer(s.issuer, true) || claims.Subject == "" || claims.Id == "" {
		return nil, fmt.Errorf("%w: bad claims", ErrUnauthenticated)
	}

	userID, found, err := s.store.Lookup(ctx, claims.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !found || userID != claims.Subject {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, ErrSessionNotFound)
	}
	return &User{ID: claims.Subject, SessionID: claims.Id}, nil
}

// RefreshSession extends the session of the user attached to ctx.
func (s *Sessions) RefreshSession(ctx context.Context) error {
	u := UserFromContext(ctx)
	if u == nil || u.SessionID == "" {
		return ErrUnauthenticated
	}
	ok, err := s.store.Touch(ctx, u.SessionID, s.sessionTTL)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Sessions) Revoke(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// RedisSessionStore keeps sessions as expiring keys.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (r *RedisSessionStore) Create(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, sessionKey(sessionID), userID, ttl).Err()
}

func (r *RedisSessionStore) Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, sessionKey(sessionID), ttl).Result()
}

func (r *RedisSessionStore) Lookup(ctx context.Context, sessionID string) (string, bool, error) {
	userID, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, sessionKey(sessionID)).Err()
}
