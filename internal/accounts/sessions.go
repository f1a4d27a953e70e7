package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions keeps login sessions in the shared cache so any server replica
// can resolve them.
type Sessions struct {
	cache storage.Cache
	ttl   time.Duration
}

func NewSessions(cache storage.Cache, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{cache: cache, ttl: ttl}
}

func sessionKey(token string) string {
	return "session_" + token
}

func (s *Sessions) Create(ctx context.Context, u User) (Session, error) {
	sess := Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username,
		ExpiresAt: time.Now().Add(s.ttl).UTC(),
	}
	if err := storage.SetJSON(ctx, s.cache, sessionKey(sess.Token), sess, s.ttl); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (s *Sessions) Lookup(ctx context.Context, token string) (Session, bool, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Session{}, false, nil
	}
	var sess Session
	ok, err := storage.GetJSON(ctx, s.cache, sessionKey(token), &sess)
	return sess, ok, err
}

func (s *Sessions) Destroy(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, sessionKey(token))
}

func (s *Sessions) TTL() time.Duration {
	return s.ttl
}
