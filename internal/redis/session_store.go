package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yddav/marketing-hub-identity/internal/domain"
)

// SessionStore persists session records as JSON values with a fixed TTL.
// Touch and Deactivate rewrite the value with KEEPTTL so use-tracking and
// deactivation never extend the session's lifetime.
type SessionStore struct {
	rdb *goredis.Client
}

func NewSessionStore(rdb *goredis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func (s *SessionStore) Put(ctx context.Context, session domain.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.rdb.Set(ctx, sessionKey(session.SessionID), payload, ttl).Err()
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	result, err := s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	return s.update(ctx, sessionID, func(session *domain.Session) {
		session.LastUsed = now
	})
}

func (s *SessionStore) Deactivate(ctx context.Context, sessionID string) error {
	return s.update(ctx, sessionID, func(session *domain.Session) {
		session.IsActive = false
	})
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

// update rewrites the session in place, preserving the remaining TTL.
// A session that expired between read and write is left absent.
func (s *SessionStore) update(ctx context.Context, sessionID string, mutate func(*domain.Session)) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	mutate(session)

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.rdb.Set(ctx, sessionKey(sessionID), payload, goredis.KeepTTL).Err()
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
