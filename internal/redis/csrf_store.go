package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CSRFStore keeps the per-session anti-forgery tokens.
type CSRFStore struct {
	rdb *goredis.Client
}

func NewCSRFStore(rdb *goredis.Client) *CSRFStore {
	return &CSRFStore{rdb: rdb}
}

func (s *CSRFStore) PutCSRFToken(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, "csrf:"+sessionID, token, ttl).Err()
}

// GetCSRFToken returns the issued token or "" if none exists.
func (s *CSRFStore) GetCSRFToken(ctx context.Context, sessionID string) (string, error) {
	result, err := s.rdb.Get(ctx, "csrf:"+sessionID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return result, err
}
