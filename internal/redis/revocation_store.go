package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RevocationStore keeps TTL-bounded revocation markers. Token-ID keyed
// entries serve the auth service; raw-token keyed entries serve the OAuth2
// provider. The marker value is irrelevant, only its presence counts.
type RevocationStore struct {
	rdb *goredis.Client
}

func NewRevocationStore(rdb *goredis.Client) *RevocationStore {
	return &RevocationStore{rdb: rdb}
}

func (s *RevocationStore) RevokeTokenID(ctx context.Context, tokenID string, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, "blacklist:"+tokenID, "revoked", ttl).Err()
}

func (s *RevocationStore) IsTokenIDRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.exists(ctx, "blacklist:"+tokenID)
}

func (s *RevocationStore) RevokeRawToken(ctx context.Context, token string, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, "oauth_blacklist:"+token, "revoked", ttl).Err()
}

func (s *RevocationStore) IsRawTokenRevoked(ctx context.Context, token string) (bool, error) {
	return s.exists(ctx, "oauth_blacklist:"+token)
}

func (s *RevocationStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
