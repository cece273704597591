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

// OAuth2Store persists registered clients and the ephemeral grant-flow
// records. Authorization codes are redeemed with GETDEL so concurrent
// redemption of the same code yields at most one success.
type OAuth2Store struct {
	rdb *goredis.Client
}

func NewOAuth2Store(rdb *goredis.Client) *OAuth2Store {
	return &OAuth2Store{rdb: rdb}
}

// --- Clients ---

func (s *OAuth2Store) PutClient(ctx context.Context, client domain.Client) error {
	payload, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	// Client registrations do not expire.
	return s.rdb.Set(ctx, clientKey(client.ClientID), payload, 0).Err()
}

func (s *OAuth2Store) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	ok, err := s.getJSON(ctx, clientKey(clientID), &client)
	if err != nil || !ok {
		return nil, err
	}
	return &client, nil
}

// --- Authorization requests (pending consent) ---

func (s *OAuth2Store) PutAuthorizationRequest(ctx context.Context, id string, req domain.AuthorizationRequest, ttl time.Duration) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization request: %w", err)
	}
	return s.rdb.SetEx(ctx, authRequestKey(id), payload, ttl).Err()
}

func (s *OAuth2Store) GetAuthorizationRequest(ctx context.Context, id string) (*domain.AuthorizationRequest, error) {
	var req domain.AuthorizationRequest
	ok, err := s.getJSON(ctx, authRequestKey(id), &req)
	if err != nil || !ok {
		return nil, err
	}
	return &req, nil
}

func (s *OAuth2Store) DeleteAuthorizationRequest(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, authRequestKey(id)).Err()
}

// --- Authorization codes ---

func (s *OAuth2Store) PutAuthorizationCode(ctx context.Context, code domain.AuthorizationCode, ttl time.Duration) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	return s.rdb.SetEx(ctx, codeKey(code.Code), payload, ttl).Err()
}

// ConsumeAuthorizationCode fetches and deletes the code in one atomic step.
// Returns nil if the code is absent, expired, or already redeemed.
func (s *OAuth2Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*domain.AuthorizationCode, error) {
	result, err := s.rdb.GetDel(ctx, codeKey(code)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record domain.AuthorizationCode
	if err := json.Unmarshal([]byte(result), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return &record, nil
}

// --- Refresh tokens ---

func (s *OAuth2Store) PutRefreshToken(ctx context.Context, record domain.RefreshTokenRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token record: %w", err)
	}
	return s.rdb.SetEx(ctx, refreshKey(record.Token), payload, ttl).Err()
}

func (s *OAuth2Store) GetRefreshToken(ctx context.Context, token string) (*domain.RefreshTokenRecord, error) {
	var record domain.RefreshTokenRecord
	ok, err := s.getJSON(ctx, refreshKey(token), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (s *OAuth2Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, refreshKey(token)).Err()
}

// --- Helpers ---

func (s *OAuth2Store) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	result, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(result), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func clientKey(clientID string) string {
	return "oauth_client:" + clientID
}

func authRequestKey(id string) string {
	return "oauth_auth_req:" + id
}

func codeKey(code string) string {
	return "oauth_code:" + code
}

func refreshKey(token string) string {
	return "oauth_refresh:" + token
}
