// Package store provides in-memory implementations of the domain store
// contracts. They mirror the TTL semantics of the Redis implementations
// using an injected clock, and back development mode and unit tests.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yddav/marketing-hub-identity/internal/domain"
)

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory implements SessionStore, RevocationStore, OAuth2Store and CSRFStore
// on a mutex-guarded map.
type Memory struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]entry
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

func (m *Memory) set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// getAndDelete is the atomic consume used for single-use codes.
func (m *Memory) getAndDelete(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	delete(m.entries, key)
	if e.expired(m.clock.Now()) {
		return nil, false
	}
	return e.value, true
}

// mutate rewrites a stored value in place, keeping its expiry.
func (m *Memory) mutate(key string, fn func(any) any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		return
	}
	e.value = fn(e.value)
	m.entries[key] = e
}

// --- domain.SessionStore ---

func (m *Memory) Put(_ context.Context, session domain.Session, ttl time.Duration) error {
	m.set("session:"+session.SessionID, session, ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	v, ok := m.get("session:" + sessionID)
	if !ok {
		return nil, nil
	}
	session := v.(domain.Session)
	return &session, nil
}

func (m *Memory) Touch(_ context.Context, sessionID string, now time.Time) error {
	m.mutate("session:"+sessionID, func(v any) any {
		session := v.(domain.Session)
		session.LastUsed = now
		return session
	})
	return nil
}

func (m *Memory) Deactivate(_ context.Context, sessionID string) error {
	m.mutate("session:"+sessionID, func(v any) any {
		session := v.(domain.Session)
		session.IsActive = false
		return session
	})
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.delete("session:" + sessionID)
	return nil
}

// --- domain.RevocationStore ---

func (m *Memory) RevokeTokenID(_ context.Context, tokenID string, ttl time.Duration) error {
	m.set("blacklist:"+tokenID, "revoked", ttl)
	return nil
}

func (m *Memory) IsTokenIDRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := m.get("blacklist:" + tokenID)
	return ok, nil
}

func (m *Memory) RevokeRawToken(_ context.Context, token string, ttl time.Duration) error {
	m.set("oauth_blacklist:"+token, "revoked", ttl)
	return nil
}

func (m *Memory) IsRawTokenRevoked(_ context.Context, token string) (bool, error) {
	_, ok := m.get("oauth_blacklist:" + token)
	return ok, nil
}

// --- domain.OAuth2Store ---

func (m *Memory) PutClient(_ context.Context, client domain.Client) error {
	m.set("oauth_client:"+client.ClientID, client, 0)
	return nil
}

func (m *Memory) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	v, ok := m.get("oauth_client:" + clientID)
	if !ok {
		return nil, nil
	}
	client := v.(domain.Client)
	return &client, nil
}

func (m *Memory) PutAuthorizationRequest(_ context.Context, id string, req domain.AuthorizationRequest, ttl time.Duration) error {
	m.set("oauth_auth_req:"+id, req, ttl)
	return nil
}

func (m *Memory) GetAuthorizationRequest(_ context.Context, id string) (*domain.AuthorizationRequest, error) {
	v, ok := m.get("oauth_auth_req:" + id)
	if !ok {
		return nil, nil
	}
	req := v.(domain.AuthorizationRequest)
	return &req, nil
}

func (m *Memory) DeleteAuthorizationRequest(_ context.Context, id string) error {
	m.delete("oauth_auth_req:" + id)
	return nil
}

func (m *Memory) PutAuthorizationCode(_ context.Context, code domain.AuthorizationCode, ttl time.Duration) error {
	m.set("oauth_code:"+code.Code, code, ttl)
	return nil
}

func (m *Memory) ConsumeAuthorizationCode(_ context.Context, code string) (*domain.AuthorizationCode, error) {
	v, ok := m.getAndDelete("oauth_code:" + code)
	if !ok {
		return nil, nil
	}
	record := v.(domain.AuthorizationCode)
	return &record, nil
}

func (m *Memory) PutRefreshToken(_ context.Context, record domain.RefreshTokenRecord, ttl time.Duration) error {
	m.set("oauth_refresh:"+record.Token, record, ttl)
	return nil
}

func (m *Memory) GetRefreshToken(_ context.Context, token string) (*domain.RefreshTokenRecord, error) {
	v, ok := m.get("oauth_refresh:" + token)
	if !ok {
		return nil, nil
	}
	record := v.(domain.RefreshTokenRecord)
	return &record, nil
}

func (m *Memory) DeleteRefreshToken(_ context.Context, token string) error {
	m.delete("oauth_refresh:" + token)
	return nil
}

// --- domain.CSRFStore ---

func (m *Memory) PutCSRFToken(_ context.Context, sessionID, token string, ttl time.Duration) error {
	m.set("csrf:"+sessionID, token, ttl)
	return nil
}

func (m *Memory) GetCSRFToken(_ context.Context, sessionID string) (string, error) {
	v, ok := m.get("csrf:" + sessionID)
	if !ok {
		return "", nil
	}
	return v.(string), nil
}
