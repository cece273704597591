package domain

import (
	"context"
	"time"
)

// Session is the server-side record backing a token pair. LastUsed updates on
// each verified use without extending the fixed expiry; IsActive flips to
// false on refresh-token revocation and is never reactivated.
type Session struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	TokenID   string    `json:"tokenId"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
	IsActive  bool      `json:"isActive"`
}

// SessionStore persists sessions in a TTL-capable shared store.
type SessionStore interface {
	// Put stores the session with the given TTL.
	Put(ctx context.Context, session Session, ttl time.Duration) error
	// Get returns the session or nil if absent/expired.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Touch updates LastUsed without extending the remaining TTL.
	Touch(ctx context.Context, sessionID string, now time.Time) error
	// Deactivate marks the session inactive. Terminal: the flag is never
	// flipped back. The remaining TTL is preserved.
	Deactivate(ctx context.Context, sessionID string) error
	// Delete removes the session record.
	Delete(ctx context.Context, sessionID string) error
}
