package domain

import (
	"context"
	"time"
)

// CSRFStore keeps the per-session anti-forgery tokens issued to clients.
type CSRFStore interface {
	PutCSRFToken(ctx context.Context, sessionID, token string, ttl time.Duration) error
	GetCSRFToken(ctx context.Context, sessionID string) (string, error)
}
