package domain

import (
	"context"
	"time"
)

// RevocationStore is a TTL-bounded set of revoked identifiers consulted at
// verification time. Two keying strategies coexist by design: the auth
// service blacklists by token ID (one entry covers both tokens of a pair),
// the OAuth2 provider blacklists by the raw token string. Both behaviors are
// preserved under named methods rather than silently merged.
type RevocationStore interface {
	RevokeTokenID(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenIDRevoked(ctx context.Context, tokenID string) (bool, error)

	RevokeRawToken(ctx context.Context, token string, ttl time.Duration) error
	IsRawTokenRevoked(ctx context.Context, token string) (bool, error)
}
