// Package ratelimit provides fixed-window rate limiting with escalating
// block durations. Windows live in a shared TTL store so limits hold across
// horizontally scaled instances; an in-memory implementation covers
// development and tests.
package ratelimit

import (
	"context"
	"time"
)

// Limiter answers whether a request identified by key may proceed.
// When denied, retryAfter tells the caller how long until the next attempt
// can succeed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// Config describes one fixed-window profile. Points attempts are allowed per
// Window; exceeding them blocks the key for BlockDuration. With a zero
// BlockDuration the denial only lasts until the window rolls over.
type Config struct {
	Name          string
	Points        int
	Window        time.Duration
	BlockDuration time.Duration
}

// Standard profiles. Login and MFA escalate: repeated failures cause growing
// denial rather than immediate retry.
var (
	LoginProfile = Config{Name: "login", Points: 5, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute}
	MFAProfile   = Config{Name: "mfa", Points: 3, Window: 5 * time.Minute, BlockDuration: 30 * time.Minute}

	AuthorizeProfile = Config{Name: "oauth_authorize", Points: 10, Window: time.Minute}
	TokenProfile     = Config{Name: "oauth_token", Points: 30, Window: time.Minute}

	APIProfile   = Config{Name: "api", Points: 100, Window: time.Minute, BlockDuration: 5 * time.Minute}
	AuthProfile  = Config{Name: "auth", Points: 5, Window: time.Minute, BlockDuration: 15 * time.Minute}
	HeavyProfile = Config{Name: "heavy", Points: 10, Window: 5 * time.Minute}
)
