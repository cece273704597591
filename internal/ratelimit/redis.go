package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// allowScript atomically checks the block marker, increments the window
// counter, and sets the block marker on overflow. Returns {allowed,
// retry_after_seconds}. Running it as one script keeps concurrent callers
// from racing the counter past the limit.
// KEYS: [1]=window counter, [2]=block marker
// ARGV: [1]=points, [2]=window seconds, [3]=block seconds (0 disables blocking)
var allowScript = goredis.NewScript(`
local blocked = redis.call('TTL', KEYS[2])
if blocked > 0 then
	return {0, blocked}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count <= tonumber(ARGV[1]) then
	return {1, 0}
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], '1', 'EX', ARGV[3])
	return {0, tonumber(ARGV[3])}
end
local ttl = redis.call('TTL', KEYS[1])
if ttl < 0 then
	ttl = tonumber(ARGV[2])
end
return {0, ttl}
`)

// RedisLimiter implements a fixed window with escalating blocks on Redis.
type RedisLimiter struct {
	rdb *goredis.Client
	cfg Config
}

func NewRedisLimiter(rdb *goredis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, cfg: cfg}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	counterKey := fmt.Sprintf("rl:%s:%s", l.cfg.Name, key)
	blockKey := fmt.Sprintf("rl:block:%s:%s", l.cfg.Name, key)

	result, err := allowScript.Run(ctx, l.rdb,
		[]string{counterKey, blockKey},
		strconv.Itoa(l.cfg.Points),
		strconv.Itoa(int(l.cfg.Window.Seconds())),
		strconv.Itoa(int(l.cfg.BlockDuration.Seconds())),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("rate limit script returned %d values", len(result))
	}

	allowed := result[0] == 1
	retryAfter := time.Duration(result[1]) * time.Second
	return allowed, retryAfter, nil
}
