package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/redis/go-redis/v9"
)

const attemptScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local block = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local fields = redis.call("HMGET", KEYS[1], "ws", "n", "bu")
local ws = tonumber(fields[1])
local n = tonumber(fields[2]) or 0
local bu = tonumber(fields[3]) or 0

if now < bu then
  return {0, bu - now}
end

if not ws or now - ws >= window then
  ws = now
  n = 0
  bu = 0
end

n = n + 1
local allowed = 1
local retry = 0
if n > max then
  bu = now + block
  allowed = 0
  retry = block
end

redis.call("HSET", KEYS[1], "ws", ws, "n", n, "bu", bu)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, retry}
`

var attemptLua = redis.NewScript(attemptScript)

type redisBackend struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
}

// NewRedis creates a [Limiter] whose buckets live in Redis, shared by every process
// using the same prefix.
func NewRedis(client redis.UniversalClient, prefix string, cfg Config, clk clock.Clock) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	if prefix == "" {
		prefix = "gr:lim"
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clk,
		backend: &redisBackend{redis: client, prefix: prefix, cfg: cfg},
	}, nil
}

func (r *redisBackend) key(key string) string {
	return r.prefix + ":" + key
}

// bucketTTL outlives both the window and any block started at its end.
func (r *redisBackend) bucketTTL() time.Duration {
	ttl := r.cfg.Window
	if r.cfg.BlockDuration > ttl {
		ttl = r.cfg.BlockDuration
	}
	return 2 * ttl
}

func (r *redisBackend) hit(ctx context.Context, key string, now time.Time) (Verdict, error) {
	res, err := attemptLua.Run(ctx, r.redis, []string{r.key(key)},
		now.UnixMilli(),
		r.cfg.Window.Milliseconds(),
		r.cfg.BlockDuration.Milliseconds(),
		r.cfg.MaxAttempts,
		r.bucketTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Verdict{}, fmt.Errorf("%w: malformed attempt reply", ErrRedisUnavailable)
	}
	if res[0] == 1 {
		return Allow, nil
	}
	return Block(time.Duration(res[1]) * time.Millisecond), nil
}

func (r *redisBackend) reset(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// sweep is a no-op; bucket keys carry their own TTL.
func (r *redisBackend) sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
