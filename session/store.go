package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/redis/go-redis/v9"
)

const (
	registerStatusRejected int64 = 0
	registerStatusAdmitted int64 = 1

	replaceStatusMissing  int64 = 0
	replaceStatusReplaced int64 = 1
)

// Shared Lua helpers. Hash values are "token|issued_ms|expires_ms".
const luaHelpers = `
local function parse_entry(v)
  local tok, iat, exp = string.match(v, "^([^|]*)|(%d+)|(%d+)$")
  if not tok then
    return nil
  end
  return tok, iat, tonumber(exp)
end

local function purge(zkey, hkey, now)
  local all = redis.call("HGETALL", hkey)
  for i = 1, #all, 2 do
    local _, _, exp = parse_entry(all[i + 1])
    if not exp or exp <= now then
      redis.call("HDEL", hkey, all[i])
      redis.call("ZREM", zkey, all[i])
    end
  end
end

local function extend(zkey, hkey, exp, now)
  local want = exp - now
  if want <= 0 then
    return
  end
  if redis.call("PTTL", hkey) < want then
    redis.call("PEXPIRE", hkey, want)
    redis.call("PEXPIRE", zkey, want)
  end
end
`

const registerSessionScript = luaHelpers + `
local zkey = KEYS[1]
local hkey = KEYS[2]
local family = ARGV[1]
local token = ARGV[2]
local iat = tonumber(ARGV[3])
local exp = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local limit = tonumber(ARGV[6])
local reject_new = ARGV[7] == "1"

purge(zkey, hkey, now)

local out = {1}
local count = redis.call("ZCARD", zkey)
if count >= limit and reject_new then
  return {0}
end

while count >= limit do
  local oldest = redis.call("ZRANGE", zkey, 0, 0)
  local fid = oldest[1]
  local v = redis.call("HGET", hkey, fid)
  redis.call("ZREM", zkey, fid)
  redis.call("HDEL", hkey, fid)
  if v then
    table.insert(out, fid .. "|" .. v)
  end
  count = count - 1
end

redis.call("ZADD", zkey, iat, family)
redis.call("HSET", hkey, family, token .. "|" .. ARGV[3] .. "|" .. ARGV[4])
extend(zkey, hkey, exp, now)

return out
`

var registerSessionLua = redis.NewScript(registerSessionScript)

const replaceSessionScript = luaHelpers + `
local zkey = KEYS[1]
local hkey = KEYS[2]
local family = ARGV[1]
local old_token = ARGV[2]
local new_token = ARGV[3]
local exp = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local v = redis.call("HGET", hkey, family)
if not v then
  return 0
end
local tok, iat, cur_exp = parse_entry(v)
if not tok or tok ~= old_token or cur_exp <= now then
  return 0
end

redis.call("HSET", hkey, family, new_token .. "|" .. iat .. "|" .. ARGV[4])
extend(zkey, hkey, exp, now)
return 1
`

var replaceSessionLua = redis.NewScript(replaceSessionScript)

const revokeByTokenScript = luaHelpers + `
local zkey = KEYS[1]
local hkey = KEYS[2]
local token = ARGV[1]
local all = redis.call("HGETALL", hkey)
for i = 1, #all, 2 do
  local tok = parse_entry(all[i + 1])
  if tok == token then
    redis.call("HDEL", hkey, all[i])
    redis.call("ZREM", zkey, all[i])
    return 1
  end
end
return 0
`

var revokeByTokenLua = redis.NewScript(revokeByTokenScript)

// RedisRegistry is a Redis-backed [Registry].
//
// Per principal p under prefix x:
//   - x:z:<p>  sorted set of family ids scored by login time (ms)
//   - x:h:<p>  hash family id → "token|issued_ms|expires_ms"
//
// Register and Replace run as Lua scripts, so the per-principal bound holds across
// processes sharing the Redis instance.
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
	clock  clock.Clock
}

// NewRedisRegistry creates a [RedisRegistry].
func NewRedisRegistry(client redis.UniversalClient, prefix string, cfg Config, clk clock.Clock) *RedisRegistry {
	if prefix == "" {
		prefix = "rs"
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisRegistry{
		redis:  client,
		prefix: prefix,
		cfg:    cfg,
		clock:  clk,
	}
}

func (r *RedisRegistry) keys(principal string) []string {
	return []string{
		r.prefix + ":z:" + principal,
		r.prefix + ":h:" + principal,
	}
}

// Register admits entry atomically.
//
//	Performance: 1 EVALSHA, O(sessions of principal) inside the script.
func (r *RedisRegistry) Register(ctx context.Context, entry Entry) ([]Entry, error) {
	rejectNew := "0"
	if r.cfg.Overflow == RejectNew {
		rejectNew = "1"
	}

	res, err := registerSessionLua.Run(ctx, r.redis, r.keys(entry.Principal),
		entry.FamilyID,
		entry.TokenID,
		entry.IssuedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
		r.clock.Now().UnixMilli(),
		r.cfg.limit(),
		rejectNew,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty register reply", ErrRedisUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: malformed register status", ErrRedisUnavailable)
	}
	if status == registerStatusRejected {
		return nil, ErrSessionLimitExceeded
	}
	if status != registerStatusAdmitted {
		return nil, fmt.Errorf("%w: unexpected register status %d", ErrRedisUnavailable, status)
	}

	evicted := make([]Entry, 0, len(res)-1)
	for _, raw := range res[1:] {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		familyID, value, found := strings.Cut(s, "|")
		if !found {
			continue
		}
		e, ok := decodeEntry(entry.Principal, familyID, value)
		if ok {
			evicted = append(evicted, e)
		}
	}
	return evicted, nil
}

// Replace swaps the family's token id if it still holds oldTokenID.
//
//	Performance: 1 EVALSHA.
func (r *RedisRegistry) Replace(ctx context.Context, principal, familyID, oldTokenID, newTokenID string, expiresAt time.Time) error {
	status, err := replaceSessionLua.Run(ctx, r.redis, r.keys(principal),
		familyID,
		oldTokenID,
		newTokenID,
		expiresAt.UnixMilli(),
		r.clock.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if status == replaceStatusMissing {
		return ErrSessionNotFound
	}
	if status != replaceStatusReplaced {
		return fmt.Errorf("%w: unexpected replace status %d", ErrRedisUnavailable, status)
	}
	return nil
}

// Revoke removes the entry holding tokenID.
//
//	Performance: 1 EVALSHA.
func (r *RedisRegistry) Revoke(ctx context.Context, principal, tokenID string) error {
	if err := revokeByTokenLua.Run(ctx, r.redis, r.keys(principal), tokenID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeFamily removes the family's entry.
//
//	Performance: 1 MULTI/EXEC (ZREM + HDEL).
func (r *RedisRegistry) RevokeFamily(ctx context.Context, principal, familyID string) error {
	keys := r.keys(principal)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keys[0], familyID)
		pipe.HDel(ctx, keys[1], familyID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll removes every entry and returns what was there.
//
//	Performance: 1 MULTI/EXEC (HGETALL + DEL).
func (r *RedisRegistry) RevokeAll(ctx context.Context, principal string) ([]Entry, error) {
	keys := r.keys(principal)
	var all *redis.MapStringStringCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, keys[1])
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeEntries(principal, all.Val(), time.Time{}), nil
}

// List returns live entries oldest first.
//
//	Performance: 1 HGETALL.
func (r *RedisRegistry) List(ctx context.Context, principal string) ([]Entry, error) {
	all, err := r.redis.HGetAll(ctx, r.keys(principal)[1]).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeEntries(principal, all, r.clock.Now()), nil
}

// Count returns the number of live entries.
func (r *RedisRegistry) Count(ctx context.Context, principal string) (int, error) {
	live, err := r.List(ctx, principal)
	return len(live), err
}

func decodeEntries(principal string, all map[string]string, now time.Time) []Entry {
	out := make([]Entry, 0, len(all))
	for familyID, value := range all {
		e, ok := decodeEntry(principal, familyID, value)
		if !ok {
			continue
		}
		if !now.IsZero() && !e.LiveAt(now) {
			continue
		}
		out = append(out, e)
	}
	sortOldestFirst(out)
	return out
}

func decodeEntry(principal, familyID, value string) (Entry, bool) {
	parts := strings.Split(value, "|")
	if len(parts) != 3 {
		return Entry{}, false
	}
	iat, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Principal: principal,
		FamilyID:  familyID,
		TokenID:   parts[0],
		IssuedAt:  time.UnixMilli(iat),
		ExpiresAt: time.UnixMilli(exp),
	}, true
}
