package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	saveStatusDuplicate int64 = 0
	saveStatusStored    int64 = 1

	revokeStatusNotFound int64 = -1
	revokeStatusAlready  int64 = 0
	revokeStatusConsumed int64 = 1
)

const saveRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return {0, 0}
end

local revoked = ARGV[7]
local tombstoned = redis.call("EXISTS", KEYS[3]) == 1
if tombstoned then
  revoked = "1"
end

redis.call("HSET", KEYS[1],
  "fid", ARGV[2],
  "prev", ARGV[3],
  "sub", ARGV[4],
  "iat", ARGV[5],
  "exp", ARGV[6],
  "rev", revoked)
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[6], ARGV[1])

local retention = tonumber(ARGV[8])
if retention > 0 then
  local deadline = tonumber(ARGV[6]) + retention
  redis.call("PEXPIREAT", KEYS[1], deadline)
  redis.call("PEXPIREAT", KEYS[2], deadline)
  if tombstoned then
    redis.call("PEXPIREAT", KEYS[3], deadline)
  end
end

if revoked == "1" then
  return {1, 1}
end
return {1, 0}
`

var saveRecordLua = redis.NewScript(saveRecordScript)

const setRevokedScript = `
local rev = redis.call("HGET", KEYS[1], "rev")
if not rev then
  return -1
end
if rev == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "rev", "1")
return 1
`

var setRevokedLua = redis.NewScript(setRevokedScript)

const revokeFamilyScript = `
local record_prefix = ARGV[1]
local retention = tonumber(ARGV[2])
local members = redis.call("SMEMBERS", KEYS[1])
local transitioned = 0
local horizon = 0

for _, id in ipairs(members) do
  local key = record_prefix .. id
  local fields = redis.call("HMGET", key, "rev", "exp")
  if fields[1] then
    local exp = tonumber(fields[2]) or 0
    if exp > horizon then
      horizon = exp
    end
    if fields[1] ~= "1" then
      redis.call("HSET", key, "rev", "1")
      transitioned = transitioned + 1
    end
  end
end

redis.call("SET", KEYS[2], "1")
if retention > 0 and horizon > 0 then
  redis.call("PEXPIREAT", KEYS[2], horizon + retention)
end

return transitioned
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

const deleteExpiredScript = `
local record_prefix = ARGV[1]
local family_prefix = ARGV[2]
local tombstone_prefix = ARGV[3]
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[4], "LIMIT", 0, tonumber(ARGV[5]))
local deleted = 0

for _, id in ipairs(ids) do
  local key = record_prefix .. id
  local fid = redis.call("HGET", key, "fid")
  redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], id)
  deleted = deleted + 1
  if fid then
    local family_key = family_prefix .. fid
    redis.call("SREM", family_key, id)
    if redis.call("SCARD", family_key) == 0 then
      redis.call("DEL", family_key)
      redis.call("DEL", tombstone_prefix .. fid)
    end
  end
end

return deleted
`

var deleteExpiredLua = redis.NewScript(deleteExpiredScript)

const defaultSweepBatch = 512

// RedisStore is a Redis-backed [Store].
//
// Layout under prefix p:
//   - p:r:<id>    hash (fid, prev, sub, rev, iat, exp); times in unix milliseconds
//   - p:f:<fid>   set of member ids
//   - p:ft:<fid>  family tombstone written by RevokeFamily
//   - p:exp       sorted set of ids scored by expiry, driving DeleteExpiredBefore
//
// Every mutation runs as a single Lua script, so consumption and family revocation are
// atomic with respect to each other.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	retention  time.Duration
	sweepBatch int
}

// NewRedisStore creates a [RedisStore]. When retention is positive, keys also carry a
// PEXPIREAT of expiry+retention so Redis reclaims them without a sweep.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{
		redis:      client,
		prefix:     prefix,
		retention:  retention,
		sweepBatch: defaultSweepBatch,
	}
}

func (s *RedisStore) recordPrefix() string    { return s.prefix + ":r:" }
func (s *RedisStore) familyPrefix() string    { return s.prefix + ":f:" }
func (s *RedisStore) tombstonePrefix() string { return s.prefix + ":ft:" }
func (s *RedisStore) recordKey(id string) string {
	return s.recordPrefix() + id
}
func (s *RedisStore) familyKey(familyID string) string {
	return s.familyPrefix() + familyID
}
func (s *RedisStore) tombstoneKey(familyID string) string {
	return s.tombstonePrefix() + familyID
}
func (s *RedisStore) expiryKey() string {
	return s.prefix + ":exp"
}

// Save inserts rec atomically with its family and expiry index entries.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	res, err := saveRecordLua.Run(ctx, s.redis,
		[]string{
			s.recordKey(rec.ID),
			s.familyKey(rec.FamilyID),
			s.tombstoneKey(rec.FamilyID),
			s.expiryKey(),
		},
		rec.ID,
		rec.FamilyID,
		rec.PreviousID,
		rec.Principal,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		boolField(rec.Revoked),
		s.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) == 0 {
		return fmt.Errorf("%w: empty save reply", ErrStoreUnavailable)
	}
	if res[0] == saveStatusDuplicate {
		return ErrDuplicateID
	}
	return nil
}

// FindByID loads a record hash.
//
//	Performance: 1 HGETALL.
func (s *RedisStore) FindByID(ctx context.Context, id string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRecordHash(id, fields)
}

// SetRevoked consumes the record if it is still live.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) SetRevoked(ctx context.Context, id string) (bool, error) {
	status, err := setRevokedLua.Run(ctx, s.redis, []string{s.recordKey(id)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch status {
	case revokeStatusNotFound:
		return false, ErrNotFound
	case revokeStatusAlready:
		return false, nil
	case revokeStatusConsumed:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected revoke status %d", ErrStoreUnavailable, status)
	}
}

// RevokeFamily revokes all members and writes the family tombstone.
//
//	Performance: 1 EVALSHA, O(family size) inside the script.
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	n, err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID), s.tombstoneKey(familyID)},
		s.recordPrefix(),
		s.retention.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// FamilyMembers loads every record in the family.
//
//	Performance: 1 SMEMBERS + 1 pipelined HGETALL per member.
func (s *RedisStore) FamilyMembers(ctx context.Context, familyID string) ([]Record, error) {
	ids, err := s.redis.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Record, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecordHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortByIssuance(out)
	return out, nil
}

// DeleteExpiredBefore removes expired records in batches.
//
//	Performance: 1 EVALSHA per batch of up to 512 records.
func (s *RedisStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		n, err := deleteExpiredLua.Run(ctx, s.redis,
			[]string{s.expiryKey()},
			s.recordPrefix(),
			s.familyPrefix(),
			s.tombstonePrefix(),
			cutoff.UnixMilli(),
			s.sweepBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		total += n
		if n < s.sweepBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func decodeRecordHash(id string, fields map[string]string) (Record, error) {
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt iat for %s", ErrStoreUnavailable, id)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt exp for %s", ErrStoreUnavailable, id)
	}
	return Record{
		ID:         id,
		FamilyID:   fields["fid"],
		PreviousID: fields["prev"],
		Principal:  fields["sub"],
		Revoked:    fields["rev"] == "1",
		IssuedAt:   time.UnixMilli(iat),
		ExpiresAt:  time.UnixMilli(exp),
	}, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
