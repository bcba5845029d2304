package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goRotate/clock"
	"github.com/redis/go-redis/v9"
)

// ErrIndexUnavailable wraps backend failures.
var ErrIndexUnavailable = errors.New("revocation index unavailable")

// Index records revoked ids until a deadline.
type Index interface {
	MarkRevoked(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
	// Sweep drops entries whose deadline has passed and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// MemoryIndex is an in-process [Index].
type MemoryIndex struct {
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryIndex returns an empty [MemoryIndex] reading time from clk.
func NewMemoryIndex(clk clock.Clock) *MemoryIndex {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryIndex{clock: clk, entries: make(map[string]time.Time)}
}

// MarkRevoked records id until the given deadline, extending any earlier deadline.
func (m *MemoryIndex) MarkRevoked(_ context.Context, id string, until time.Time) error {
	if !until.After(m.clock.Now()) {
		return nil
	}
	m.mu.Lock()
	if current, ok := m.entries[id]; !ok || until.After(current) {
		m.entries[id] = until
	}
	m.mu.Unlock()
	return nil
}

// IsRevoked reports whether id has a live entry.
func (m *MemoryIndex) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	until, ok := m.entries[id]
	m.mu.RUnlock()
	return ok && until.After(m.clock.Now()), nil
}

// Sweep removes lapsed entries.
func (m *MemoryIndex) Sweep(context.Context) (int, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, until := range m.entries {
		if !until.After(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// RedisIndex stores one key per revoked id with an absolute expiry, so Redis itself
// reclaims lapsed entries.
type RedisIndex struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisIndex creates a [RedisIndex] under the given key prefix.
func NewRedisIndex(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisIndex {
	if prefix == "" {
		prefix = "rv"
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisIndex{redis: client, prefix: prefix, clock: clk}
}

func (r *RedisIndex) key(id string) string {
	return r.prefix + ":" + id
}

// MarkRevoked sets the id key with a TTL matching the deadline. An existing longer TTL
// is kept.
//
//	Performance: 1 PTTL + 1 SET.
func (r *RedisIndex) MarkRevoked(ctx context.Context, id string, until time.Time) error {
	ttl := until.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}

	current, err := r.redis.PTTL(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if current > ttl {
		return nil
	}

	if err := r.redis.Set(ctx, r.key(id), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// IsRevoked checks key existence.
//
//	Performance: 1 EXISTS.
func (r *RedisIndex) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return n == 1, nil
}

// Sweep is a no-op; key TTLs expire entries.
func (r *RedisIndex) Sweep(context.Context) (int, error) {
	return 0, nil
}
