package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/MrEthical07/goRotate/clock"
)

const memoryShards = 32

type memoryShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type memoryBackend struct {
	cfg    Config
	shards [memoryShards]memoryShard
}

// NewMemory creates a single-process [Limiter].
func NewMemory(cfg Config, clk clock.Clock) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}

	b := &memoryBackend{cfg: cfg}
	for i := range b.shards {
		b.shards[i].buckets = make(map[string]*bucket)
	}
	return &Limiter{cfg: cfg, clock: clk, backend: b}, nil
}

func (m *memoryBackend) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%memoryShards]
}

func (m *memoryBackend) hit(_ context.Context, key string, now time.Time) (Verdict, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	return b.hit(m.cfg, now), nil
}

func (m *memoryBackend) reset(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

func (m *memoryBackend) sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.stale(m.cfg, now) {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}
