// Package cache holds the process-wide state that outlives a single request:
// decoded feeds and upstream auth tokens. Both are injected, TTL-bounded and
// driven by an injectable clock.
package cache

import (
	"errors"
	"time"

	"github.com/bluele/gcache"

	"tripcards.app/internal/clock"
	"tripcards.app/internal/metrics"
)

// TTLStore is a size-bounded LRU whose entries expire after a fixed TTL.
// Concurrent writers of the same key simply overwrite each other.
type TTLStore[V any] struct {
	name    string
	ttl     time.Duration
	entries gcache.Cache
	metrics *metrics.Metrics
}

func NewTTLStore[V any](name string, size int, ttl time.Duration, clk clock.Clock, m *metrics.Metrics) *TTLStore[V] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TTLStore[V]{
		name: name,
		ttl:  ttl,
		entries: gcache.New(size).
			LRU().
			Expiration(ttl).
			Clock(clk).
			Build(),
		metrics: m,
	}
}

func (s *TTLStore[V]) Get(key string) (V, bool) {
	var zero V
	raw, err := s.entries.Get(key)
	if err != nil {
		if !errors.Is(err, gcache.KeyNotFoundError) {
			s.record("error")
		} else {
			s.record("miss")
		}
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		s.record("miss")
		return zero, false
	}
	s.record("hit")
	return v, true
}

func (s *TTLStore[V]) Set(key string, v V) {
	_ = s.entries.Set(key, v)
}

// SetWithTTL overrides the store's default TTL for one entry.
func (s *TTLStore[V]) SetWithTTL(key string, v V, ttl time.Duration) {
	_ = s.entries.SetWithExpire(key, v, ttl)
}

func (s *TTLStore[V]) Remove(key string) {
	s.entries.Remove(key)
}

func (s *TTLStore[V]) TTL() time.Duration { return s.ttl }

func (s *TTLStore[V]) record(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CacheLookupsTotal.WithLabelValues(s.name, result).Inc()
}
