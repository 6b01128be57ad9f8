// Package shardmap provides a capacity-bounded hash map split into
// independently locked shards. Writers on different shards never contend,
// and readers can take snapshots while a writer is active.
package shardmap

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/srodi/lockscope/pkg/types"
)

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 64

// Key is the set of integer key types the profiler tables are indexed by.
type Key interface {
	~uint32 | ~uint64 | ~int32
}

type shard[K Key, V any] struct {
	mu sync.Mutex
	m  map[K]V
	_  cpu.CacheLinePad // keep neighbouring shard locks on separate cache lines
}

// Map is a sharded map with a global entry limit.
type Map[K Key, V any] struct {
	shards   []shard[K, V]
	mask     uint64
	capacity int64
	size     atomic.Int64
}

// New returns a map that holds at most capacity entries spread over the
// given number of shards, rounded up to a power of two.
func New[K Key, V any](capacity, shards int) *Map[K, V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	m := &Map[K, V]{
		shards:   make([]shard[K, V], n),
		mask:     uint64(n - 1),
		capacity: int64(capacity),
	}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(k K) *shard[K, V] {
	// Fibonacci hashing spreads aligned addresses, whose low bits are zero.
	h := uint64(k) * 0x9E3779B97F4A7C15
	return &m.shards[(h>>32)&m.mask]
}

// reserve claims a slot for a new key.
func (m *Map[K, V]) reserve() bool {
	if m.capacity <= 0 {
		m.size.Add(1)
		return true
	}
	if m.size.Add(1) > m.capacity {
		m.size.Add(-1)
		return false
	}
	return true
}

// Update applies fn to the current value of k under the shard lock. fn
// receives the zero value and false when k is absent. It returns the value to
// store and whether to keep it; returning keep=false deletes the key.
// Inserting a new key into a full map fails with types.ErrCapacityExceeded
// and leaves the map unchanged.
func (m *Map[K, V]) Update(k K, fn func(v V, ok bool) (V, bool)) error {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.m[k]
	next, keep := fn(cur, ok)
	switch {
	case keep && ok:
		s.m[k] = next
	case keep:
		if !m.reserve() {
			return types.ErrCapacityExceeded
		}
		s.m[k] = next
	case ok:
		delete(s.m, k)
		m.size.Add(-1)
	}
	return nil
}

// Store sets k to v.
func (m *Map[K, V]) Store(k K, v V) error {
	return m.Update(k, func(V, bool) (V, bool) { return v, true })
}

// Load returns the value stored for k.
func (m *Map[K, V]) Load(k K) (V, bool) {
	s := m.shardFor(k)
	s.mu.Lock()
	v, ok := s.m[k]
	s.mu.Unlock()
	return v, ok
}

// LoadAndDelete removes k and returns its previous value.
func (m *Map[K, V]) LoadAndDelete(k K) (V, bool) {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if ok {
		delete(s.m, k)
		m.size.Add(-1)
	}
	return v, ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return int(m.size.Load())
}

// Cap returns the configured entry limit; zero or less means unbounded.
func (m *Map[K, V]) Cap() int {
	return int(m.capacity)
}

// Range calls fn for every entry until fn returns false. Each shard is
// copied under its lock first, so fn may call back into the map.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {
	type entry struct {
		k K
		v V
	}
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		batch := make([]entry, 0, len(s.m))
		for k, v := range s.m {
			batch = append(batch, entry{k, v})
		}
		s.mu.Unlock()
		for _, e := range batch {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}
