package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

type bucket struct {
	mu    sync.Mutex
	entry core.RateLimitEntry
	// dead is set under mu once the bucket has been unlinked from the map.
	// Callers that find a dead bucket retry against a fresh one.
	dead bool
}

// MemoryStore keeps counters in process memory with one lock per key.
type MemoryStore struct {
	buckets sync.Map // string -> *bucket
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) bucket(key string) *bucket {
	if val, ok := m.buckets.Load(key); ok {
		return val.(*bucket)
	}
	val, _ := m.buckets.LoadOrStore(key, &bucket{entry: core.RateLimitEntry{Key: key}})
	return val.(*bucket)
}

// IncrementIfBelow implements Store.
func (m *MemoryStore) IncrementIfBelow(_ context.Context, key string, max int, window time.Duration, now time.Time) (core.RateLimitEntry, bool, error) {
	for {
		b := m.bucket(key)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}

		admitted := false
		switch {
		case max < 1:
		case b.entry.Count == 0 || b.entry.Expired(now):
			b.entry.Count = 1
			b.entry.WindowResetAt = now.Add(window)
			admitted = true
		case b.entry.Count < max:
			b.entry.Count++
			admitted = true
		}

		entry := b.entry
		b.mu.Unlock()
		return entry, admitted, nil
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (*core.RateLimitEntry, error) {
	val, ok := m.buckets.Load(key)
	if !ok {
		return nil, nil
	}
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead || b.entry.Count == 0 {
		return nil, nil
	}
	entry := b.entry
	return &entry, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	val, ok := m.buckets.Load(key)
	if !ok {
		return nil
	}
	m.unlink(key, val.(*bucket), func(*bucket) bool { return true })
	return nil
}

// Sweep implements Store.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	m.buckets.Range(func(key, val any) bool {
		if ctx.Err() != nil {
			return false
		}
		if m.unlink(key.(string), val.(*bucket), func(b *bucket) bool { return b.entry.Expired(now) }) {
			removed++
		}
		return true
	})
	return removed, ctx.Err()
}

// Len returns the number of live keys.
func (m *MemoryStore) Len() int {
	n := 0
	m.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *MemoryStore) unlink(key string, b *bucket, cond func(*bucket) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead || !cond(b) {
		return false
	}
	b.dead = true
	m.buckets.CompareAndDelete(key, b)
	return true
}
