package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds a MemoryBackend
const DefaultSize = 1024

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// MemoryBackend is an in-process LRU with per-entry expiry. maxTTL is the
// LRU's own expiry and caps any entry's lifetime.
type MemoryBackend[V any] struct {
	lru *expirable.LRU[string, memoryEntry[V]]
	now func() time.Time
}

// NewMemoryBackend creates a backend holding at most size entries
func NewMemoryBackend[V any](size int, maxTTL time.Duration) *MemoryBackend[V] {
	if size <= 0 {
		size = DefaultSize
	}
	return &MemoryBackend[V]{
		lru: expirable.NewLRU[string, memoryEntry[V]](size, nil, maxTTL),
		now: time.Now,
	}
}

func (m *MemoryBackend[V]) Get(_ context.Context, key string) (V, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.lru.Add(key, memoryEntry[V]{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryBackend[V]) Purge(_ context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of stored entries, expired or not
func (m *MemoryBackend[V]) Len() int {
	return m.lru.Len()
}
