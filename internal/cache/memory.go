package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memEntry is one L1 slot. Values are opaque serialized bytes; the
// manager is responsible for encoding/decoding whatever it stores.
type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	size      int
}

// memTier is the in-memory LRU tier (L1), bounded by both entry count
// and total serialized-size in bytes. Eviction-by-count is delegated to
// golang-lru; eviction-by-bytes is enforced manually before each insert,
// matching the two simultaneous bounds the Cache Manager carries.
type memTier struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *memEntry]
	maxEntries int
	maxBytes   int64
	curBytes   int64
	hits       int64
	misses     int64
}

func newMemTier(maxEntries int, maxBytes int64) *memTier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	t := &memTier{maxEntries: maxEntries, maxBytes: maxBytes}
	c, _ := lru.NewWithEvict[string, *memEntry](maxEntries, func(_ string, entry *memEntry) {
		t.curBytes -= int64(entry.size)
	})
	t.cache = c
	return t
}

func (t *memTier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache.Get(key)
	if !ok {
		t.misses++
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		t.cache.Remove(key)
		t.misses++
		return nil, false
	}
	t.hits++
	return entry.value, true
}

func (t *memTier) set(key string, value []byte, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	size := len(cp)

	if old, ok := t.cache.Peek(key); ok {
		t.curBytes -= int64(old.size)
	}
	if t.maxBytes > 0 {
		for t.curBytes+int64(size) > t.maxBytes && t.cache.Len() > 0 {
			t.cache.RemoveOldest()
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	t.cache.Add(key, &memEntry{value: cp, expiresAt: expiresAt, size: size})
	t.curBytes += int64(size)
}

func (t *memTier) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cache.Peek(key); !ok {
		return false
	}
	t.cache.Remove(key)
	return true
}

func (t *memTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Purge()
	t.curBytes = 0
}

func (t *memTier) stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Entries:        t.cache.Len(),
		MaxEntries:     t.maxEntries,
		MemoryBytes:    t.curBytes,
		MaxMemoryBytes: t.maxBytes,
		Hits:           t.hits,
		Misses:         t.misses,
	}
}
