package resourcekit

import (
	"sync"
	"time"
)

// ttlCache is a small thread-safe map whose entries may expire.
type ttlCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]cacheEntry[V]
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value      V
	expiration time.Time
}

func newTTLCache[K comparable, V any]() *ttlCache[K, V] {
	return &ttlCache[K, V]{entries: make(map[K]cacheEntry[V]), now: time.Now}
}

// Get returns the value for key unless it is absent or expired.
func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !entry.expiration.IsZero() && !c.now().Before(entry.expiration) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return zero, false
	}
	return entry.value, true
}

// Set stores value until the deadline. A zero deadline never expires.
func (c *ttlCache[K, V]) Set(key K, value V, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, expiration: until}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ttlCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]cacheEntry[V])
}

// OfflineRegistry remembers storages that were taken offline for a while,
// for example after their driver failed to answer. It outlives a single
// Repository so the state carries across units of work.
type OfflineRegistry struct {
	entries *ttlCache[int, time.Time]
}

// NewOfflineRegistry creates an empty registry.
func NewOfflineRegistry() *OfflineRegistry {
	return &OfflineRegistry{entries: newTTLCache[int, time.Time]()}
}

// MarkOffline takes the storage offline until the given time.
func (r *OfflineRegistry) MarkOffline(storageUID int, until time.Time) {
	r.entries.Set(storageUID, until, until)
}

// OfflineUntil returns the deadline of a storage that is still offline.
func (r *OfflineRegistry) OfflineUntil(storageUID int) (time.Time, bool) {
	return r.entries.Get(storageUID)
}

// Clear brings the storage back online.
func (r *OfflineRegistry) Clear(storageUID int) {
	r.entries.Delete(storageUID)
}
