package cache

import "sync"

// AddressCache maps resolution keys to resolved addresses for the lifetime
// of one provisioning run. Entries are written once and never overwritten
// or evicted; an empty address is never stored, so an unresolved key stays
// open for a later attempt.
type AddressCache struct {
	mu    sync.RWMutex
	store map[string]string
}

// New creates an empty AddressCache.
func New() *AddressCache {
	return &AddressCache{
		store: make(map[string]string),
	}
}

// Get returns the address cached under key, if any.
func (c *AddressCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.store[key]
	return addr, ok
}

// Put stores address under key unless the key already holds an address
// or address is empty. It reports whether the value was stored.
func (c *AddressCache) Put(key, address string) bool {
	if address == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[key]; ok {
		return false
	}
	c.store[key] = address
	return true
}

// Len returns the number of cached addresses.
func (c *AddressCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Snapshot returns a copy of all cached entries.
func (c *AddressCache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.store))
	for k, v := range c.store {
		out[k] = v
	}
	return out
}
