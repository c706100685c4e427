package secrets

import (
	"sync"
	"time"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/ports"
)

// secretCache is a TTL cache shared by the remote adapters
type secretCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	enabled bool
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

func newSecretCache(enabled bool, ttl time.Duration) *secretCache {
	return &secretCache{
		entries: make(map[string]*cacheEntry),
		enabled: enabled && ttl > 0,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *secretCache) get(key string) *ports.Secret {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.secret
}

func (c *secretCache) set(key string, secret *ports.Secret) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{
		secret:    secret,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *secretCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
