package client

import (
	"strings"
	"sync"
	"time"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// Client-Side Token Cache
// -----------------------------------------------------------------------------

// TokenCache holds per-token entries bounded by a fixed TTL. Expired entries
// are pruned lazily on read; no background sweeper runs. Keys are lowercased
// so case-varying lookups of the same token hit the same entry.
type TokenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]models.MCacheEntry
}

// -----------------------------------------------------------------------------

func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{
		ttl:     ttl,
		entries: make(map[string]models.MCacheEntry),
	}
}

// -----------------------------------------------------------------------------

// Get returns the cached token for id, pruning it first if expired.
func (c *TokenCache) Get(id string) (*models.MToken, bool) {
	key := strings.ToLower(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(time.Now().UnixMilli()) {
		delete(c.entries, key)
		return nil, false
	}

	token := entry.Token
	return &token, true
}

// -----------------------------------------------------------------------------

// Put stores a token under id with a fresh TTL.
func (c *TokenCache) Put(id string, token models.MToken) {
	now := time.Now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[strings.ToLower(id)] = models.MCacheEntry{
		Token:     token,
		FetchedAt: now,
		ExpiresAt: now + c.ttl.Milliseconds(),
	}
}

// -----------------------------------------------------------------------------

// Len reports the number of entries, including not-yet-pruned expired ones.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
