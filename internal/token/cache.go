// Package token manages the process-wide OAuth bearer token used on every
// upstream call. The cache is a single shared slot; refreshes are driven by
// the HTTP client on 401 and coalesced so that a burst of concurrent 401s
// results in exactly one call to the issuer.
package token

import (
	"sync"
	"time"
)

// Token is a bearer credential issued by the token service.
type Token struct {
	AccessToken string
	IDToken     string
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its expiry (with a small skew
// allowance so we refresh slightly early rather than race the upstream).
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt.Add(-30*time.Second))
}

// Cache is the process-wide token slot. Mutations are exclusive; concurrent
// readers are permitted.
type Cache struct {
	mu  sync.RWMutex
	tok *Token
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached token, or nil if the slot is empty.
func (c *Cache) Get() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tok
}

// Set stores a token in the slot.
func (c *Cache) Set(t *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = t
}

// Clear empties the slot.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = nil
}
