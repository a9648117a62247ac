package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/narration-service/internal/core"
)

// MemoryCache keeps entries in process memory. Entries are copied on the way in
// and out so callers cannot mutate what is stored.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[core.CacheKey]*core.AudioArtifact
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[core.CacheKey]*core.AudioArtifact)}
}

// Lookup returns a copy of the entry for key.
func (c *MemoryCache) Lookup(_ context.Context, key core.CacheKey) (*core.AudioArtifact, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	artifact, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}

	return artifact.Clone(), true, nil
}

// Insert stores a copy of artifact under key.
func (c *MemoryCache) Insert(_ context.Context, key core.CacheKey, artifact *core.AudioArtifact) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	if artifact == nil {
		return fmt.Errorf("%w: nil artifact for key %s", core.ErrStorageUnavailable, key.Short())
	}

	stored := artifact.Clone()

	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()

	return nil
}

// Evict removes the entry for key.
func (c *MemoryCache) Evict(_ context.Context, key core.CacheKey) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

var (
	_ core.AudioCache = (*MemoryCache)(nil)
	_ core.Evictor    = (*MemoryCache)(nil)
)
