package cache

import (
	"sync"

	"github.com/book-expert/narration-service/internal/core"
)

// keyedMutex serializes writers per key. Entries are reference counted and removed
// once the last holder unlocks, so the table only holds keys being written.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[core.CacheKey]*refMutex
}

type refMutex struct {
	sync.Mutex

	refs int
}

// lock blocks until key is held and returns the matching unlock.
func (k *keyedMutex) lock(key core.CacheKey) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[core.CacheKey]*refMutex)
	}

	entry, ok := k.locks[key]
	if !ok {
		entry = &refMutex{}
		k.locks[key] = entry
	}

	entry.refs++
	k.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()

		k.mu.Lock()

		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}

// size returns the number of keys currently held or awaited.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
