package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// DefaultBlobPrefix is the object-key prefix used when none is configured.
const DefaultBlobPrefix = "audio-cache"

// BlobCache stores entries in a core.ObjectStore such as a NATS JetStream object
// store or an S3 bucket. Both publish an object only once it is fully uploaded.
type BlobCache struct {
	store  core.ObjectStore
	prefix string
	locks  keyedMutex
}

// NewBlobCache returns a cache writing objects under prefix in store.
func NewBlobCache(store core.ObjectStore, prefix string) *BlobCache {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultBlobPrefix
	}

	return &BlobCache{store: store, prefix: prefix}
}

// Lookup downloads and verifies the entry for key.
func (c *BlobCache) Lookup(ctx context.Context, key core.CacheKey) (*core.AudioArtifact, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	raw, err := c.store.Download(ctx, c.objectKey(key))
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, false, nil
		}

		return nil, false, unavailable(fmt.Errorf("failed to download cache entry %s: %w", key.Short(), err))
	}

	artifact, err := decodeEntry(key, raw)
	if err != nil {
		return nil, false, unavailable(err)
	}

	return artifact, true, nil
}

// Insert uploads the entry for key, replacing any previous one.
func (c *BlobCache) Insert(ctx context.Context, key core.CacheKey, artifact *core.AudioArtifact) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	encoded, err := encodeEntry(key, artifact)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(key)
	defer unlock()

	err = c.store.Upload(ctx, c.objectKey(key), encoded)
	if err != nil {
		return unavailable(fmt.Errorf("failed to upload cache entry %s: %w", key.Short(), err))
	}

	return nil
}

// Evict deletes the object for key.
func (c *BlobCache) Evict(ctx context.Context, key core.CacheKey) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(key)
	defer unlock()

	err = c.store.Delete(ctx, c.objectKey(key))
	if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
		return unavailable(fmt.Errorf("failed to delete cache entry %s: %w", key.Short(), err))
	}

	return nil
}

func (c *BlobCache) objectKey(key core.CacheKey) string {
	return c.prefix + "/" + string(key[:2]) + "/" + string(key) + entryExtension
}

var (
	_ core.AudioCache = (*BlobCache)(nil)
	_ core.Evictor    = (*BlobCache)(nil)
)
