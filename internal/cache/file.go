package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrCacheDirEmpty indicates a FileCache was configured without a root directory.
var ErrCacheDirEmpty = errors.New("cache directory cannot be empty")

// FileCache stores entries on the local filesystem.
//
// Layout, stable across restarts:
//
//	{root}/
//	  {key[0:2]}/
//	    {key}.nac
//
// Entries are written to a temp file in the shard directory and renamed into
// place, so a reader sees either the previous entry or the complete new one.
type FileCache struct {
	root  string
	locks keyedMutex
}

// NewFileCache returns a cache rooted at dir. The directory is created lazily on
// the first insert.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, ErrCacheDirEmpty
	}

	return &FileCache{root: filepath.Clean(dir)}, nil
}

// Root returns the cache directory.
func (c *FileCache) Root() string {
	return c.root
}

// Lookup reads the entry for key. A missing entry is a miss, not an error.
func (c *FileCache) Lookup(_ context.Context, key core.CacheKey) (*core.AudioArtifact, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	raw, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, unavailable(fmt.Errorf("failed to read cache entry %s: %w", key.Short(), err))
	}

	artifact, err := decodeEntry(key, raw)
	if err != nil {
		return nil, false, unavailable(err)
	}

	return artifact, true, nil
}

// Insert writes the entry for key, replacing any previous one.
func (c *FileCache) Insert(_ context.Context, key core.CacheKey, artifact *core.AudioArtifact) error {
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

	path := c.entryPath(key)

	err = os.MkdirAll(filepath.Dir(path), dirPermissions)
	if err != nil {
		return unavailable(fmt.Errorf("failed to create cache directory: %w", err))
	}

	err = writeFileAtomic(path, encoded, filePermissions)
	if err != nil {
		return unavailable(fmt.Errorf("failed to write cache entry %s: %w", key.Short(), err))
	}

	return nil
}

// Evict removes the entry for key. Evicting a missing entry is not an error.
func (c *FileCache) Evict(_ context.Context, key core.CacheKey) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(key)
	defer unlock()

	err = os.Remove(c.entryPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable(fmt.Errorf("failed to evict cache entry %s: %w", key.Short(), err))
	}

	return nil
}

func (c *FileCache) entryPath(key core.CacheKey) string {
	shard := string(key[:2])

	return filepath.Join(c.root, shard, string(key)+entryExtension)
}

// writeFileAtomic writes data to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	_, err = tmp.Write(data)
	if err != nil {
		return err
	}

	err = tmp.Chmod(perm)
	if err != nil {
		return err
	}

	err = tmp.Sync()
	if err != nil {
		return err
	}

	err = tmp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		return err
	}

	committed = true

	return nil
}

var (
	_ core.AudioCache = (*FileCache)(nil)
	_ core.Evictor    = (*FileCache)(nil)
)
