package cache

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
)

const badgerKeyPrefix = "audio/"

// ErrBadgerDirEmpty indicates an on-disk BadgerCache was configured without a directory.
var ErrBadgerDirEmpty = errors.New("badger directory is required for on-disk mode")

// BadgerOptions configures a BadgerCache.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Log receives badger's warnings and errors. Nil discards them.
	Log *logger.Logger
}

// BadgerCache stores entries in a BadgerDB database. Each insert is a single
// transaction, so readers never see a partial value.
type BadgerCache struct {
	db    *badger.DB
	locks keyedMutex
}

// NewBadgerCache opens (or creates) the database described by opts.
func NewBadgerCache(opts BadgerOptions) (*BadgerCache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, ErrBadgerDirEmpty
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log: opts.Log})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to open badger database: %w", err))
	}

	return &BadgerCache{db: db}, nil
}

// Lookup reads the entry for key.
func (c *BadgerCache) Lookup(_ context.Context, key core.CacheKey) (*core.AudioArtifact, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	var raw []byte

	err = c.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(badgerKey(key))
		if getErr != nil {
			return getErr
		}

		raw, getErr = item.ValueCopy(nil)

		return getErr
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, unavailable(fmt.Errorf("failed to read cache entry %s: %w", key.Short(), err))
	}

	artifact, err := decodeEntry(key, raw)
	if err != nil {
		return nil, false, unavailable(err)
	}

	return artifact, true, nil
}

// Insert stores the entry for key, replacing any previous one.
func (c *BadgerCache) Insert(_ context.Context, key core.CacheKey, artifact *core.AudioArtifact) error {
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

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), encoded)
	})
	if err != nil {
		return unavailable(fmt.Errorf("failed to write cache entry %s: %w", key.Short(), err))
	}

	return nil
}

// Evict deletes the entry for key.
func (c *BadgerCache) Evict(_ context.Context, key core.CacheKey) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(key)
	defer unlock()

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return unavailable(fmt.Errorf("failed to evict cache entry %s: %w", key.Short(), err))
	}

	return nil
}

// Close releases the database.
func (c *BadgerCache) Close() error {
	err := c.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	return nil
}

func badgerKey(key core.CacheKey) []byte {
	return []byte(badgerKeyPrefix + string(key))
}

// badgerLogger forwards badger warnings and errors to the service logger and drops
// its info and debug chatter.
type badgerLogger struct {
	log *logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	if b.log != nil {
		b.log.Error("[badger] "+format, args...)
	}
}

func (b badgerLogger) Warningf(format string, args ...any) {
	if b.log != nil {
		b.log.Warn("[badger] "+format, args...)
	}
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}

var (
	_ core.AudioCache = (*BadgerCache)(nil)
	_ core.Evictor    = (*BadgerCache)(nil)
)
