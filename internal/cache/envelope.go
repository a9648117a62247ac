package cache

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/book-expert/narration-service/internal/core"
)

const envelopeVersion = 1

// entryExtension is the file or object suffix of an encoded entry.
const entryExtension = ".nac"

// ErrCorruptEntry indicates a stored entry that fails to decode or verify.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// envelope is the persisted form of a cache entry.
type envelope struct {
	Version      int       `msgpack:"v"`
	Key          string    `msgpack:"k"`
	Format       string    `msgpack:"f"`
	SampleRateHz int       `msgpack:"sr"`
	Checksum     []byte    `msgpack:"sum"`
	CreatedAt    time.Time `msgpack:"at"`
	Data         []byte    `msgpack:"d"`
}

func encodeEntry(key core.CacheKey, artifact *core.AudioArtifact) ([]byte, error) {
	if artifact == nil {
		return nil, fmt.Errorf("%w: nil artifact for key %s", core.ErrStorageUnavailable, key.Short())
	}

	sum := sha256.Sum256(artifact.Data)

	encoded, err := msgpack.Marshal(&envelope{
		Version:      envelopeVersion,
		Key:          string(key),
		Format:       string(artifact.Format),
		SampleRateHz: artifact.SampleRateHz,
		Checksum:     sum[:],
		CreatedAt:    time.Now().UTC(),
		Data:         artifact.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry %s: %w", key.Short(), err)
	}

	return encoded, nil
}

// decodeEntry verifies that raw holds a complete entry for key.
func decodeEntry(key core.CacheKey, raw []byte) (*core.AudioArtifact, error) {
	var env envelope

	err := msgpack.Unmarshal(raw, &env)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEntry, key.Short(), err)
	}

	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorruptEntry, key.Short(), env.Version)
	}

	if env.Key != string(key) {
		return nil, fmt.Errorf("%w: %s: stored under foreign key %q", ErrCorruptEntry, key.Short(), env.Key)
	}

	sum := sha256.Sum256(env.Data)
	if !bytes.Equal(sum[:], env.Checksum) {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorruptEntry, key.Short())
	}

	return &core.AudioArtifact{
		Data:         env.Data,
		Format:       core.AudioFormat(env.Format),
		SampleRateHz: env.SampleRateHz,
	}, nil
}

// unavailable tags err as a storage failure unless it already is one.
func unavailable(err error) error {
	if errors.Is(err, core.ErrStorageUnavailable) {
		return err
	}

	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}
