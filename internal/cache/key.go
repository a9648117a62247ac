// Package cache provides content-addressed storage for synthesized audio.
//
// Entries are keyed by a SHA-256 fingerprint of (markup, voice) and stored as
// self-describing msgpack envelopes. Four media are supported: a sharded
// directory, a BadgerDB database, any core.ObjectStore (NATS object store, S3)
// and process memory.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/book-expert/narration-service/internal/core"
)

// keyDomain versions the canonical encoding. Changing it invalidates every entry.
const keyDomain = "narration-cache/v1\x00"

const keyHexLength = sha256.Size * 2

// ErrInvalidKey indicates a string that is not a well-formed cache key.
var ErrInvalidKey = errors.New("invalid cache key")

// Key derives the cache key for a synthesis request.
//
// Canonical form: the voice is trimmed, both fields are NFC-normalized, and each
// is written as uvarint(len) followed by its bytes after a version prefix. Markup
// whitespace is left as produced by the formatter, which already canonicalizes it.
func Key(markup core.MarkupText, voice core.VoiceID) core.CacheKey {
	hasher := sha256.New()

	_, _ = io.WriteString(hasher, keyDomain)
	writeField(hasher, norm.NFC.String(strings.TrimSpace(string(voice))))
	writeField(hasher, norm.NFC.String(string(markup)))

	return core.CacheKey(hex.EncodeToString(hasher.Sum(nil)))
}

func writeField(hasher hash.Hash, value string) {
	var lengthPrefix [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(lengthPrefix[:], uint64(len(value)))

	_, _ = hasher.Write(lengthPrefix[:n])
	_, _ = io.WriteString(hasher, value)
}

// ValidateKey reports whether key has the shape Key produces. Storage backends
// use it before turning a key into a path.
func ValidateKey(key core.CacheKey) error {
	if len(key) != keyHexLength {
		return fmt.Errorf("%w: %q has length %d", ErrInvalidKey, key, len(key))
	}

	for _, char := range key {
		isDigit := char >= '0' && char <= '9'
		isHexLetter := char >= 'a' && char <= 'f'

		if !isDigit && !isHexLetter {
			return fmt.Errorf("%w: %q is not lowercase hex", ErrInvalidKey, key)
		}
	}

	return nil
}
