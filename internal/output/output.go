// Package output persists finished narrations where callers can collect them:
// a local directory or an object store bucket.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	// DefaultStorePrefix is the object-key prefix StoreSink uses when none is given.
	DefaultStorePrefix = "narrations"

	maxNamePart     = 64
	filePermissions = 0o644
	dirPermissions  = 0o750
)

var (
	// ErrOutputDirEmpty indicates a DirSink was configured without a directory.
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
	// ErrNilArtifact indicates a sink was handed no audio.
	ErrNilArtifact = errors.New("artifact is nil")
)

// FileName returns the name a narration is stored under:
// <doc>__<voice>__<key[:12]><ext>. Document and voice are reduced to a
// filesystem-safe alphabet so any document id yields a flat name.
func FileName(item core.WorkItem, key core.CacheKey, format core.AudioFormat) string {
	return sanitize(string(item.DocumentID)) + "__" +
		sanitize(string(item.VoiceID)) + "__" +
		key.Short() + format.Extension()
}

func sanitize(part string) string {
	var builder strings.Builder

	lastUnderscore := false

	for _, r := range part {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			builder.WriteRune(r)

			lastUnderscore = false

			continue
		}

		if !lastUnderscore {
			builder.WriteByte('_')

			lastUnderscore = true
		}
	}

	cleaned := strings.Trim(builder.String(), "._")
	if cleaned == "" {
		return "untitled"
	}

	if len(cleaned) > maxNamePart {
		cleaned = cleaned[:maxNamePart]
	}

	return cleaned
}

// DirSink writes narrations into a flat local directory.
type DirSink struct {
	dir string
}

// NewDirSink returns a sink writing into dir. The directory is created on demand.
func NewDirSink(dir string) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrOutputDirEmpty
	}

	return &DirSink{dir: filepath.Clean(dir)}, nil
}

// Dir returns the output directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// Persist writes artifact to its file and returns the file path. The file
// appears under its final name only once fully written.
func (s *DirSink) Persist(_ context.Context, item core.WorkItem, key core.CacheKey, artifact *core.AudioArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("%w: %s: %w", core.ErrPersist, item.DocumentID, ErrNilArtifact)
	}

	err := os.MkdirAll(s.dir, dirPermissions)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create output directory %s: %w", core.ErrPersist, s.dir, err)
	}

	path := filepath.Join(s.dir, FileName(item, key, artifact.Format))

	err = writeAtomic(path, artifact.Data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to write %s: %w", core.ErrPersist, path, err)
	}

	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(filePermissions)
	}

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmpName, path)
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	return nil
}

// StoreSink uploads narrations to an object store.
type StoreSink struct {
	store  core.ObjectStore
	prefix string
}

// NewStoreSink returns a sink uploading under prefix in store.
func NewStoreSink(store core.ObjectStore, prefix string) *StoreSink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultStorePrefix
	}

	return &StoreSink{store: store, prefix: prefix}
}

// Persist uploads artifact and returns its object key.
func (s *StoreSink) Persist(ctx context.Context, item core.WorkItem, key core.CacheKey, artifact *core.AudioArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("%w: %s: %w", core.ErrPersist, item.DocumentID, ErrNilArtifact)
	}

	objectKey := s.prefix + "/" + FileName(item, key, artifact.Format)

	err := s.store.Upload(ctx, objectKey, artifact.Data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload %s: %w", core.ErrPersist, objectKey, err)
	}

	return objectKey, nil
}

var (
	_ core.Sink = (*DirSink)(nil)
	_ core.Sink = (*StoreSink)(nil)
)
