package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// FilePrefix marks document ids served by a FileIngestor.
const FilePrefix = "file:"

var (
	// ErrRootEmpty indicates a FileIngestor configured without a root directory.
	ErrRootEmpty = errors.New("ingest root directory cannot be empty")
	// ErrPathEscapesRoot indicates a document path pointing outside the root.
	ErrPathEscapesRoot = errors.New("document path escapes the ingest root")
)

// FileIngestor reads documents from a directory tree. Ids have the form
// "file:relative/path.html".
type FileIngestor struct {
	*Parser

	root string
}

// NewFileIngestor returns an ingestor confined to root.
func NewFileIngestor(root string) (*FileIngestor, error) {
	if root == "" {
		return nil, ErrRootEmpty
	}

	return &FileIngestor{Parser: NewParser(), root: filepath.Clean(root)}, nil
}

// Fetch reads the file named by id. Missing files and paths outside the root wrap
// core.ErrContentFetch.
func (f *FileIngestor) Fetch(ctx context.Context, id core.DocumentID) (*core.RawContent, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	name, err := relativeName(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	file, err := os.OpenInRoot(f.root, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	defer func() {
		_ = file.Close()
	}()

	body, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	return &core.RawContent{ID: id, MediaType: mediaTypeForName(name), Body: body}, nil
}

// relativeName validates the path part of a file id.
func relativeName(id string) (string, error) {
	name := strings.TrimPrefix(id, FilePrefix)
	name = strings.TrimPrefix(name, "//")

	if name == "" || filepath.IsAbs(name) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, name)
	}

	return filepath.FromSlash(name), nil
}

var _ core.Ingestor = (*FileIngestor)(nil)
