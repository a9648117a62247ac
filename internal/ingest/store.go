package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// StorePrefix marks document ids served by a StoreIngestor.
const StorePrefix = "store:"

// ErrObjectKeyEmpty indicates a store id without an object key.
var ErrObjectKeyEmpty = errors.New("object key cannot be empty")

// StoreIngestor reads documents uploaded to an object store. Ids have the form
// "store:object/key.html".
type StoreIngestor struct {
	*Parser

	store  core.ObjectStore
	prefix string
}

// NewStoreIngestor returns an ingestor reading objects under prefix in store.
func NewStoreIngestor(store core.ObjectStore, prefix string) *StoreIngestor {
	return &StoreIngestor{Parser: NewParser(), store: store, prefix: strings.Trim(prefix, "/")}
}

// Fetch downloads the object named by id.
func (s *StoreIngestor) Fetch(ctx context.Context, id core.DocumentID) (*core.RawContent, error) {
	key := strings.TrimPrefix(string(id), StorePrefix)
	if key == "" {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, ErrObjectKeyEmpty)
	}

	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	body, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	return &core.RawContent{ID: id, MediaType: mediaTypeForName(key), Body: body}, nil
}

var _ core.Ingestor = (*StoreIngestor)(nil)
