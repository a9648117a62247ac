package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// ErrUnknownSource indicates a document id that matches no registered prefix.
var ErrUnknownSource = errors.New("no ingestor registered for document id")

type route struct {
	prefix   string
	ingestor core.Ingestor
}

// Mux routes documents to ingestors by id prefix. The longest matching prefix
// wins. Register every route before the first Fetch.
type Mux struct {
	routes []route
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{}
}

// Handle registers ingestor for ids beginning with prefix. Registering a prefix
// again replaces the earlier ingestor.
func (m *Mux) Handle(prefix string, ingestor core.Ingestor) {
	for i := range m.routes {
		if m.routes[i].prefix == prefix {
			m.routes[i].ingestor = ingestor

			return
		}
	}

	m.routes = append(m.routes, route{prefix: prefix, ingestor: ingestor})

	sort.SliceStable(m.routes, func(i, j int) bool {
		return len(m.routes[i].prefix) > len(m.routes[j].prefix)
	})
}

// Prefixes returns the registered prefixes, longest first.
func (m *Mux) Prefixes() []string {
	prefixes := make([]string, 0, len(m.routes))
	for _, r := range m.routes {
		prefixes = append(prefixes, r.prefix)
	}

	return prefixes
}

// Fetch delegates to the ingestor registered for id.
func (m *Mux) Fetch(ctx context.Context, id core.DocumentID) (*core.RawContent, error) {
	ingestor, err := m.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrContentFetch, err)
	}

	return ingestor.Fetch(ctx, id)
}

// Parse delegates to the ingestor that fetched raw.
func (m *Mux) Parse(raw *core.RawContent) (core.PlainText, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: no content", core.ErrParse)
	}

	ingestor, err := m.lookup(raw.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrParse, err)
	}

	return ingestor.Parse(raw)
}

func (m *Mux) lookup(id core.DocumentID) (core.Ingestor, error) {
	for _, r := range m.routes {
		if strings.HasPrefix(string(id), r.prefix) {
			return r.ingestor, nil
		}
	}

	return nil, fmt.Errorf("%w %q", ErrUnknownSource, id)
}

var _ core.Ingestor = (*Mux)(nil)
