package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	defaultUserAgent    = "narration-service/1.0"
	defaultMaxBodyBytes = 16 << 20
	defaultHTTPTimeout  = 30 * time.Second
)

// HTTPOptions configures an HTTPIngestor. Zero values select defaults.
type HTTPOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// HTTPIngestor fetches documents whose id is an http or https URL.
type HTTPIngestor struct {
	*Parser

	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPIngestor creates an ingestor using its own HTTP client.
func NewHTTPIngestor(opts HTTPOptions) *HTTPIngestor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &HTTPIngestor{
		Parser:       NewParser(),
		client:       &http.Client{Timeout: opts.Timeout},
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Fetch downloads the document. Non-2xx responses and oversized bodies wrap
// core.ErrContentFetch.
func (h *HTTPIngestor) Fetch(ctx context.Context, id core.DocumentID) (*core.RawContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %w", core.ErrContentFetch, id, err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, text/plain;q=0.9, */*;q=0.1")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", core.ErrContentFetch, id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read body: %w", core.ErrContentFetch, id, err)
	}

	if int64(len(body)) > h.maxBodyBytes {
		return nil, fmt.Errorf("%w: %s: body exceeds %d bytes", core.ErrContentFetch, id, h.maxBodyBytes)
	}

	return &core.RawContent{
		ID:        id,
		MediaType: resp.Header.Get("Content-Type"),
		Body:      body,
	}, nil
}

var _ core.Ingestor = (*HTTPIngestor)(nil)
