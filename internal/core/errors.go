package core

import (
	"context"
	"errors"
)

var (
	// ErrContentFetch indicates a document could not be retrieved from its source.
	ErrContentFetch = errors.New("content fetch failed")
	// ErrParse indicates retrieved content could not be turned into plain text.
	ErrParse = errors.New("content parse failed")
	// ErrEmptyInput indicates the formatter received no narratable text.
	ErrEmptyInput = errors.New("empty input")
	// ErrSynthesisUnavailable indicates a transient backend failure that may be retried.
	ErrSynthesisUnavailable = errors.New("synthesis backend unavailable")
	// ErrSynthesis indicates the backend permanently rejected the request.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrStorageUnavailable indicates the cache medium could not be read or written.
	ErrStorageUnavailable = errors.New("cache storage unavailable")
	// ErrPersist indicates a finished artifact could not be written to its output.
	ErrPersist = errors.New("output persistence failed")
	// ErrInvalidRequest indicates a work item that cannot be processed as given,
	// such as an unknown style option or a missing voice.
	ErrInvalidRequest = errors.New("invalid work item")
	// ErrObjectNotFound indicates an object store has no object under the key.
	ErrObjectNotFound = errors.New("object not found")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSynthesisUnavailable)
}

// ErrorKind returns a stable short name for the taxonomy member err belongs to.
// It is used in batch reports and worker replies.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrContentFetch):
		return "content_fetch"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrSynthesisUnavailable):
		return "synthesis_unavailable"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrPersist):
		return "persist"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
