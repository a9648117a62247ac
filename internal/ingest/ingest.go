// Package ingest fetches learning-module documents from their sources and
// extracts narratable plain text.
//
// Each source (HTTP, local files, an object store) is a core.Ingestor. Mux
// dispatches on the document id prefix so the pipeline sees a single Ingestor.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/text"
)

// Media types understood by Parser.
const (
	MediaTypeHTML     = "text/html"
	MediaTypeXHTML    = "application/xhtml+xml"
	MediaTypePlain    = "text/plain"
	MediaTypeMarkdown = "text/markdown"
)

var (
	// ErrUnsupportedMediaType indicates content that no parser understands.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrInvalidEncoding indicates plain text that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("content is not valid UTF-8")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser turns raw content into preprocessed plain text.
type Parser struct {
	preprocessor *text.Preprocessor
}

// NewParser returns a parser with a fresh text preprocessor.
func NewParser() *Parser {
	return &Parser{preprocessor: text.NewPreprocessor()}
}

// Parse extracts paragraphs according to the media type and preprocesses each.
// Content without narratable text yields "" and no error; the formatter reports
// that case.
func (p *Parser) Parse(raw *core.RawContent) (core.PlainText, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: no content", core.ErrParse)
	}

	body := bytes.TrimPrefix(raw.Body, utf8BOM)
	mediaType := normalizeMediaType(raw.MediaType, body)

	var paragraphs []string

	switch mediaType {
	case MediaTypeHTML, MediaTypeXHTML:
		extracted, err := extractHTML(body)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", core.ErrParse, raw.ID, err)
		}

		paragraphs = extracted
	case MediaTypePlain, MediaTypeMarkdown:
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: %s: %w", core.ErrParse, raw.ID, ErrInvalidEncoding)
		}

		paragraphs = text.SplitParagraphs(string(body))
	default:
		return "", fmt.Errorf("%w: %s: %w %q", core.ErrParse, raw.ID, ErrUnsupportedMediaType, mediaType)
	}

	return core.PlainText(p.preprocessor.PreprocessParagraphs(paragraphs)), nil
}

// normalizeMediaType strips parameters and sniffs the body when no type is given.
func normalizeMediaType(declared string, body []byte) string {
	if strings.TrimSpace(declared) == "" {
		declared = http.DetectContentType(body)
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}

	return mediaType
}

// mediaTypeForName guesses a media type from a file or object name. Unknown
// extensions return "" so the body is sniffed.
func mediaTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return MediaTypeHTML
	case ".xhtml":
		return MediaTypeXHTML
	case ".txt", ".text":
		return MediaTypePlain
	case ".md", ".markdown":
		return MediaTypeMarkdown
	default:
		return ""
	}
}
