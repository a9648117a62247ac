// Package markup renders plain narration text as SSML.
//
// Formatting is a pure function of (text, style) so that the resulting markup can
// be used as cache-key material. The stages always run in the same order:
//
//  0. canonicalize: XML-safe runes, NFC, line endings, paragraph split,
//     whitespace collapse
//  1. emphasis: asterisk-delimited spans become <emphasis> elements
//  2. pauses: <break> after sentence terminators and between paragraphs
//  3. prosody: the body is wrapped in <speak><prosody rate pitch>
package markup

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/book-expert/narration-service/internal/core"
)

// MaxPauseAfterMs bounds PauseAfterMs so paragraph breaks stay within the
// 10 second limit most SSML engines enforce.
const MaxPauseAfterMs = 5000

const (
	emphasisDelimiter = '*'
	paragraphFactor   = 2
)

// ErrInvalidStyle indicates a StyleConfig option outside the recognized values.
var ErrInvalidStyle = errors.New("invalid style")

var (
	paragraphSplitPattern = regexp.MustCompile(`\n[ \t\f\v]*\n`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
	// A terminator run, optional closing quotes or brackets, then whitespace.
	sentenceBoundaryPattern = regexp.MustCompile(`([.!?]+["'’”)\]]*)\s+`)

	xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// segment is a run of paragraph text, either plain or a designated emphasis span.
// After stage 1 text is XML-escaped and may carry emphasis tags.
type segment struct {
	text       string
	emphasized bool
}

// Formatter renders PlainText as MarkupText. The zero value is ready to use and it
// is safe for concurrent use.
type Formatter struct{}

// NewFormatter returns a Formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format converts text into SSML under style. It fails only on an invalid style or
// when text holds nothing narratable (core.ErrEmptyInput).
func (f *Formatter) Format(text core.PlainText, style core.StyleConfig) (core.MarkupText, error) {
	err := ValidateStyle(style)
	if err != nil {
		return "", err
	}

	paragraphs := canonicalParagraphs(string(text))
	if len(paragraphs) == 0 {
		return "", fmt.Errorf("%w: no narratable text", core.ErrEmptyInput)
	}

	rendered := make([]string, 0, len(paragraphs))

	for _, paragraph := range paragraphs {
		segments := splitEmphasis(paragraph)
		if len(segments) == 0 {
			continue
		}

		segments = applyEmphasis(segments, style.EmphasisLevel)
		segments = insertSentencePauses(segments, style.PauseAfterMs)

		rendered = append(rendered, joinSegments(segments))
	}

	if len(rendered) == 0 {
		return "", fmt.Errorf("%w: no narratable text", core.ErrEmptyInput)
	}

	body := joinParagraphs(rendered, style.PauseAfterMs)

	return wrapProsody(body, style), nil
}

// ValidateStyle checks every option of style against the recognized values.
func ValidateStyle(style core.StyleConfig) error {
	switch style.EmphasisLevel {
	case core.EmphasisNone, core.EmphasisModerate, core.EmphasisStrong:
	default:
		return fmt.Errorf("%w: emphasis level %q", ErrInvalidStyle, style.EmphasisLevel)
	}

	switch style.Rate {
	case core.RateSlow, core.RateMedium, core.RateFast:
	default:
		return fmt.Errorf("%w: rate %q", ErrInvalidStyle, style.Rate)
	}

	switch style.Pitch {
	case core.PitchLow, core.PitchMedium, core.PitchHigh:
	default:
		return fmt.Errorf("%w: pitch %q", ErrInvalidStyle, style.Pitch)
	}

	if style.PauseAfterMs < 0 || style.PauseAfterMs > MaxPauseAfterMs {
		return fmt.Errorf("%w: pause_after_ms must be between 0 and %d, got %d",
			ErrInvalidStyle, MaxPauseAfterMs, style.PauseAfterMs)
	}

	return nil
}

// canonicalParagraphs applies stage 0 and returns the non-empty paragraphs.
func canonicalParagraphs(text string) []string {
	text, _, _ = transform.String(newCanonicalizer(), text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string

	for _, raw := range paragraphSplitPattern.Split(text, -1) {
		paragraph := strings.TrimSpace(whitespacePattern.ReplaceAllString(raw, " "))
		if paragraph != "" {
			paragraphs = append(paragraphs, paragraph)
		}
	}

	return paragraphs
}

// newCanonicalizer replaces ill-formed UTF-8 and maps runes XML 1.0 forbids before
// normalizing to NFC. Chains are stateful, so each call builds its own.
func newCanonicalizer() transform.Transformer {
	return transform.Chain(runes.ReplaceIllFormed(), runes.Map(xmlSafeRune), norm.NFC)
}

// xmlSafeRune turns control characters into spaces and the remaining characters
// outside the XML Char production into U+FFFD.
func xmlSafeRune(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return r
	case r < 0x20:
		return ' '
	case r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF, r > utf8.MaxRune:
		return utf8.RuneError
	default:
		return r
	}
}

// splitEmphasis cuts a paragraph at runs of asterisks. Runs pair up left to right;
// an unmatched final run is dropped as literal noise.
func splitEmphasis(paragraph string) []segment {
	var (
		parts   []string
		current strings.Builder
		inRun   bool
	)

	for _, char := range paragraph {
		if char == emphasisDelimiter {
			if !inRun {
				parts = append(parts, current.String())
				current.Reset()
			}

			inRun = true

			continue
		}

		inRun = false

		current.WriteRune(char)
	}

	parts = append(parts, current.String())

	// An even number of parts means the last delimiter run had no partner.
	if len(parts)%2 == 0 {
		last := len(parts) - 1
		parts[last-1] += parts[last]
		parts = parts[:last]
	}

	segments := make([]segment, 0, len(parts))

	for index, part := range parts {
		emphasized := index%2 == 1

		part = whitespacePattern.ReplaceAllString(part, " ")
		if emphasized {
			part = strings.TrimSpace(part)
		}

		if strings.TrimSpace(part) == "" && (emphasized || part == "") {
			continue
		}

		segments = append(segments, segment{text: part, emphasized: emphasized})
	}

	return trimEdges(segments)
}

// trimEdges removes leading space from the first segment and trailing space from
// the last one, dropping segments that become empty.
func trimEdges(segments []segment) []segment {
	for len(segments) > 0 {
		segments[0].text = strings.TrimLeft(segments[0].text, " ")
		if segments[0].text != "" {
			break
		}

		segments = segments[1:]
	}

	for len(segments) > 0 {
		last := len(segments) - 1

		segments[last].text = strings.TrimRight(segments[last].text, " ")
		if segments[last].text != "" {
			break
		}

		segments = segments[:last]
	}

	return segments
}

// applyEmphasis is stage 1: escape every segment and wrap designated spans.
func applyEmphasis(segments []segment, level core.EmphasisLevel) []segment {
	out := make([]segment, len(segments))

	for index, seg := range segments {
		escaped := xmlEscaper.Replace(seg.text)
		if seg.emphasized && level != core.EmphasisNone {
			escaped = `<emphasis level="` + string(level) + `">` + escaped + `</emphasis>`
		}

		out[index] = segment{text: escaped, emphasized: seg.emphasized}
	}

	return out
}

// insertSentencePauses is stage 2 within a paragraph. Boundaries are only taken
// from plain segments so that breaks never land inside an emphasis element.
func insertSentencePauses(segments []segment, pauseAfterMs int) []segment {
	if pauseAfterMs <= 0 {
		return segments
	}

	replacement := "${1}" + breakTag(pauseAfterMs) + " "

	for index, seg := range segments {
		if seg.emphasized {
			continue
		}

		segments[index].text = sentenceBoundaryPattern.ReplaceAllString(seg.text, replacement)
	}

	return segments
}

func joinSegments(segments []segment) string {
	var builder strings.Builder

	for _, seg := range segments {
		builder.WriteString(seg.text)
	}

	return builder.String()
}

// joinParagraphs is stage 2 across paragraphs.
func joinParagraphs(paragraphs []string, pauseAfterMs int) string {
	if pauseAfterMs <= 0 {
		return strings.Join(paragraphs, " ")
	}

	return strings.Join(paragraphs, breakTag(pauseAfterMs*paragraphFactor)+" ")
}

// wrapProsody is stage 3.
func wrapProsody(body string, style core.StyleConfig) core.MarkupText {
	return core.MarkupText(`<speak><prosody rate="` + string(style.Rate) +
		`" pitch="` + string(style.Pitch) + `">` + body + `</prosody></speak>`)
}

func breakTag(milliseconds int) string {
	return `<break time="` + strconv.Itoa(milliseconds) + `ms"/>`
}
