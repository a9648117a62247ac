// Package text normalizes extracted document text before it is marked up for
// speech. It expands abbreviations, spells out integers, strips references and
// citations, and tidies whitespace and punctuation, while leaving URLs, e-mail
// addresses and `*` emphasis delimiters intact.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

// Regex patterns for text preprocessing.
const (
	urlRegexPattern        = `https?://\S*[^\s.,;:!?)"']`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\d+`
	referenceRegexPattern  = `\[\d+(?:[,–-]\s*\d+)*\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern   = `\([^()]*\d{4}[^()]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
	spaceBeforePunctuation = `\s+([.,;:!?])`
)

// emphasisDelimiter marks emphasis spans in plain text and survives preprocessing.
const emphasisDelimiter = '*'

const (
	sentencePunctuation = ".!?,;:"
	closingMarks        = `"')]*`
)

// placeholderBase is the first rune of the Unicode private use area. Preserved
// tokens are swapped for single private-use runes, which no other step touches.
const placeholderBase = 0xE000

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor provides text preprocessing for narration.
type Preprocessor struct {
	urlPattern         *regexp.Regexp
	emailPattern       *regexp.Regexp
	numberPattern      *regexp.Regexp
	referencePattern   *regexp.Regexp
	citationPattern    *regexp.Regexp
	whitespacePattern  *regexp.Regexp
	punctuationSpacing *regexp.Regexp

	abbreviationReplacer *strings.Replacer
	quoteDashReplacer    *strings.Replacer
	numbers              *numberConverter
}

// NewPreprocessor creates a text preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
	}

	return &Preprocessor{
		urlPattern:           regexp.MustCompile(urlRegexPattern),
		emailPattern:         regexp.MustCompile(emailRegexPattern),
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		referencePattern:     regexp.MustCompile(referenceRegexPattern),
		citationPattern:      regexp.MustCompile(citationRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		punctuationSpacing:   regexp.MustCompile(spaceBeforePunctuation),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		quoteDashReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		numbers: newNumberConverter(),
	}
}

// PreprocessText normalizes a single paragraph. The result holds no line breaks
// and ends with sentence punctuation; empty or whitespace-only input yields "".
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// URLs and e-mail addresses must not be touched by any later step.
	preservedText, placeholders := p.preserveTokens(text)

	// References are removed before numbers are spelled out so "[12]" is still
	// recognizable.
	cleanedText := p.removeReferences(preservedText)
	cleanedText = p.removeCitations(cleanedText)

	cleanedText = p.expandAbbreviations(cleanedText)
	cleanedText = p.normalizeNumbers(cleanedText)

	cleanedText = p.normalizeWhitespace(cleanedText)
	cleanedText = p.finalCleanup(cleanedText)

	return p.restoreTokens(cleanedText, placeholders)
}

// PreprocessParagraphs runs PreprocessText on each paragraph and joins the
// non-empty results with blank lines.
func (p *Preprocessor) PreprocessParagraphs(paragraphs []string) string {
	kept := make([]string, 0, len(paragraphs))

	for _, paragraph := range paragraphs {
		cleaned := p.PreprocessText(paragraph)
		if cleaned != "" {
			kept = append(kept, cleaned)
		}
	}

	return strings.Join(kept, "\n\n")
}

// SplitParagraphs splits text on blank lines.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		paragraphs []string
		current    []string
	)

	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = current[:0]
		}
	}

	for line := range strings.SplitSeq(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()

			continue
		}

		current = append(current, line)
	}

	flush()

	return paragraphs
}

// expandAbbreviations converts common abbreviations to their full form.
func (p *Preprocessor) expandAbbreviations(text string) string {
	return p.abbreviationReplacer.Replace(text)
}

// normalizeNumbers finds all integers in the text and converts them to words.
func (p *Preprocessor) normalizeNumbers(text string) string {
	return p.numberPattern.ReplaceAllStringFunc(text, func(digits string) string {
		num, err := strconv.Atoi(digits)
		if err != nil {
			return digits
		}

		return p.numbers.toWords(num)
	})
}

// preserveTokens replaces URLs and emails with private-use placeholder runes.
func (p *Preprocessor) preserveTokens(text string) (string, []string) {
	var originals []string

	replace := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			placeholder := string(rune(placeholderBase + len(originals)))
			originals = append(originals, match)

			return placeholder
		})
	}

	processed := replace(p.urlPattern, text)
	processed = replace(p.emailPattern, processed)

	return processed, originals
}

// restoreTokens puts preserved tokens back in place of their placeholders.
func (p *Preprocessor) restoreTokens(text string, originals []string) string {
	if len(originals) == 0 {
		return text
	}

	var restored strings.Builder

	for _, char := range text {
		index := int(char) - placeholderBase
		if index >= 0 && index < len(originals) {
			restored.WriteString(originals[index])

			continue
		}

		restored.WriteRune(char)
	}

	return restored.String()
}

// removeReferences removes footnote and reference markers.
func (p *Preprocessor) removeReferences(text string) string {
	return p.referencePattern.ReplaceAllString(text, "")
}

// removeCitations removes academic citations.
func (p *Preprocessor) removeCitations(text string) string {
	return p.citationPattern.ReplaceAllString(text, "")
}

// normalizeWhitespace collapses whitespace and drops spaces left before
// punctuation by removed references.
func (p *Preprocessor) normalizeWhitespace(text string) string {
	text = p.whitespacePattern.ReplaceAllString(text, " ")
	text = p.punctuationSpacing.ReplaceAllString(text, "$1")

	return strings.TrimSpace(text)
}

// finalCleanup normalizes quotes and dashes, collapses repeated sentence
// punctuation and terminates the paragraph.
func (p *Preprocessor) finalCleanup(text string) string {
	text = p.quoteDashReplacer.Replace(text)
	text = p.removeExcessivePunctuation(text)

	return p.ensureProperSentenceEndings(text)
}

// removeExcessivePunctuation collapses runs of sentence punctuation to their
// first mark, so "!!!" becomes "!" and "..." becomes ".".
func (p *Preprocessor) removeExcessivePunctuation(text string) string {
	var (
		result       []rune
		lastWasPunct bool
	)

	for _, char := range text {
		isPunct := strings.ContainsRune(sentencePunctuation, char)
		if !isPunct || !lastWasPunct {
			result = append(result, char)
		}

		lastWasPunct = isPunct
	}

	return string(result)
}

// ensureProperSentenceEndings appends a period unless the text already ends with
// a terminator, possibly followed by closing quotes, brackets or emphasis
// delimiters. Text made only of delimiters yields "".
func (p *Preprocessor) ensureProperSentenceEndings(text string) string {
	trimmedText := strings.TrimSpace(text)
	if strings.Trim(trimmedText, string(emphasisDelimiter)+" ") == "" {
		return ""
	}

	body := strings.TrimRight(trimmedText, closingMarks)

	lastChar, _ := utf8.DecodeLastRuneInString(body)
	if lastChar == '.' || lastChar == '!' || lastChar == '?' {
		return trimmedText
	}

	return trimmedText + "."
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

// underThousand spells 1..999. Zero yields "".
func (nc *numberConverter) underThousand(num int) string {
	var parts []string

	if hundreds := num / NumberBaseHundred; hundreds > 0 {
		parts = append(parts, nc.ones[hundreds]+" hundred")
	}

	remainder := num % NumberBaseHundred

	switch {
	case remainder == 0:
	case remainder < NumberBaseTen:
		parts = append(parts, nc.ones[remainder])
	case remainder < NumberBaseTwenty:
		parts = append(parts, nc.teens[remainder-NumberBaseTen])
	default:
		tens := nc.tens[remainder/NumberBaseTen]
		if unit := remainder % NumberBaseTen; unit > 0 {
			tens += " " + nc.ones[unit]
		}

		parts = append(parts, tens)
	}

	return strings.Join(parts, " ")
}

// toWords spells out 0..MaxNumberForWords; other values stay as digits.
func (nc *numberConverter) toWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / NumberBaseThousand; thousands > 0 {
		parts = append(parts, nc.underThousand(thousands)+" thousand")
	}

	if rest := nc.underThousand(number % NumberBaseThousand); rest != "" {
		parts = append(parts, rest)
	}

	return strings.Join(parts, " ")
}
