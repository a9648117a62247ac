package core

import "strings"

// DocumentID identifies a source document. Its prefix selects the content source.
type DocumentID string

// VoiceID selects a synthesis voice or profile.
type VoiceID string

// PlainText is UTF-8 text extracted from a document. Paragraphs are separated by
// blank lines and spans wrapped in asterisks are designated for emphasis.
type PlainText string

// MarkupText is SSML derived deterministically from PlainText and a StyleConfig.
type MarkupText string

// CacheKey is the lowercase hex fingerprint of a (MarkupText, VoiceID) pair.
type CacheKey string

// Short returns a prefix of the key suitable for file names and log lines.
func (k CacheKey) Short() string {
	const shortKeyLength = 12

	if len(k) <= shortKeyLength {
		return string(k)
	}

	return string(k[:shortKeyLength])
}

// EmphasisLevel controls how designated spans are stressed.
type EmphasisLevel string

// Recognized emphasis levels.
const (
	EmphasisNone     EmphasisLevel = "none"
	EmphasisModerate EmphasisLevel = "moderate"
	EmphasisStrong   EmphasisLevel = "strong"
)

// Rate is the prosody speaking rate.
type Rate string

// Recognized rates.
const (
	RateSlow   Rate = "slow"
	RateMedium Rate = "medium"
	RateFast   Rate = "fast"
)

// Pitch is the prosody pitch.
type Pitch string

// Recognized pitches.
const (
	PitchLow    Pitch = "low"
	PitchMedium Pitch = "medium"
	PitchHigh   Pitch = "high"
)

// StyleConfig holds the options that shape the generated markup.
type StyleConfig struct {
	EmphasisLevel EmphasisLevel `json:"emphasis_level" toml:"emphasis_level" yaml:"emphasis_level"`
	PauseAfterMs  int           `json:"pause_after_ms" toml:"pause_after_ms" yaml:"pause_after_ms"`
	Rate          Rate          `json:"rate"           toml:"rate"           yaml:"rate"`
	Pitch         Pitch         `json:"pitch"          toml:"pitch"          yaml:"pitch"`
}

// DefaultStyle returns a neutral style: moderate emphasis, short pauses, medium prosody.
func DefaultStyle() StyleConfig {
	return StyleConfig{
		EmphasisLevel: EmphasisModerate,
		PauseAfterMs:  300,
		Rate:          RateMedium,
		Pitch:         PitchMedium,
	}
}

// AudioFormat names the encoding of an artifact's payload.
type AudioFormat string

// Supported audio formats.
const (
	FormatWAV AudioFormat = "wav"
	FormatMP3 AudioFormat = "mp3"
	FormatOGG AudioFormat = "ogg"
)

// Extension returns the file extension for the format, including the dot.
func (f AudioFormat) Extension() string {
	if f == "" {
		return ".bin"
	}

	return "." + strings.ToLower(string(f))
}

// MIMEType returns the media type for the format.
func (f AudioFormat) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// AudioArtifact is a synthesized audio payload plus its encoding metadata.
// Artifacts handed out by caches are copies; callers must not mutate shared ones.
type AudioArtifact struct {
	Data         []byte
	Format       AudioFormat
	SampleRateHz int
}

// Clone returns a deep copy of the artifact.
func (a *AudioArtifact) Clone() *AudioArtifact {
	if a == nil {
		return nil
	}

	data := make([]byte, len(a.Data))
	copy(data, a.Data)

	return &AudioArtifact{Data: data, Format: a.Format, SampleRateHz: a.SampleRateHz}
}

// RawContent is an undecoded document as returned by an Ingestor's Fetch.
type RawContent struct {
	ID        DocumentID
	MediaType string
	Body      []byte
}

// WorkItem asks for one document to be narrated with one voice.
// A nil Style selects the pipeline's configured default.
type WorkItem struct {
	DocumentID DocumentID   `json:"document_id" yaml:"document_id"`
	VoiceID    VoiceID      `json:"voice_id"    yaml:"voice_id"`
	Style      *StyleConfig `json:"style,omitempty" yaml:"style,omitempty"`
}

// Result is the outcome of one WorkItem. Exactly one of Artifact and Err is set.
type Result struct {
	Item     WorkItem
	Key      CacheKey
	Artifact *AudioArtifact
	Location string
	// CacheHit is true when the artifact came from the cache without a synthesis call.
	CacheHit bool
	// Shared is true when the artifact came from another item's in-flight synthesis.
	Shared   bool
	Attempts int
	Warnings []string
	Err      error
}

// OK reports whether the item produced an artifact.
func (r Result) OK() bool {
	return r.Err == nil && r.Artifact != nil
}
