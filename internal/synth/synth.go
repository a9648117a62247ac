// Package synth adapts speech-synthesis backends to core.Synthesizer.
//
// Every adapter classifies backend failures: transient ones (timeouts, overload,
// unavailable endpoints) wrap core.ErrSynthesisUnavailable and permanent ones
// (rejected markup, unknown voice, broken binary) wrap core.ErrSynthesis.
// Retrying is left to the caller.
package synth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
)

var (
	// ErrEmptyMarkup indicates a synthesis request without markup.
	ErrEmptyMarkup = errors.New("markup cannot be empty")
	// ErrEmptyVoice indicates a synthesis request without a voice.
	ErrEmptyVoice = errors.New("voice cannot be empty")
	// ErrEmptyAudio indicates a backend that answered without audio.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// HealthChecker is implemented by adapters that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// validateRequest rejects requests no backend could serve.
func validateRequest(markup core.MarkupText, voice core.VoiceID) error {
	if markup == "" {
		return fmt.Errorf("%w: %w", core.ErrSynthesis, ErrEmptyMarkup)
	}

	if voice == "" {
		return fmt.Errorf("%w: %w", core.ErrSynthesis, ErrEmptyVoice)
	}

	return nil
}

func transient(format string, args ...any) error {
	return fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, fmt.Errorf(format, args...))
}

func permanent(format string, args ...any) error {
	return fmt.Errorf("%w: %w", core.ErrSynthesis, fmt.Errorf(format, args...))
}

// contextFailure classifies an error raised while ctx was done. Deadlines are
// transient; cancellation is reported as is.
func contextFailure(ctx context.Context, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transient("backend timed out: %w", cause)
	}

	return fmt.Errorf("synthesis cancelled: %w", cause)
}

// wavSampleRate reads the sample rate from a canonical RIFF/WAVE header, or
// returns 0 when data has none.
func wavSampleRate(data []byte) int {
	const (
		headerSize       = 28
		sampleRateOffset = 24
	)

	if len(data) < headerSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0
	}

	return int(binary.LittleEndian.Uint32(data[sampleRateOffset:headerSize]))
}
