package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/book-expert/narration-service/internal/core"
)

const defaultLanguageCode = "en-US"

// SpeechClient is the part of the Cloud Text-to-Speech client used here.
// *texttospeech.Client satisfies it.
type SpeechClient interface {
	SynthesizeSpeech(
		ctx context.Context,
		req *texttospeechpb.SynthesizeSpeechRequest,
		opts ...gax.CallOption,
	) (*texttospeechpb.SynthesizeSpeechResponse, error)
}

// GoogleOptions configures a GoogleSynthesizer.
type GoogleOptions struct {
	// CredentialsFile is a service account key. Empty uses application default
	// credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for a regional endpoint.
	Endpoint string
	// LanguageCode is used when the voice name carries none.
	LanguageCode string
	// Format selects the audio encoding. Defaults to MP3.
	Format core.AudioFormat
	// SampleRateHz requests a sample rate; 0 keeps the voice's native rate.
	SampleRateHz int
}

// GoogleSynthesizer renders SSML with Google Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	client       SpeechClient
	closer       func() error
	languageCode string
	format       core.AudioFormat
	sampleRateHz int
}

// NewGoogleSynthesizer dials the Cloud Text-to-Speech API.
func NewGoogleSynthesizer(ctx context.Context, opts GoogleOptions) (*GoogleSynthesizer, error) {
	var clientOpts []option.ClientOption

	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	synthesizer := NewGoogleSynthesizerWithClient(client, opts)
	synthesizer.closer = client.Close

	return synthesizer, nil
}

// NewGoogleSynthesizerWithClient wraps an existing client.
func NewGoogleSynthesizerWithClient(client SpeechClient, opts GoogleOptions) *GoogleSynthesizer {
	if opts.LanguageCode == "" {
		opts.LanguageCode = defaultLanguageCode
	}

	if opts.Format == "" {
		opts.Format = core.FormatMP3
	}

	return &GoogleSynthesizer{
		client:       client,
		closer:       func() error { return nil },
		languageCode: opts.LanguageCode,
		format:       opts.Format,
		sampleRateHz: opts.SampleRateHz,
	}
}

// Synthesize sends the markup as SSML input.
func (g *GoogleSynthesizer) Synthesize(
	ctx context.Context,
	markup core.MarkupText,
	voice core.VoiceID,
) (*core.AudioArtifact, error) {
	err := validateRequest(markup, voice)
	if err != nil {
		return nil, err
	}

	encoding, err := googleEncoding(g.format)
	if err != nil {
		return nil, permanent("%w", err)
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: string(markup)},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageFromVoice(string(voice), g.languageCode),
			Name:         string(voice),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   encoding,
			SampleRateHertz: int32(g.sampleRateHz), // #nosec G115 -- validated by config
		},
	}

	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, classifyGRPC(ctx, err)
	}

	if len(resp.GetAudioContent()) == 0 {
		return nil, permanent("%w", ErrEmptyAudio)
	}

	sampleRate := g.sampleRateHz
	if g.format == core.FormatWAV {
		sampleRate = max(sampleRate, wavSampleRate(resp.GetAudioContent()))
	}

	return &core.AudioArtifact{
		Data:         resp.GetAudioContent(),
		Format:       g.format,
		SampleRateHz: sampleRate,
	}, nil
}

// Close releases the underlying connection.
func (g *GoogleSynthesizer) Close() error {
	return g.closer()
}

// classifyGRPC maps gRPC status codes onto the synthesis error taxonomy.
func classifyGRPC(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return contextFailure(ctx, err)
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return transient("text-to-speech request timed out: %w", err)
		}

		return transient("text-to-speech request failed: %w", err)
	}

	switch grpcStatus.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return transient("text-to-speech %s: %s", grpcStatus.Code(), grpcStatus.Message())
	default:
		return permanent("text-to-speech %s: %s", grpcStatus.Code(), grpcStatus.Message())
	}
}

var errUnsupportedFormat = errors.New("unsupported audio format")

func googleEncoding(format core.AudioFormat) (texttospeechpb.AudioEncoding, error) {
	switch format {
	case core.FormatMP3:
		return texttospeechpb.AudioEncoding_MP3, nil
	case core.FormatWAV:
		return texttospeechpb.AudioEncoding_LINEAR16, nil
	case core.FormatOGG:
		return texttospeechpb.AudioEncoding_OGG_OPUS, nil
	default:
		return texttospeechpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED, fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// languageFromVoice extracts the BCP-47 prefix of names like "en-GB-Neural2-A".
func languageFromVoice(voice, fallback string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 && len(parts[0]) >= 2 && len(parts[0]) <= 3 && len(parts[1]) == 2 {
		return parts[0] + "-" + parts[1]
	}

	return fallback
}

var _ core.Synthesizer = (*GoogleSynthesizer)(nil)
