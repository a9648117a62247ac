package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerSampleRate  = "X-Sample-Rate"
	contentTypeJSON   = "application/json"
)

const maxErrorBodyBytes = 4 << 10

// SynthesisRequest is the JSON payload sent to the synthesis service.
type SynthesisRequest struct {
	// SSML is the complete <speak> document to render.
	SSML string `json:"ssml"`

	// Voice selects the speaker on the service side.
	Voice string `json:"voice"`

	// Format is the requested audio encoding ("wav", "mp3", "ogg").
	Format string `json:"format"`
}

// ServiceErrorResponse is the structured error body returned by the service.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPSynthesizer calls a standalone synthesis service over HTTP.
type HTTPSynthesizer struct {
	httpClient *http.Client
	baseURL    string
	format     core.AudioFormat
}

// NewHTTPSynthesizer creates a synthesizer for the service at baseURL
// (e.g. "http://localhost:8000"). The timeout bounds each HTTP exchange.
func NewHTTPSynthesizer(baseURL string, format core.AudioFormat, timeout time.Duration) *HTTPSynthesizer {
	if format == "" {
		format = core.FormatWAV
	}

	return &HTTPSynthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		format:  format,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize posts the markup and returns the audio in the response body.
//
// Transport errors, 408, 429 and 5xx responses are transient. Other non-2xx
// responses, non-audio payloads and empty bodies are permanent.
func (c *HTTPSynthesizer) Synthesize(
	ctx context.Context,
	markup core.MarkupText,
	voice core.VoiceID,
) (*core.AudioArtifact, error) {
	err := validateRequest(markup, voice)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(SynthesisRequest{
		SSML:   string(markup),
		Voice:  string(voice),
		Format: string(c.format),
	})
	if err != nil {
		return nil, permanent("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesize, bytes.NewReader(requestBody))
	if err != nil {
		return nil, permanent("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, c.format.MIMEType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextFailure(ctx, err)
		}

		return nil, transient("failed to reach synthesis service at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.parseErrorResponse(resp)
	}

	format, err := formatFromContentType(resp.Header.Get(headerContentType), c.format)
	if err != nil {
		return nil, permanent("%w", err)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, permanent("%w", ErrEmptyAudio)
	}

	sampleRate, _ := strconv.Atoi(resp.Header.Get(headerSampleRate))
	if sampleRate == 0 && format == core.FormatWAV {
		sampleRate = wavSampleRate(audioData)
	}

	return &core.AudioArtifact{Data: audioData, Format: format, SampleRateHz: sampleRate}, nil
}

// HealthCheck verifies that the service answers its health endpoint.
func (c *HTTPSynthesizer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transient("health check failed for service at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return transient("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body,
// and classifies it by status code.
func (c *HTTPSynthesizer) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	detail := strings.TrimSpace(string(body))

	var errorResp ServiceErrorResponse

	if json.Unmarshal(body, &errorResp) == nil && errorResp.Detail != "" {
		detail = fmt.Sprintf("%s (code: %s)", errorResp.Detail, errorResp.ErrorCode)
	}

	if isTransientStatus(resp.StatusCode) {
		return transient("synthesis service error (%s): %s", resp.Status, detail)
	}

	return permanent("synthesis service error (%s): %s", resp.Status, detail)
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

var errNotAudio = errors.New("response is not audio")

// formatFromContentType maps the response media type onto an AudioFormat. A
// generic binary type keeps the requested format.
func formatFromContentType(contentType string, requested core.AudioFormat) (core.AudioFormat, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q", errNotAudio, contentType)
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return core.FormatWAV, nil
	case "audio/mpeg", "audio/mp3":
		return core.FormatMP3, nil
	case "audio/ogg", "audio/opus":
		return core.FormatOGG, nil
	case "application/octet-stream":
		return requested, nil
	default:
		return "", fmt.Errorf("%w: content type %q", errNotAudio, contentType)
	}
}

var (
	_ core.Synthesizer = (*HTTPSynthesizer)(nil)
	_ HealthChecker    = (*HTTPSynthesizer)(nil)
)
