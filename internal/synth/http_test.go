package synth_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/synth"
)

const testMarkup = core.MarkupText(`<speak><prosody rate="slow" pitch="medium">Hello world</prosody></speak>`)

// wavHeader returns a minimal canonical WAV header at the given sample rate.
func wavHeader(sampleRate uint32) []byte {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)

	return header
}

func TestHTTPSynthesizer_Synthesize_Success(t *testing.T) {
	t.Parallel()

	audio := wavHeader(22050)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/synthesize", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var req synth.SynthesisRequest

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, string(testMarkup), req.SSML)
		assert.Equal(t, "en-US-voice1", req.Voice)
		assert.Equal(t, "wav", req.Format)

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio)
	}))
	t.Cleanup(server.Close)

	synthesizer := synth.NewHTTPSynthesizer(server.URL+"/", core.FormatWAV, 5*time.Second)

	artifact, err := synthesizer.Synthesize(context.Background(), testMarkup, "en-US-voice1")
	require.NoError(t, err)
	assert.Equal(t, audio, artifact.Data)
	assert.Equal(t, core.FormatWAV, artifact.Format)
	assert.Equal(t, 22050, artifact.SampleRateHz)
}

func TestHTTPSynthesizer_Synthesize_MP3WithSampleRateHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("X-Sample-Rate", "24000")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	t.Cleanup(server.Close)

	synthesizer := synth.NewHTTPSynthesizer(server.URL, core.FormatMP3, 5*time.Second)

	artifact, err := synthesizer.Synthesize(context.Background(), testMarkup, "v")
	require.NoError(t, err)
	assert.Equal(t, core.FormatMP3, artifact.Format)
	assert.Equal(t, 24000, artifact.SampleRateHz)
}

func TestHTTPSynthesizer_Synthesize_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		transient   bool
		contains    string
	}{
		{name: "overloaded", status: http.StatusTooManyRequests, body: "slow down", transient: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", transient: true},
		{name: "bad gateway", status: http.StatusBadGateway, transient: true},
		{name: "request timeout", status: http.StatusRequestTimeout, transient: true},
		{
			name:     "rejected markup",
			status:   http.StatusBadRequest,
			body:     `{"detail":"Invalid SSML","error_code":"INVALID_SSML"}`,
			contains: "Invalid SSML (code: INVALID_SSML)",
		},
		{name: "unknown voice", status: http.StatusNotFound, body: "no such voice", contains: "no such voice"},
		{name: "not audio", status: http.StatusOK, contentType: "text/html", body: "<html>"},
		{name: "empty audio", status: http.StatusOK, contentType: "audio/wav"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if testCase.contentType != "" {
					w.Header().Set("Content-Type", testCase.contentType)
				}

				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			}))
			t.Cleanup(server.Close)

			synthesizer := synth.NewHTTPSynthesizer(server.URL, core.FormatWAV, 5*time.Second)

			_, err := synthesizer.Synthesize(context.Background(), testMarkup, "v")
			require.Error(t, err)
			assert.Equal(t, testCase.transient, core.IsTransient(err), "error: %v", err)

			if !testCase.transient {
				require.ErrorIs(t, err, core.ErrSynthesis)
			}

			if testCase.contains != "" {
				assert.Contains(t, err.Error(), testCase.contains)
			}
		})
	}
}

func TestHTTPSynthesizer_Synthesize_UnreachableIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	synthesizer := synth.NewHTTPSynthesizer(url, core.FormatWAV, time.Second)

	_, err := synthesizer.Synthesize(context.Background(), testMarkup, "v")
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
}

func TestHTTPSynthesizer_Synthesize_DeadlineIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	synthesizer := synth.NewHTTPSynthesizer(server.URL, core.FormatWAV, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := synthesizer.Synthesize(ctx, testMarkup, "v")
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
}

func TestHTTPSynthesizer_Synthesize_RejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	synthesizer := synth.NewHTTPSynthesizer(server.URL, core.FormatWAV, time.Second)

	_, err := synthesizer.Synthesize(context.Background(), "", "v")
	require.ErrorIs(t, err, synth.ErrEmptyMarkup)
	require.ErrorIs(t, err, core.ErrSynthesis)

	_, err = synthesizer.Synthesize(context.Background(), testMarkup, "")
	require.ErrorIs(t, err, synth.ErrEmptyVoice)

	assert.Zero(t, calls.Load())
}

func TestHTTPSynthesizer_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := atomic.Bool{}
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)

		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(server.Close)

	synthesizer := synth.NewHTTPSynthesizer(server.URL, core.FormatWAV, time.Second)

	require.NoError(t, synthesizer.HealthCheck(context.Background()))

	healthy.Store(false)
	require.ErrorIs(t, synthesizer.HealthCheck(context.Background()), core.ErrSynthesisUnavailable)
}
