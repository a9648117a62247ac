package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/markup"
	"github.com/book-expert/narration-service/internal/pipeline"
)

type fakeIngestor struct {
	docs     map[core.DocumentID]string
	failures map[core.DocumentID]error
}

func (f *fakeIngestor) Fetch(_ context.Context, id core.DocumentID) (*core.RawContent, error) {
	if err, ok := f.failures[id]; ok {
		return nil, err
	}

	text, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown document %s", core.ErrContentFetch, id)
	}

	return &core.RawContent{ID: id, MediaType: "text/plain", Body: []byte(text)}, nil
}

func (f *fakeIngestor) Parse(raw *core.RawContent) (core.PlainText, error) {
	return core.PlainText(raw.Body), nil
}

type synthFunc func(ctx context.Context, call int) (*core.AudioArtifact, error)

type fakeSynthesizer struct {
	mu       sync.Mutex
	markups  []core.MarkupText
	voices   []core.VoiceID
	behavior synthFunc
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text core.MarkupText, voice core.VoiceID) (*core.AudioArtifact, error) {
	f.mu.Lock()
	f.markups = append(f.markups, text)
	f.voices = append(f.voices, voice)
	call := len(f.markups)
	f.mu.Unlock()

	if f.behavior != nil {
		return f.behavior(ctx, call)
	}

	return audioFor(text, voice), nil
}

func (f *fakeSynthesizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.markups)
}

func audioFor(text core.MarkupText, voice core.VoiceID) *core.AudioArtifact {
	return &core.AudioArtifact{
		Data:         []byte(fmt.Sprintf("audio(%s|%s)", voice, text)),
		Format:       core.FormatMP3,
		SampleRateHz: 24000,
	}
}

type brokenCache struct{}

func (brokenCache) Lookup(context.Context, core.CacheKey) (*core.AudioArtifact, bool, error) {
	return nil, false, fmt.Errorf("%w: disk unplugged", core.ErrStorageUnavailable)
}

func (brokenCache) Insert(context.Context, core.CacheKey, *core.AudioArtifact) error {
	return fmt.Errorf("%w: disk unplugged", core.ErrStorageUnavailable)
}

type recordingSink struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (s *recordingSink) Persist(_ context.Context, item core.WorkItem, key core.CacheKey, artifact *core.AudioArtifact) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	location := fmt.Sprintf("mem://%s/%s/%s", item.DocumentID, item.VoiceID, key.Short())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}

	s.saved[location] = bytes.Clone(artifact.Data)

	return location, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func fastRetries(opts pipeline.Options) pipeline.Options {
	opts.RetryInitialInterval = time.Millisecond
	opts.RetryMaxInterval = 5 * time.Millisecond

	return opts
}

func strongSlowStyle() core.StyleConfig {
	return core.StyleConfig{
		EmphasisLevel: core.EmphasisStrong,
		PauseAfterMs:  500,
		Rate:          core.RateSlow,
		Pitch:         core.PitchMedium,
	}
}

func newOrchestrator(t *testing.T, deps pipeline.Dependencies, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()

	orchestrator, err := pipeline.New(deps, opts, newTestLogger(t))
	require.NoError(t, err)

	return orchestrator
}

func TestRun_DuplicateItemsSynthesizeOnce(t *testing.T) {
	t.Parallel()

	ingestor := &fakeIngestor{docs: map[core.DocumentID]string{"doc-A": "Hello world"}}
	synth := &fakeSynthesizer{}
	style := strongSlowStyle()

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    ingestor,
		Synthesizer: synth,
		Cache:       cache.NewMemoryCache(),
	}, pipeline.Options{DefaultStyle: style})

	items := []core.WorkItem{
		{DocumentID: "doc-A", VoiceID: "en-US-voice1"},
		{DocumentID: "doc-A", VoiceID: "en-US-voice1"},
	}

	results := orchestrator.Run(context.Background(), items)
	require.Len(t, results, 2)

	for _, result := range results {
		require.NoError(t, result.Err)
		require.True(t, result.OK())
	}

	assert.Equal(t, results[0].Artifact, results[1].Artifact)
	assert.Equal(t, results[0].Key, results[1].Key)

	expected, err := markup.NewFormatter().Format("Hello world", style)
	require.NoError(t, err)

	require.Equal(t, 1, synth.calls())
	assert.Equal(t, expected, synth.markups[0])
	assert.Equal(t, core.MarkupText(`<speak><prosody rate="slow" pitch="medium">Hello world</prosody></speak>`), synth.markups[0])
	assert.Equal(t, core.VoiceID("en-US-voice1"), synth.voices[0])
}

func TestRun_ConcurrentSameKeyAtMostOneSynthesis(t *testing.T) {
	t.Parallel()

	const requesters = 16

	release := make(chan struct{})
	synth := &fakeSynthesizer{behavior: func(_ context.Context, _ int) (*core.AudioArtifact, error) {
		<-release

		return audioFor("shared", "v"), nil
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Same text for everyone."}},
		Synthesizer: synth,
		Cache:       cache.NewMemoryCache(),
	}, pipeline.Options{MaxInFlight: requesters})

	items := make([]core.WorkItem, requesters)
	for index := range items {
		items[index] = core.WorkItem{DocumentID: "doc", VoiceID: "v"}
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	results := orchestrator.Run(context.Background(), items)

	assert.Equal(t, 1, synth.calls())

	leaders := 0

	for _, result := range results {
		require.NoError(t, result.Err)
		assert.Equal(t, []byte("audio(v|shared)"), result.Artifact.Data)

		if !result.Shared && !result.CacheHit {
			leaders++

			assert.Equal(t, 1, result.Attempts)
		}
	}

	assert.Equal(t, 1, leaders)
}

func TestRun_SeparateBatchesShareOneFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	synth := &fakeSynthesizer{behavior: func(_ context.Context, _ int) (*core.AudioArtifact, error) {
		once.Do(func() { close(started) })
		<-release

		return audioFor("x", "v"), nil
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Shared across batches."}},
		Synthesizer: synth,
	}, pipeline.Options{})

	items := []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}}
	firstDone := make(chan []core.Result, 1)

	go func() { firstDone <- orchestrator.Run(context.Background(), items) }()

	<-started

	secondDone := make(chan []core.Result, 1)

	go func() { secondDone <- orchestrator.Run(context.Background(), items) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-firstDone
	second := <-secondDone

	require.NoError(t, first[0].Err)
	require.NoError(t, second[0].Err)
	assert.Equal(t, 1, synth.calls())
	assert.True(t, first[0].Shared != second[0].Shared, "exactly one batch led the flight")
}

func TestRun_PartialFailureIsIsolated(t *testing.T) {
	t.Parallel()

	ingestor := &fakeIngestor{
		docs: map[core.DocumentID]string{"doc-1": "First document.", "doc-3": "Third document."},
		failures: map[core.DocumentID]error{
			"doc-2": errors.New("connection reset by peer"),
		},
	}
	synth := &fakeSynthesizer{}
	sink := &recordingSink{}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    ingestor,
		Synthesizer: synth,
		Cache:       cache.NewMemoryCache(),
		Sink:        sink,
	}, pipeline.Options{})

	results := orchestrator.Run(context.Background(), []core.WorkItem{
		{DocumentID: "doc-1", VoiceID: "v"},
		{DocumentID: "doc-2", VoiceID: "v"},
		{DocumentID: "doc-3", VoiceID: "v"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, core.DocumentID("doc-1"), results[0].Item.DocumentID)
	assert.Equal(t, core.DocumentID("doc-3"), results[2].Item.DocumentID)

	require.True(t, results[0].OK())
	require.True(t, results[2].OK())
	assert.NotEmpty(t, results[0].Location)
	assert.NotEmpty(t, results[2].Location)

	require.ErrorIs(t, results[1].Err, core.ErrContentFetch)
	assert.Equal(t, "content_fetch", core.ErrorKind(results[1].Err))
	assert.Nil(t, results[1].Artifact)

	assert.Equal(t, 2, synth.calls())
	assert.Len(t, sink.saved, 2)
}

func TestRun_RetryBound(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{behavior: func(context.Context, int) (*core.AudioArtifact, error) {
		return nil, fmt.Errorf("%w: backend overloaded", core.ErrSynthesisUnavailable)
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Never narrated."}},
		Synthesizer: synth,
	}, fastRetries(pipeline.Options{MaxAttempts: 4}))

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.ErrorIs(t, results[0].Err, core.ErrSynthesisUnavailable)
	assert.Equal(t, 4, synth.calls())
	assert.Equal(t, 4, results[0].Attempts)
	assert.False(t, results[0].OK())
}

func TestRun_PermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{behavior: func(context.Context, int) (*core.AudioArtifact, error) {
		return nil, fmt.Errorf("%w: voice not found", core.ErrSynthesis)
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Rejected."}},
		Synthesizer: synth,
	}, fastRetries(pipeline.Options{MaxAttempts: 5}))

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.ErrorIs(t, results[0].Err, core.ErrSynthesis)
	assert.Equal(t, "synthesis", core.ErrorKind(results[0].Err))
	assert.Equal(t, 1, synth.calls())
}

func TestRun_UntaggedBackendErrorIsPermanent(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{behavior: func(context.Context, int) (*core.AudioArtifact, error) {
		return nil, errors.New("malformed response")
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text."}},
		Synthesizer: synth,
	}, fastRetries(pipeline.Options{}))

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.ErrorIs(t, results[0].Err, core.ErrSynthesis)
	assert.Equal(t, 1, synth.calls())
}

func TestRun_EmptyAudioIsPermanent(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{behavior: func(context.Context, int) (*core.AudioArtifact, error) {
		return &core.AudioArtifact{Format: core.FormatWAV}, nil
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text."}},
		Synthesizer: synth,
	}, fastRetries(pipeline.Options{}))

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.ErrorIs(t, results[0].Err, core.ErrSynthesis)
	assert.Equal(t, 1, synth.calls())
}

func TestRun_AttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{behavior: func(ctx context.Context, call int) (*core.AudioArtifact, error) {
		if call == 1 {
			<-ctx.Done()

			return nil, ctx.Err()
		}

		return audioFor("recovered", "v"), nil
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Slow backend."}},
		Synthesizer: synth,
	}, fastRetries(pipeline.Options{SynthesisTimeout: 50 * time.Millisecond}))

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Attempts)
	assert.Equal(t, []byte("audio(v|recovered)"), results[0].Artifact.Data)
}

func TestRun_StorageUnavailableFallsBackToUncached(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Cache is down."}},
		Synthesizer: synth,
		Cache:       brokenCache{},
	}, pipeline.Options{})

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.NoError(t, results[0].Err)
	require.True(t, results[0].OK())
	assert.Equal(t, 1, synth.calls())
	require.Len(t, results[0].Warnings, 2)
	assert.Contains(t, results[0].Warnings[0], "lookup")
	assert.Contains(t, results[0].Warnings[1], "insert")
}

func TestRun_SecondBatchHitsCache(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Cached text."}},
		Synthesizer: synth,
		Cache:       cache.NewMemoryCache(),
	}, pipeline.Options{})

	items := []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}}

	first := orchestrator.Run(context.Background(), items)
	second := orchestrator.Run(context.Background(), items)

	require.NoError(t, first[0].Err)
	require.NoError(t, second[0].Err)
	assert.False(t, first[0].CacheHit)
	assert.True(t, second[0].CacheHit)
	assert.Equal(t, 0, second[0].Attempts)
	assert.Equal(t, first[0].Artifact.Data, second[0].Artifact.Data)
	assert.Equal(t, 1, synth.calls())
}

func TestRun_ItemStyleOverridesDefault(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Styled."}},
		Synthesizer: synth,
	}, pipeline.Options{})

	fast := core.DefaultStyle()
	fast.Rate = core.RateFast

	results := orchestrator.Run(context.Background(), []core.WorkItem{
		{DocumentID: "doc", VoiceID: "v"},
		{DocumentID: "doc", VoiceID: "v", Style: &fast},
	})

	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.NotEqual(t, results[0].Key, results[1].Key)
	assert.Equal(t, 2, synth.calls())
}

func TestRun_InvalidItems(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text.", "blank": "   \n\n  "}},
		Synthesizer: synth,
	}, pipeline.Options{})

	bogus := core.DefaultStyle()
	bogus.Pitch = "squeaky"

	results := orchestrator.Run(context.Background(), []core.WorkItem{
		{DocumentID: "doc", VoiceID: "v", Style: &bogus},
		{DocumentID: "doc", VoiceID: ""},
		{DocumentID: "", VoiceID: "v"},
		{DocumentID: "blank", VoiceID: "v"},
	})

	require.ErrorIs(t, results[0].Err, core.ErrInvalidRequest)
	require.ErrorIs(t, results[0].Err, markup.ErrInvalidStyle)
	require.ErrorIs(t, results[1].Err, core.ErrInvalidRequest)
	require.ErrorIs(t, results[2].Err, core.ErrInvalidRequest)
	require.ErrorIs(t, results[3].Err, core.ErrEmptyInput)
	assert.Equal(t, 0, synth.calls())
}

func TestRun_SinkFailureIsPersistError(t *testing.T) {
	t.Parallel()

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text."}},
		Synthesizer: &fakeSynthesizer{},
		Sink:        &recordingSink{err: errors.New("read-only file system")},
	}, pipeline.Options{})

	results := orchestrator.Run(context.Background(), []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	require.ErrorIs(t, results[0].Err, core.ErrPersist)
	assert.Equal(t, "persist", core.ErrorKind(results[0].Err))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text."}},
		Synthesizer: synth,
	}, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := orchestrator.Run(ctx, []core.WorkItem{
		{DocumentID: "doc", VoiceID: "v"},
		{DocumentID: "doc", VoiceID: "w"},
	})

	require.Len(t, results, 2)

	for _, result := range results {
		require.ErrorIs(t, result.Err, context.Canceled)
		assert.Equal(t, "cancelled", core.ErrorKind(result.Err))
	}

	assert.Equal(t, 0, synth.calls())
}

func TestRun_CancelledMidFlightStopsRetrying(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	firstAttempt := make(chan struct{})
	synth := &fakeSynthesizer{behavior: func(_ context.Context, call int) (*core.AudioArtifact, error) {
		attempts.Add(1)

		if call == 1 {
			close(firstAttempt)
		}

		time.Sleep(20 * time.Millisecond)

		return nil, fmt.Errorf("%w: still warming up", core.ErrSynthesisUnavailable)
	}}

	orchestrator := newOrchestrator(t, pipeline.Dependencies{
		Ingestor:    &fakeIngestor{docs: map[core.DocumentID]string{"doc": "Text."}},
		Synthesizer: synth,
	}, pipeline.Options{
		MaxAttempts:          1000,
		RetryInitialInterval: 5 * time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-firstAttempt
		cancel()
	}()

	started := time.Now()
	results := orchestrator.Run(ctx, []core.WorkItem{{DocumentID: "doc", VoiceID: "v"}})

	assert.Less(t, time.Since(started), time.Second)
	require.ErrorIs(t, results[0].Err, context.Canceled)

	time.Sleep(100 * time.Millisecond)

	settled := attempts.Load()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, attempts.Load(), "no attempts after cancellation")
	assert.LessOrEqual(t, settled, int32(2))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	ingestor := &fakeIngestor{}
	synth := &fakeSynthesizer{}

	_, err := pipeline.New(pipeline.Dependencies{Synthesizer: synth}, pipeline.Options{}, log)
	require.ErrorIs(t, err, pipeline.ErrMissingIngestor)

	_, err = pipeline.New(pipeline.Dependencies{Ingestor: ingestor}, pipeline.Options{}, log)
	require.ErrorIs(t, err, pipeline.ErrMissingSynthesizer)

	_, err = pipeline.New(pipeline.Dependencies{Ingestor: ingestor, Synthesizer: synth}, pipeline.Options{}, nil)
	require.ErrorIs(t, err, pipeline.ErrMissingLogger)

	_, err = pipeline.New(
		pipeline.Dependencies{Ingestor: ingestor, Synthesizer: synth},
		pipeline.Options{MaxInFlight: -1},
		log,
	)
	require.ErrorIs(t, err, pipeline.ErrInvalidOptions)

	orchestrator, err := pipeline.New(pipeline.Dependencies{Ingestor: ingestor, Synthesizer: synth}, pipeline.Options{}, log)
	require.NoError(t, err)

	opts := orchestrator.Options()
	assert.Equal(t, pipeline.DefaultMaxInFlight, opts.MaxInFlight)
	assert.Equal(t, pipeline.DefaultMaxAttempts, opts.MaxAttempts)
	assert.Equal(t, core.DefaultStyle(), opts.DefaultStyle)
}
